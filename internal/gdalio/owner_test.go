package gdalio

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rasterpool/gomosaic/internal/datasetpool"
)

func TestNewOwnerID_IsUnique(t *testing.T) {
	a := NewOwnerID()
	b := NewOwnerID()
	assert.NotEqual(t, a, b)
}

func TestOwners_ImpersonateRestore(t *testing.T) {
	owners := NewOwners()
	owners.Impersonate(datasetpool.OwnerID(42))
	assert.Equal(t, datasetpool.OwnerID(42), owners.Current())

	prev := owners.Impersonate(datasetpool.OwnerID(7))
	assert.Equal(t, datasetpool.OwnerID(42), prev)
	assert.Equal(t, datasetpool.OwnerID(7), owners.Current())

	owners.Restore(prev)
	assert.Equal(t, datasetpool.OwnerID(42), owners.Current())
}
