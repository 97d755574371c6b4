package rasterproxy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rasterpool/gomosaic/internal/datasetpool"
)

type noopOwners struct{}

func (noopOwners) Impersonate(id datasetpool.OwnerID) datasetpool.OwnerID { return id }
func (noopOwners) Restore(datasetpool.OwnerID)                            {}

type fixedConfig struct{ size int }

func (f fixedConfig) Int(string, int) int { return f.size }

type nilOpener struct{}

func (nilOpener) Open(string, datasetpool.AccessMode, []string) (datasetpool.Dataset, error) {
	return nil, nil
}
func (nilOpener) Close(datasetpool.Dataset) {}

func newTestHandle(t *testing.T) (*Handle, func()) {
	t.Helper()
	pool := datasetpool.Claim(nilOpener{}, noopOwners{}, fixedConfig{size: 4})
	h := NewHandle(pool, noopOwners{}, Options{
		Description: "a.tif",
		XSize:       10,
		YSize:       10,
	})
	return h, func() {
		h.Close()
	}
}

func TestHandle_ProjectionOverrideReturnedWithoutOpening(t *testing.T) {
	pool := datasetpool.Claim(nilOpener{}, noopOwners{}, fixedConfig{size: 4})
	defer datasetpool.Release()

	h := NewHandle(pool, noopOwners{}, Options{Description: "a.tif", Projection: "EPSG:4326"})
	defer h.Close()

	assert.Equal(t, "EPSG:4326", h.GetProjectionRef())
}

func TestHandle_NoProjectionOverrideMeansFlagUnset(t *testing.T) {
	pool := datasetpool.Claim(nilOpener{}, noopOwners{}, fixedConfig{size: 4})
	defer datasetpool.Release()

	h := NewHandle(pool, noopOwners{}, Options{Description: "a.tif"})
	defer h.Close()

	assert.False(t, h.hasProjOverride)
}

func TestHandle_SetOpenOptionsIsOneShot(t *testing.T) {
	h, cleanup := newTestHandle(t)
	defer cleanup()

	h.SetOpenOptions([]string{"NUM_THREADS=4"})
	assert.Panics(t, func() { h.SetOpenOptions([]string{"NUM_THREADS=8"}) })
}

func TestHandle_AddBandAssignsSequentialNumbers(t *testing.T) {
	h, cleanup := newTestHandle(t)
	defer cleanup()

	b1 := h.AddBand(0, 256, 256)
	b2 := h.AddBand(0, 256, 256)

	assert.Equal(t, 1, b1.number)
	assert.Equal(t, 2, b2.number)
	assert.Len(t, h.Bands(), 2)
}

func TestHandle_CloseIsIdempotent(t *testing.T) {
	h, _ := newTestHandle(t)
	h.Close()
	assert.NotPanics(t, func() { h.Close() })
}
