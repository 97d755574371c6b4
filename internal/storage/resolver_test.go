package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_PassthroughForPlainPath(t *testing.T) {
	r := NewResolver()
	resolved, err := r.Resolve("/data/a.tif")
	require.NoError(t, err)
	assert.Equal(t, "/data/a.tif", resolved)
}

func TestResolver_UnknownSchemePassesThrough(t *testing.T) {
	r := NewResolver()
	resolved, err := r.Resolve("ftp://host/a.tif")
	require.NoError(t, err)
	assert.Equal(t, "ftp://host/a.tif", resolved)
}

func TestResolver_DispatchesToRegisteredBackend(t *testing.T) {
	r := NewResolver(LocalBackend{})
	resolved, err := r.Resolve("file:///data/a.tif")
	require.NoError(t, err)
	assert.Equal(t, "/data/a.tif", resolved)
}

func TestOSSBackend_ResolveBuildsVsiossPath(t *testing.T) {
	b := NewOSSBackend("ak", "sk", "oss-cn-beijing.aliyuncs.com")
	resolved, err := b.Resolve("oss://my-bucket/source/a.tif")
	require.NoError(t, err)
	assert.Equal(t, "/vsioss/my-bucket/source/a.tif", resolved)
}

func TestOSSBackend_RejectsEmptyDescription(t *testing.T) {
	b := NewOSSBackend("ak", "sk", "endpoint")
	_, err := b.Resolve("oss://")
	assert.Error(t, err)
}
