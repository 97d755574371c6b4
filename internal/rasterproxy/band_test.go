package rasterproxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newPlainBandForTest() *Band {
	return &Band{
		kind:              variantPlain,
		number:            1,
		metadataCache:     make(map[string][]string),
		metadataItemCache: make(map[string]string),
	}
}

func TestBand_OverviewAllocatesSparseSlotsAndCaches(t *testing.T) {
	b := newPlainBandForTest()

	ov2 := b.Overview(2)
	assert.NotNil(t, ov2)
	assert.Equal(t, variantOverview, ov2.kind)
	assert.Same(t, b, ov2.mainBand)
	assert.Equal(t, 2, ov2.overviewIndex)
	assert.Len(t, b.overviewSlots, 3)
	assert.Nil(t, b.overviewSlots[0])
	assert.Nil(t, b.overviewSlots[1])

	// Second access for the same index returns the cached proxy.
	again := b.Overview(2)
	assert.Same(t, ov2, again)
}

func TestBand_MaskIsAtMostOneAndCached(t *testing.T) {
	b := newPlainBandForTest()

	m1 := b.Mask()
	m2 := b.Mask()
	assert.Same(t, m1, m2)
	assert.Equal(t, variantMask, m1.kind)
	assert.Same(t, b, m1.mainBand)
}

func TestBand_GetRasterSampleOverviewIsNotImplemented(t *testing.T) {
	b := newPlainBandForTest()
	assert.ErrorIs(t, b.GetRasterSampleOverview(), ErrNotImplemented)
}

func TestBand_UnrefUnderlyingBandPanicsOnForeignRef(t *testing.T) {
	a := newPlainBandForTest()
	b := newPlainBandForTest()
	foreignRef := &Ref{band: b}

	assert.Panics(t, func() { a.UnrefUnderlyingBand(foreignRef) })
}
