package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTileBBox_ZoomZeroCoversWholeWorld(t *testing.T) {
	bbox := TileBBox(0, 0, 0)
	assert.InDelta(t, -180.0, bbox.XMin, 1e-9)
	assert.InDelta(t, 180.0, bbox.XMax, 1e-9)
	assert.InDelta(t, -90.0, bbox.YMin, 1e-9)
	assert.InDelta(t, 90.0, bbox.YMax, 1e-9)
}

func TestIntersection_NonOverlappingYieldsDegenerateBox(t *testing.T) {
	a := BBox{XMin: 0, XMax: 1, YMin: 0, YMax: 1}
	b := BBox{XMin: 5, XMax: 6, YMin: 5, YMax: 6}
	got := Intersection(a, b)
	assert.Greater(t, got.XMin, got.XMax)
}

func TestOverlaps(t *testing.T) {
	a := BBox{XMin: 0, XMax: 10, YMin: 0, YMax: 10}
	b := BBox{XMin: 5, XMax: 15, YMin: 5, YMax: 15}
	c := BBox{XMin: 20, XMax: 30, YMin: 20, YMax: 30}

	assert.True(t, a.Overlaps(b))
	assert.False(t, a.Overlaps(c))
}

func TestPixelRange_FullExtentMapsToFullRaster(t *testing.T) {
	tif := BBox{XMin: 0, XMax: 100, YMin: 0, YMax: 100}
	xMin, yMin, xMax, yMax := PixelRange(tif, tif, 256, 256)
	assert.Equal(t, 0, xMin)
	assert.Equal(t, 0, yMin)
	assert.Equal(t, 256, xMax)
	assert.Equal(t, 256, yMax)
}

func TestRelativePath_RoundTripsViaAbsolutePath(t *testing.T) {
	rel := RelativePath("/data/out/mosaic.json", "/data/out/cogs/a.tif")
	assert.Equal(t, "cogs/a.tif", rel)

	abs := AbsolutePath("/data/out/mosaic.json", rel)
	assert.Equal(t, "/data/out/cogs/a.tif", abs)
}
