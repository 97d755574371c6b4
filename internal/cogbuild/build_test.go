package cogbuild

import (
	"testing"

	"github.com/lukeroth/gdal"
	"github.com/stretchr/testify/assert"

	"github.com/rasterpool/gomosaic/internal/geo"
)

func TestDataTypeSize(t *testing.T) {
	assert.Equal(t, 1, dataTypeSize(gdal.Byte))
	assert.Equal(t, 2, dataTypeSize(gdal.UInt16))
	assert.Equal(t, 4, dataTypeSize(gdal.Float32))
	assert.Equal(t, 8, dataTypeSize(gdal.Float64))
}

func TestIntersection_OverlappingBoxesYieldNonDegenerateExtent(t *testing.T) {
	// calcAerialViewInfos and datasetBounds both operate on live
	// gdal.Dataset handles and are exercised end-to-end by BuildAerialView;
	// unit-level coverage here is limited to the pure geo.Intersection helper.
	bbox := geo.BBox{XMin: 0, XMax: 10, YMin: 0, YMax: 10}
	other := geo.BBox{XMin: 5, XMax: 20, YMin: 5, YMax: 20}
	overlap := geo.Intersection(bbox, other)
	assert.LessOrEqual(t, overlap.XMin, overlap.XMax)
}

func TestBuildAerialView_RejectsEmptyInput(t *testing.T) {
	_, err := BuildAerialView(nil)
	assert.Error(t, err)
}

func TestBuildAll_RejectsMismatchedLengths(t *testing.T) {
	_, err := BuildAll([]string{"a.tif"}, nil)
	assert.Error(t, err)
}
