package mosaicsvc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rasterpool/gomosaic/internal/cogbuild"
	"github.com/rasterpool/gomosaic/internal/geo"
)

func TestReadTile_OutsideCoverageReturnsNilWithoutError(t *testing.T) {
	m := &Mosaic{cache: newTileCache()}
	m.manifest.AerialView.Bbox = geo.BBox{XMin: 100, XMax: 110, YMin: 0, YMax: 10}
	m.manifest.AerialView.Width = 1000
	m.manifest.AerialView.Height = 1000

	// Tile 1/0/0 spans x -180..0, y 0..90: west of the aerial view.
	data, err := m.ReadTile(1, 0, 0)
	assert.NoError(t, err)
	assert.Nil(t, data)
}

func TestReadTileFromCOGs_SkipsNonOverlappingEntries(t *testing.T) {
	m := &Mosaic{
		cogs: []cogRef{
			{entry: cogbuild.CogEntry{Name: "far.tif", Bbox: geo.BBox{XMin: 100, XMax: 110, YMin: 0, YMax: 10}}},
		},
	}

	data, err := m.readTileFromCOGs(geo.BBox{XMin: -10, XMax: -5, YMin: -10, YMax: -5})
	assert.NoError(t, err)
	assert.Nil(t, data)
}
