// Package geo carries the geographic bounding-box and pixel-mapping
// helpers pampa0629-gomosaic's base.go implements on raw gdal.Dataset
// values, generalized to operate on rasterproxy.Handle so a working set
// of proxies can be composed into a mosaic without each one staying open.
package geo

import (
	"math"
	"path/filepath"

	"github.com/rasterpool/gomosaic/internal/rasterproxy"
)

// BBox is a geographic extent in the dataset's native coordinate system.
type BBox struct {
	XMin float64 `json:"xmin"`
	XMax float64 `json:"xmax"`
	YMin float64 `json:"ymin"`
	YMax float64 `json:"ymax"`
}

// TileBBox computes the geographic extent of an XYZ slippy-map tile,
// ported unchanged from base.go's CalcBBox.
func TileBBox(z, x, y int) BBox {
	xDis := 360.0 / math.Pow(2, float64(z))
	yDis := 180.0 / math.Pow(2, float64(z))

	var bbox BBox
	bbox.XMin = float64(x)*xDis - 180.0
	bbox.XMax = bbox.XMin + xDis
	bbox.YMax = 90 - float64(y)*yDis
	bbox.YMin = bbox.YMax - yDis
	return bbox
}

// Intersection returns the overlapping extent of a and b. Callers must
// check for a degenerate (XMin>XMax or YMin>YMax) result themselves if
// the boxes might not overlap at all.
func Intersection(a, b BBox) BBox {
	return BBox{
		XMin: math.Max(a.XMin, b.XMin),
		XMax: math.Min(a.XMax, b.XMax),
		YMin: math.Max(a.YMin, b.YMin),
		YMax: math.Min(a.YMax, b.YMax),
	}
}

// Overlaps reports whether a and b share any area.
func (b BBox) Overlaps(other BBox) bool {
	return !(b.XMax < other.XMin || b.XMin > other.XMax || b.YMax < other.YMin || b.YMin > other.YMax)
}

// PixelRange computes the pixel rectangle within a width x height raster
// covering tifBbox that corresponds to the intersection of bbox and
// tifBbox, ported from base.go's CalcPixelRange.
func PixelRange(bbox, tifBbox BBox, width, height int) (xMin, yMin, xMax, yMax int) {
	intersection := Intersection(bbox, tifBbox)

	xMin = int((intersection.XMin - tifBbox.XMin) / (tifBbox.XMax - tifBbox.XMin) * float64(width))
	yMin = int((tifBbox.YMax - intersection.YMax) / (tifBbox.YMax - tifBbox.YMin) * float64(height))
	xMax = int((intersection.XMax - tifBbox.XMin) / (tifBbox.XMax - tifBbox.XMin) * float64(width))
	yMax = int((tifBbox.YMax - intersection.YMin) / (tifBbox.YMax - tifBbox.YMin) * float64(height))
	return
}

// DatasetBounds derives a BBox from a proxy handle's geotransform and
// advertised dimensions without opening the underlying dataset unless
// the geotransform has not been overridden.
func DatasetBounds(h *rasterproxy.Handle, xSize, ySize int) BBox {
	gt := h.GetGeoTransform()
	var bbox BBox
	bbox.XMin = gt[0]
	bbox.YMax = gt[3]
	bbox.XMax = gt[0] + gt[1]*float64(xSize)
	bbox.YMin = gt[3] + gt[5]*float64(ySize)
	return bbox
}

// GeoTransformFor derives the affine geotransform a width x height raster
// covering bbox would have, the inverse of DatasetBounds. mosaicsvc uses
// this to pass a GeoTransform override into rasterproxy.Options when the
// extent is already known from a mosaic manifest, so the geotransform can
// be read back without materializing the underlying dataset.
func GeoTransformFor(bbox BBox, width, height int) [6]float64 {
	return [6]float64{
		bbox.XMin, (bbox.XMax - bbox.XMin) / float64(width), 0,
		bbox.YMax, 0, (bbox.YMin - bbox.YMax) / float64(height),
	}
}

// RelativePath and AbsolutePath are ported unchanged from base.go/dir.go
// (both teacher files defined identical copies); mosaic.json references
// source tiffs by path relative to itself.
func RelativePath(basePath, targetPath string) string {
	dir := filepath.Dir(basePath)
	rel, err := filepath.Rel(dir, targetPath)
	if err != nil {
		return targetPath
	}
	return rel
}

func AbsolutePath(basePath, relPath string) string {
	dir := filepath.Dir(basePath)
	abs := filepath.Clean(filepath.Join(dir, relPath))
	return filepath.ToSlash(abs)
}
