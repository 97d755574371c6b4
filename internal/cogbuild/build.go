// Package cogbuild builds cloud-optimized GeoTIFFs and a low-resolution
// aerial-view mosaic from a directory (or OSS prefix) of source tiffs,
// ported from pampa0629-gomosaic's build.go. Building opens gdal.Dataset
// values directly rather than going through rasterproxy/datasetpool: the
// pool exists to bound *serving-time* concurrent opens of a working set
// of tiles (internal/mosaicsvc), not the one-shot batch transform done
// here, which is exactly the raster I/O/overview-computation machinery
// the dataset pool specification names as out of scope for its own core.
package cogbuild

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/lukeroth/gdal"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rasterpool/gomosaic/internal/geo"
)

var log = logrus.WithField("component", "cogbuild")

// TileSize bounds the pyramid's top level, matching the teacher's
// TILE_SIZE constant shared between the build and serving paths.
const TileSize = 256

// COGOptions controls GDAL's Create/CreateCopy driver options, matching
// build.go's hardcoded COG creation options exactly.
var COGOptions = []string{"TILED=YES", "COMPRESS=DEFLATE", "COPY_SRC_OVERVIEWS=YES"}

// Manifest is the on-disk mosaic.json shape, ported from mosaic.go's
// MosaicJson/COG types.
type Manifest struct {
	AerialView struct {
		Name   string    `json:"name"`
		Bbox   geo.BBox  `json:"bbox"`
		Width  int       `json:"width"`
		Height int       `json:"height"`
	} `json:"aerialView"`
	Cogs []CogEntry `json:"cogs"`
}

type CogEntry struct {
	Name   string   `json:"name"`
	Bbox   geo.BBox `json:"bbox"`
	Width  int      `json:"width"`
	Height int      `json:"height"`
}

// BuildAll converts every source tiff to a tiled COG in parallel,
// ported from build.go's cog_all/cog_one, then assembles the aerial
// view and writes the manifest next to it.
func BuildAll(sources, dests []string) (manifestPath string, err error) {
	if len(sources) != len(dests) {
		return "", errors.Errorf("cogbuild: sources/dests length mismatch (%d vs %d)", len(sources), len(dests))
	}

	cogAll(sources, dests)

	return BuildAerialView(dests)
}

// cogAll runs CogOne across a worker pool sized to a fraction of
// available CPUs, ported verbatim in shape from build.go's cog_all
// (channel-of-job-indices plus a WaitGroup).
func cogAll(sources, dests []string) {
	numCPU := int(float32(runtime.NumCPU()) * 0.7)
	if numCPU < 1 {
		numCPU = 1
	}

	numJobs := len(sources)
	workers := numCPU
	if numJobs < workers {
		workers = numJobs
	}
	if workers < 1 {
		return
	}

	jobs := make(chan int, workers)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := CogOne(sources[job], dests[job]); err != nil {
					log.WithError(err).WithField("source", sources[job]).Error("cogbuild: converting tiff to COG failed")
				}
			}
		}()
	}

	for i := 0; i < numJobs; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}

// CogOne converts a single source tiff into a tiled, overview-bearing
// COG at output, ported from build.go's cog_one.
func CogOne(input, output string) error {
	inputDataset, err := gdal.Open(input, gdal.ReadOnly)
	if err != nil {
		return errors.Wrapf(err, "cogbuild: opening %q", input)
	}
	defer inputDataset.Close()

	driver := inputDataset.Driver()
	outputDataset := driver.CreateCopy(output, inputDataset, 1, COGOptions, nil, nil)
	defer outputDataset.Close()

	if err := BuildOverviews(outputDataset); err != nil {
		return errors.Wrapf(err, "cogbuild: building overviews for %q", output)
	}
	return nil
}

// BuildOverviews builds a NEAREST-resampled pyramid whose top level fits
// within TileSize, ported from build.go's buildOverviews.
func BuildOverviews(dataset gdal.Dataset) error {
	xSize := dataset.RasterXSize()
	ySize := dataset.RasterYSize()
	maxSize := math.Max(float64(xSize), float64(ySize))

	levels := 0
	var overviews []int
	for maxSize > TileSize {
		maxSize /= 2
		levels++
		overviews = append(overviews, 1<<levels)
	}
	if len(overviews) == 0 {
		return nil
	}

	bandCount := dataset.RasterCount()
	bands := make([]int, bandCount)
	for i := range bands {
		bands[i] = i + 1
	}

	return dataset.BuildOverviews("NEAREST", levels, overviews, bandCount, bands,
		func(complete float64, message string, progressArg interface{}) int { return 1 }, nil)
}

// BuildAerialView composes a single low-resolution COG spanning every
// input tiff's extent, ported from build.go's buildAerialView.
func BuildAerialView(tiffs []string) (string, error) {
	if len(tiffs) == 0 {
		return "", errors.New("cogbuild: no tiffs to compose an aerial view from")
	}

	datasets := make([]gdal.Dataset, 0, len(tiffs))
	for _, tiff := range tiffs {
		ds, err := gdal.Open(tiff, gdal.ReadOnly)
		if err != nil {
			return "", errors.Wrapf(err, "cogbuild: opening %q", tiff)
		}
		datasets = append(datasets, ds)
	}
	defer func() {
		for _, ds := range datasets {
			ds.Close()
		}
	}()

	destDir := filepath.Dir(tiffs[0])
	output := filepath.Join(destDir, "AerialView.tif")

	bbox, xSize, ySize := calcAerialViewInfos(datasets)
	xRes := (bbox.XMax - bbox.XMin) / float64(xSize)
	yRes := (bbox.YMax - bbox.YMin) / float64(ySize)

	bandCount := datasets[0].RasterCount()
	dataType := datasets[0].RasterBand(1).RasterDataType()
	driver := datasets[0].Driver()

	outDataset := driver.Create(output, xSize, ySize, bandCount, dataType, COGOptions)
	defer outDataset.Close()

	setMetadata(outDataset, datasets[0], bbox, xSize, ySize)

	for _, ds := range datasets {
		if err := writeTopOverview(outDataset, ds, xRes, yRes, bbox.XMin, bbox.YMax); err != nil {
			return "", errors.Wrap(err, "cogbuild: compositing aerial view")
		}
	}

	if err := BuildOverviews(outDataset); err != nil {
		return "", errors.Wrap(err, "cogbuild: building aerial view overviews")
	}

	manifestPath, err := writeManifest(tiffs, datasets, output, outDataset)
	if err != nil {
		return "", err
	}
	return manifestPath, nil
}

func dataTypeSize(dataType gdal.DataType) int {
	switch dataType {
	case gdal.Byte:
		return 1
	case gdal.UInt16, gdal.Int16:
		return 2
	case gdal.UInt32, gdal.Int32, gdal.Float32:
		return 4
	case gdal.Float64:
		return 8
	default:
		log.WithField("data_type", dataType).Warn("cogbuild: unknown data type")
		return 0
	}
}

func writeTopOverview(outDataset, dataset gdal.Dataset, xRes, yRes, xMin, yMax float64) error {
	dtBbox := geo.BBox{}
	gt := dataset.GeoTransform()
	xSizeSrc := dataset.RasterXSize()
	ySizeSrc := dataset.RasterYSize()
	dtBbox.XMin = gt[0]
	dtBbox.YMax = gt[3]
	dtBbox.XMax = gt[0] + gt[1]*float64(xSizeSrc)
	dtBbox.YMin = gt[3] + gt[5]*float64(ySizeSrc)

	xOff := int(math.Round((dtBbox.XMin - xMin) / xRes))
	yOff := int(math.Round((yMax - dtBbox.YMax) / yRes))

	dataType := dataset.RasterBand(1).RasterDataType()
	bandCount := dataset.RasterCount()

	for i := 1; i <= bandCount; i++ {
		band := dataset.RasterBand(i)
		overview := band.Overview(band.OverviewCount() - 1)
		xOvSize := overview.XSize()
		yOvSize := overview.YSize()

		data := make([]uint8, xOvSize*yOvSize*dataTypeSize(dataType))
		if err := overview.IO(gdal.Read, 0, 0, xOvSize, yOvSize, data, xOvSize, yOvSize, 0, 0); err != nil {
			return errors.Wrapf(err, "cogbuild: reading overview for band %d", i)
		}

		outBand := outDataset.RasterBand(i)
		if err := outBand.IO(gdal.Write, xOff, yOff, xOvSize, yOvSize, data, xOvSize, yOvSize, 0, 0); err != nil {
			return errors.Wrapf(err, "cogbuild: writing aerial view band %d", i)
		}
	}
	return nil
}

func setMetadata(dataset, srcDataset gdal.Dataset, bbox geo.BBox, xSize, ySize int) {
	gt := [6]float64{
		bbox.XMin, (bbox.XMax - bbox.XMin) / float64(xSize), 0,
		bbox.YMax, 0, (bbox.YMin - bbox.YMax) / float64(ySize),
	}
	dataset.SetGeoTransform(gt)
	dataset.SetProjection(srcDataset.Projection())

	nodata, valid := srcDataset.RasterBand(1).NoDataValue()
	if valid {
		for i := 1; i <= dataset.RasterCount(); i++ {
			dataset.RasterBand(i).SetNoDataValue(nodata)
		}
	}
}

func calcAerialViewInfos(datasets []gdal.Dataset) (bbox geo.BBox, xSize, ySize int) {
	bbox = datasetBounds(datasets[0])
	width := bbox.XMax - bbox.XMin
	height := bbox.YMax - bbox.YMin

	for i := 1; i < len(datasets); i++ {
		dtBbox := datasetBounds(datasets[i])
		bbox.XMin = math.Min(bbox.XMin, dtBbox.XMin)
		bbox.XMax = math.Max(bbox.XMax, dtBbox.XMax)
		bbox.YMin = math.Min(bbox.YMin, dtBbox.YMin)
		bbox.YMax = math.Max(bbox.YMax, dtBbox.YMax)
	}

	xCount := int(math.Round((bbox.XMax - bbox.XMin) / width))
	yCount := int(math.Round((bbox.YMax - bbox.YMin) / height))

	band := datasets[0].RasterBand(1)
	ovCount := band.OverviewCount()
	if ovCount > 0 {
		overview := band.Overview(ovCount - 1)
		xSize = xCount * overview.XSize()
		ySize = yCount * overview.YSize()
	} else {
		log.Warn("cogbuild: dataset has no overviews, aerial view will use full resolution")
		xSize = xCount * datasets[0].RasterXSize()
		ySize = yCount * datasets[0].RasterYSize()
	}
	return
}

func datasetBounds(dataset gdal.Dataset) geo.BBox {
	xSize := dataset.RasterXSize()
	ySize := dataset.RasterYSize()
	gt := dataset.GeoTransform()

	var bbox geo.BBox
	bbox.XMin = gt[0]
	bbox.YMax = gt[3]
	bbox.XMax = gt[0] + gt[1]*float64(xSize)
	bbox.YMin = gt[3] + gt[5]*float64(ySize)
	return bbox
}

func writeManifest(dests []string, datasets []gdal.Dataset, avTiff string, avDataset gdal.Dataset) (string, error) {
	destDir := filepath.Dir(avTiff)
	output := filepath.Join(destDir, "mosaic.json")

	var manifest Manifest
	manifest.AerialView.Name = geo.RelativePath(output, avTiff)
	manifest.AerialView.Bbox = datasetBounds(avDataset)
	manifest.AerialView.Width = avDataset.RasterXSize()
	manifest.AerialView.Height = avDataset.RasterYSize()

	for i, dest := range dests {
		manifest.Cogs = append(manifest.Cogs, CogEntry{
			Name:   geo.RelativePath(output, dest),
			Bbox:   datasetBounds(datasets[i]),
			Width:  datasets[i].RasterXSize(),
			Height: datasets[i].RasterYSize(),
		})
	}

	data, err := json.MarshalIndent(manifest, "", "\t")
	if err != nil {
		return "", errors.Wrap(err, "cogbuild: marshaling manifest")
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "cogbuild: writing manifest to %q", output)
	}
	return output, nil
}
