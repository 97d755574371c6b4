// Package gdalio wires the generic datasetpool/rasterproxy packages to
// the real GDAL binding, the way pampa0629-gomosaic's build.go talks to
// gdal.Open/Driver/CPLSetConfigOption directly.
package gdalio

import (
	"strings"

	"github.com/lukeroth/gdal"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rasterpool/gomosaic/internal/datasetpool"
	"github.com/rasterpool/gomosaic/internal/storage"
)

var log = logrus.WithField("component", "gdalio")

// Opener adapts gdal.Open to datasetpool.Opener, resolving storage
// backends (oss://, s3://) into GDAL-openable paths before opening.
type Opener struct {
	Resolver *storage.Resolver
}

func NewOpener(resolver *storage.Resolver) *Opener {
	return &Opener{Resolver: resolver}
}

// Open implements datasetpool.Opener. GDAL's own Go binding has no
// OpenEx/open-options parameter in the surface this module's pack
// confirms (pampa0629-gomosaic's build.go only ever calls gdal.Open with
// two arguments); open options are instead shimmed through process-wide
// CPL config options for the duration of the call (see withOpenOptions).
func (o *Opener) Open(description string, access datasetpool.AccessMode, openOptions []string) (datasetpool.Dataset, error) {
	path := description
	if o.Resolver != nil {
		resolved, err := o.Resolver.Resolve(description)
		if err != nil {
			return nil, errors.Wrapf(err, "gdalio: resolving %q", description)
		}
		path = resolved
	}

	mode := toGDALAccess(access)

	restore := withOpenOptions(openOptions)
	defer restore()

	ds, err := gdal.Open(path, mode)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("gdal open failed")
		return nil, errors.Wrapf(err, "gdalio: open %q", path)
	}
	return ds, nil
}

// Close implements datasetpool.Opener.
func (o *Opener) Close(ds datasetpool.Dataset) {
	dataset := ds.(gdal.Dataset)
	dataset.Close()
}

func toGDALAccess(access datasetpool.AccessMode) gdal.Access {
	if access == datasetpool.Update {
		return gdal.Update
	}
	return gdal.ReadOnly
}

// withOpenOptions sets each "KEY=VALUE" pair in openOptions as a CPL
// config option for the duration of the returned restore call, mirroring
// the pattern build.go uses for OSS credentials
// (setOssOptions/getOssOptions), generalized to arbitrary open options
// since there is no confirmed OpenEx binding to pass them through
// directly.
func withOpenOptions(openOptions []string) (restore func()) {
	if len(openOptions) == 0 {
		return func() {}
	}

	type kv struct{ key, prev string }
	var saved []kv
	for _, opt := range openOptions {
		key, value, ok := strings.Cut(opt, "=")
		if !ok {
			continue
		}
		prev := gdal.CPLGetConfigOption(key, "")
		saved = append(saved, kv{key: key, prev: prev})
		gdal.CPLSetConfigOption(key, value)
	}

	return func() {
		for _, s := range saved {
			gdal.CPLSetConfigOption(s.key, s.prev)
		}
	}
}
