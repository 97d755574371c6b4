package gdalio

import (
	"strconv"

	"github.com/lukeroth/gdal"
)

// Config implements datasetpool.ConfigSource over GDAL's own CPL
// configuration option store, the same mechanism build.go already uses
// for GDAL_CACHEMAX-style tuning and for stashing OSS credentials
// (setOssOptions/getOssOptions).
type Config struct{}

func (Config) Int(key string, def int) int {
	raw := gdal.CPLGetConfigOption(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// SetInt stores an integer as a CPL config option, e.g. for tests or a
// CLI flag that wants to override GDAL_MAX_DATASET_POOL_SIZE before the
// pool singleton is first claimed.
func SetInt(key string, value int) {
	gdal.CPLSetConfigOption(key, strconv.Itoa(value))
}

// SetOSSCredentials mirrors build.go's setOssOptions: it configures
// GDAL's /vsioss/ virtual filesystem driver so that oss:// storage
// descriptions resolved to /vsioss/... paths can be opened directly by
// gdal.Open without a separate download step.
func SetOSSCredentials(accessKeyID, accessKeySecret, endpoint string) {
	gdal.CPLSetConfigOption("OSS_ACCESS_KEY_ID", accessKeyID)
	gdal.CPLSetConfigOption("OSS_SECRET_ACCESS_KEY", accessKeySecret)
	gdal.CPLSetConfigOption("OSS_ENDPOINT", endpoint)
	gdal.CPLSetConfigOption("CPL_VSIL_USE_TEMP_FILE_FOR_RANDOM_WRITE", "YES")
}
