package storage

import (
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/lukeroth/gdal"
	"github.com/pkg/errors"
)

// OSSBackend resolves "oss://bucket/key" descriptions into GDAL's
// /vsioss/ virtual filesystem path, the same mechanism build.go's
// writeOssFile/buildGdalOssPath use, after configuring GDAL's OSS
// credentials the way setOssOptions does.
type OSSBackend struct {
	AccessKeyID     string
	AccessKeySecret string
	Endpoint        string
}

func NewOSSBackend(accessKeyID, accessKeySecret, endpoint string) *OSSBackend {
	return &OSSBackend{AccessKeyID: accessKeyID, AccessKeySecret: accessKeySecret, Endpoint: endpoint}
}

func (b *OSSBackend) Scheme() string { return "oss" }

func (b *OSSBackend) Resolve(description string) (string, error) {
	rest := strings.TrimPrefix(description, "oss://")
	if rest == "" {
		return "", errors.Errorf("storage: empty oss:// description")
	}

	gdal.CPLSetConfigOption("OSS_ACCESS_KEY_ID", b.AccessKeyID)
	gdal.CPLSetConfigOption("OSS_SECRET_ACCESS_KEY", b.AccessKeySecret)
	gdal.CPLSetConfigOption("OSS_ENDPOINT", b.Endpoint)
	gdal.CPLSetConfigOption("CPL_VSIL_USE_TEMP_FILE_FOR_RANDOM_WRITE", "YES")

	return "/vsioss/" + rest, nil
}

// ListTiffs enumerates objects under prefix in bucket whose key ends in
// .tif or .tiff, returning each as a /vsioss/ path. Grounded on dir.go's
// findOssFilesWithSuffixs, which does the same walk with the raw SDK
// client rather than going through GDAL.
func (b *OSSBackend) ListTiffs(bucketName, prefix string) ([]string, error) {
	client, err := oss.New(b.Endpoint, b.AccessKeyID, b.AccessKeySecret)
	if err != nil {
		return nil, errors.Wrap(err, "storage: creating oss client")
	}
	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, errors.Wrap(err, "storage: opening oss bucket")
	}

	var out []string
	marker := ""
	for {
		res, err := bucket.ListObjects(oss.MaxKeys(1000), oss.Prefix(prefix), oss.Marker(marker))
		if err != nil {
			return nil, errors.Wrap(err, "storage: listing oss objects")
		}
		for _, object := range res.Objects {
			lower := strings.ToLower(object.Key)
			if strings.HasSuffix(lower, ".tif") || strings.HasSuffix(lower, ".tiff") {
				out = append(out, "/vsioss/"+bucketName+"/"+object.Key)
			}
		}
		if !res.IsTruncated {
			break
		}
		marker = res.NextMarker
	}
	return out, nil
}
