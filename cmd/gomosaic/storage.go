package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/rasterpool/gomosaic/internal/storage"
)

// storageEnv carries the OSS and S3 credentials main.go parses from
// flags, grounded on main.go's own flat -oss/-ak/-sk/-ep/-b parameters
// extended with the s3-specific ones this module adds.
type storageEnv struct {
	useOSS          bool
	accessKeyID     string
	accessKeySecret string
	endpoint        string
	bucket          string

	useS3       bool
	s3Endpoint  string
	s3AccessKey string
	s3SecretKey string
	s3Scratch   string
	s3Secure    bool
}

// newResolver builds the storage.Resolver every backend shares, ported
// from build.go/service.go's ad hoc OSS config calls scattered through
// the teacher's code into one place, and extended with an s3:// backend
// when the caller configured one.
func (e storageEnv) newResolver() (*storage.Resolver, error) {
	backends := []storage.Backend{
		storage.NewOSSBackend(e.accessKeyID, e.accessKeySecret, e.endpoint),
		storage.LocalBackend{},
	}
	if e.useS3 {
		s3Backend, err := storage.NewS3Backend(e.s3Endpoint, e.s3AccessKey, e.s3SecretKey, e.s3Scratch, e.s3Secure)
		if err != nil {
			return nil, errors.Wrap(err, "creating s3 backend")
		}
		backends = append(backends, s3Backend)
	}
	return storage.NewResolver(backends...), nil
}

var tiffSuffixes = []string{".tif", ".tiff"}

// findSourceTiffs discovers input tiffs and computes where each one's
// COG counterpart belongs under output, ported from dir.go's
// getTiffFilesInDirectory.
func (e storageEnv) findSourceTiffs(input, output string) (sources, dests []string, err error) {
	if e.useOSS {
		backend := storage.NewOSSBackend(e.accessKeyID, e.accessKeySecret, e.endpoint)
		sources, err = backend.ListTiffs(e.bucket, input)
		if err != nil {
			return nil, nil, errors.Wrap(err, "listing oss source tiffs")
		}
		outputPrefix := "/vsioss/" + e.bucket + "/" + strings.TrimSuffix(output, "/") + "/"
		for _, tiff := range sources {
			dests = append(dests, outputPrefix+filepath.Base(tiff))
		}
		return sources, dests, nil
	}

	err = filepath.Walk(input, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		lower := strings.ToLower(path)
		for _, suffix := range tiffSuffixes {
			if strings.HasSuffix(lower, suffix) {
				sources = append(sources, path)
				dests = append(dests, filepath.Join(output, filepath.Base(path)))
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "walking %q", input)
	}
	return sources, dests, nil
}
