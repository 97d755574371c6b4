// Command gomosaic builds and serves cloud-optimized-GeoTIFF mosaics,
// ported from pampa0629-gomosaic's main.go. The service subcommand opens
// datasets through a storage.Resolver for local/oss/s3-prefixed paths;
// the build subcommand walks a local directory or lists an OSS prefix
// and opens its tiffs with GDAL directly.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "cmd/gomosaic")

func main() {
	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	subCmd := os.Args[1]
	os.Args = append(os.Args[:1], os.Args[2:]...)

	fs := flag.NewFlagSet(subCmd, flag.ExitOnError)
	input := fs.String("i", "", "input directory or oss://bucket/prefix")
	output := fs.String("o", "", "output directory or oss://bucket/prefix (build only)")
	addr := fs.String("addr", ":8080", "listen address (service only)")
	useOSS := fs.Bool("oss", false, "input/output live in Alibaba OSS")
	accessKeyID := fs.String("ak", "", "OSS access key id")
	accessKeySecret := fs.String("sk", "", "OSS access key secret")
	endpoint := fs.String("ep", "", "OSS endpoint")
	bucket := fs.String("b", "", "OSS bucket")
	useS3 := fs.Bool("s3", false, "an s3:// description is in play")
	s3Endpoint := fs.String("s3-ep", "", "S3-compatible endpoint")
	s3AccessKey := fs.String("s3-ak", "", "S3 access key")
	s3SecretKey := fs.String("s3-sk", "", "S3 secret key")
	s3Scratch := fs.String("s3-scratch", "", "scratch directory for s3:// downloads")
	s3Secure := fs.Bool("s3-secure", false, "use TLS against the S3 endpoint")

	if err := fs.Parse(os.Args[1:]); err != nil {
		log.WithError(err).Fatal("parsing flags")
	}

	env := storageEnv{
		useOSS:          *useOSS,
		accessKeyID:     *accessKeyID,
		accessKeySecret: *accessKeySecret,
		endpoint:        *endpoint,
		bucket:          *bucket,
		useS3:           *useS3,
		s3Endpoint:      *s3Endpoint,
		s3AccessKey:     *s3AccessKey,
		s3SecretKey:     *s3SecretKey,
		s3Scratch:       *s3Scratch,
		s3Secure:        *s3Secure,
	}

	switch subCmd {
	case "build":
		if _, err := runBuild(*input, *output, env); err != nil {
			log.WithError(err).Fatal("build failed")
		}
	case "service":
		if err := runService(*input, *addr, env); err != nil {
			log.WithError(err).Fatal("service failed")
		}
	case "help":
		help()
	default:
		help()
		os.Exit(1)
	}
}

func help() {
	fmt.Println(`gomosaic help                          show this help
gomosaic build -i input -o output      build a mosaic from a directory of tiffs
gomosaic service -i mosaic.json        serve tiles from a built mosaic
For an OSS-backed input/output, also pass -oss -ak -sk -ep -b
For an s3:// source in the manifest, also pass -s3 -s3-ep -s3-ak -s3-sk`)
}
