package main

import (
	"github.com/pkg/errors"

	"github.com/rasterpool/gomosaic/internal/cogbuild"
)

// runBuild discovers every source tiff under input, converts each to a
// tiled COG under output, and writes the aerial-view mosaic manifest
// next to them, ported from build.go's build().
func runBuild(input, output string, env storageEnv) (manifestPath string, err error) {
	sources, dests, err := env.findSourceTiffs(input, output)
	if err != nil {
		return "", errors.Wrap(err, "discovering source tiffs")
	}
	if len(sources) == 0 {
		return "", errors.Errorf("no tiffs found under %q", input)
	}

	log.WithField("count", len(sources)).Info("building COGs")
	manifestPath, err = cogbuild.BuildAll(sources, dests)
	if err != nil {
		return "", errors.Wrap(err, "building mosaic")
	}

	log.WithField("manifest", manifestPath).Info("build complete")
	return manifestPath, nil
}
