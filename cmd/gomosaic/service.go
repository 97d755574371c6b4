package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rasterpool/gomosaic/internal/datasetpool"
	"github.com/rasterpool/gomosaic/internal/gdalio"
	"github.com/rasterpool/gomosaic/internal/mosaicsvc"
)

// runService claims the process-wide dataset pool, opens the mosaic
// manifest at jsonPath, and serves /tiles/:z/:x/:y.png tiles over HTTP,
// ported from service.go's service().
func runService(jsonPath, addr string, env storageEnv) error {
	if env.useOSS {
		gdalio.SetOSSCredentials(env.accessKeyID, env.accessKeySecret, env.endpoint)
	}

	resolver, err := env.newResolver()
	if err != nil {
		return errors.Wrap(err, "building storage resolver")
	}
	opener := gdalio.NewOpener(resolver)
	owners := gdalio.NewOwners()
	config := gdalio.Config{}

	pool := datasetpool.Claim(opener, owners, config)
	defer datasetpool.Release()

	owner := gdalio.NewOwnerID()
	mosaic, err := mosaicsvc.Open(pool, owners, owner, jsonPath)
	if err != nil {
		return errors.Wrapf(err, "opening mosaic %q", jsonPath)
	}
	defer mosaic.Close()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), logrusRequestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/mosaic/build", func(c *gin.Context) {
		input := c.Query("input")
		output := c.Query("output")
		if input == "" || output == "" {
			c.String(http.StatusBadRequest, "input and output query parameters are required")
			return
		}
		manifestPath, err := runBuild(input, output, env)
		if err != nil {
			log.WithError(err).Warn("on-demand mosaic build failed")
			c.String(http.StatusInternalServerError, "build failed: %s", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"manifest": manifestPath})
	})

	r.GET("/tiles/:z/:x/:y", func(c *gin.Context) {
		z, err := strconv.Atoi(c.Param("z"))
		if err != nil {
			c.String(http.StatusBadRequest, "invalid zoom level")
			return
		}
		x, err := strconv.Atoi(c.Param("x"))
		if err != nil {
			c.String(http.StatusBadRequest, "invalid x coordinate")
			return
		}
		yParam := strings.TrimSuffix(c.Param("y"), ".png")
		y, err := strconv.Atoi(yParam)
		if err != nil {
			c.String(http.StatusBadRequest, "invalid y coordinate")
			return
		}

		imageData, err := mosaic.ReadTile(z, x, y)
		if err != nil {
			log.WithError(err).WithField("tile", []int{z, x, y}).Warn("reading tile failed")
			c.String(http.StatusInternalServerError, "error generating image")
			return
		}
		if imageData == nil {
			c.Status(http.StatusNoContent)
			return
		}
		c.Data(http.StatusOK, "image/png", imageData)
	})

	return r.Run(addr)
}

// logrusRequestLogger replaces gin's default stdlib-backed access log
// with one routed through the same structured logrus.Entry every other
// package in this module logs through.
func logrusRequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("handled request")
	}
}
