// Package web holds the dashboard page of the monitor.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

//go:embed dist/*
var staticAssets embed.FS

// DevModeEnv names the environment variable that makes the monitor serve the
// dashboard from the source tree, so that edits show up without a rebuild.
const DevModeEnv = "MEMSIM_MONITOR_DEV"

// GetAssets returns the dashboard files.
func GetAssets() http.FileSystem {
	if isDevelopmentMode() {
		_, src, _, ok := runtime.Caller(0)
		if !ok {
			panic("error getting path")
		}

		assetPath := path.Join(path.Dir(src), "dist")
		logrus.Infof("serving monitor assets from %s", assetPath)

		return http.Dir(assetPath)
	}

	subFS, err := fs.Sub(staticAssets, "dist")
	if err != nil {
		panic(err)
	}

	return http.FS(subFS)
}

func isDevelopmentMode() bool {
	v, ok := os.LookupEnv(DevModeEnv)
	if !ok {
		return false
	}

	return strings.ToLower(v) == "true" || v == "1"
}
