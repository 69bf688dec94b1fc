// Package ui serves the portal's settings page as an embedded asset.
//
// The page is plain HTML and JavaScript talking to the portal API, so the
// node has no runtime dependency on files outside its binary.
package ui

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
)

//go:embed web/*
var content embed.FS

// Handler returns an http.Handler for the settings page.
//
// When dir names an existing directory, assets are served from it so the
// page can be edited without rebuilding. Otherwise the embedded copy is
// used. Unknown paths get index.html.
func Handler(dir string) http.Handler {
	var fileSystem http.FileSystem
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			fileSystem = http.Dir(dir)
		}
	}
	if fileSystem == nil {
		webFS, err := fs.Sub(content, "web")
		if err != nil {
			panic(fmt.Sprintf("ui: embedded assets missing: %v", err))
		}
		fileSystem = http.FS(webFS)
	}

	fileServer := http.FileServer(fileSystem)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		upath := path.Clean(r.URL.Path)
		if upath != "/" && upath != "." {
			f, err := fileSystem.Open(upath[1:])
			if err != nil {
				r.URL.Path = "/"
			} else {
				f.Close()
			}
		}
		fileServer.ServeHTTP(w, r)
	})
}
