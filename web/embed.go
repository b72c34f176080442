package web

import (
	"embed"
	"io/fs"
)

// StaticFiles embeds the entire web/static directory into the binary.
//
//go:embed static
var StaticFiles embed.FS

// Static returns the embedded files rooted at static/.
func Static() fs.FS {
	sub, err := fs.Sub(StaticFiles, "static")
	if err != nil {
		panic(err) // the directory is embedded above
	}
	return sub
}
