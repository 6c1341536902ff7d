// Package ui holds the static assets served under /static/. Requests for
// them bypass the rate limiter.
package ui

import (
	"embed"
	"io/fs"
)

//go:embed all:static
var embedded embed.FS

// Static returns the asset tree rooted at the static directory.
func Static() fs.FS {
	sub, err := fs.Sub(embedded, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
