// Package web provides the embedded annotator assets: the page templates
// under views/ and the browser-side files under static/. A configured
// app.template_dir or app.static_dir on disk replaces the matching tree.
package web

import (
	"embed"
	"io/fs"
)

//go:embed views static
var assets embed.FS

// Views returns the template tree rooted at views/ (e.g. "apps/annotator.html.tpl").
func Views() fs.FS {
	return mustSub("views")
}

// Static returns the static file tree rooted at static/.
func Static() fs.FS {
	return mustSub("static")
}

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(assets, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
