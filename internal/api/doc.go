// Package api hosts the annotator's HTTP surface. Under the configured prefix
// (default /hsa-app):
//   - GET /static/* serves the browser assets.
//   - GET /annotator renders apps/annotator.html.tpl.
//   - GET /images/{name} returns the named image or attribute file.
//   - POST /images/{name} writes the request body verbatim to that name.
//
// At the root it also exposes /healthz, /readyz and /metrics.
package api
