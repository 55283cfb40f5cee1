// Package backend provides the pluggable HTTP server implementations the
// annotator can run under. Every backend serves an http.Handler on a
// caller-supplied listener until its context is cancelled, then shuts down
// gracefully:
//   - nethttp: net/http.Server with a goroutine per connection.
//   - pooled:  net/http.Server behind a connection-limiting listener, the
//     analogue of a fixed thread-pool server.
//   - h2c:     cleartext HTTP/2 (prior knowledge or Upgrade) alongside HTTP/1.1.
//
// Names not in the registry resolve to ErrUnavailable, which the conformance
// child maps to its "backend unavailable" exit code.
package backend
