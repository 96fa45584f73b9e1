// Package httputil provides shared HTTP response/request utilities for the
// coaching API handlers.
//
// Handlers use these helpers instead of raw http.ResponseWriter calls so the
// read surface and the admin surface share one JSON envelope and one error
// shape.
package httputil
