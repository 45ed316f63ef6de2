// Package server wires the HTTP surface: the static site behind the
// optional Basic-auth gate, the observability endpoints outside it,
// and the middleware stack (correlation IDs, request logging, panic
// recovery, secure headers, metrics, optional rate and concurrency
// limits). Shutdown drains in-flight requests within the configured
// grace period.
package server
