// Package integration holds end-to-end tests that run the full server and
// drive it over WebSocket and HTTP.
package integration
