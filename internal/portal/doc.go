// Package portal implements the node's configuration portal: a small HTTP
// API and WebSocket event stream served on the local network.
//
// This package provides:
//   - Health and connectivity status endpoints
//   - Reading and updating device settings (passwords are always masked)
//   - Reboot and factory reset requests, executed by the run loop
//   - JWT authentication with ticket-based WebSocket auth
//   - The Prometheus scrape endpoint
//
// # Security
//
// When no portal password is set the portal is open, matching a freshly
// flashed device. Once a password is set every route except health, login
// and metrics requires a bearer token.
//
// Actions never run on an HTTP goroutine. Reboot and factory reset are
// queued to the node and performed by its scheduler task.
package portal
