// Package handlers provides the HTTP control API for the miner.
//
// It includes handlers for:
//   - Health, liveness and readiness probes
//   - Listing, adding and removing watched roots
//   - Reading and changing the throttle
//   - Engine status, recrawl, indexed resource lookup and stats
//   - A websocket stream of miner notifications
package handlers
