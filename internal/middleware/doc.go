// Package middleware provides HTTP middleware for the control API.
//
// It includes:
//   - Request logging in W3C Extended Log Format
//   - Prometheus request metrics labelled by route template
//
// Both wrap the response writer in a way that still supports Flush and
// Hijack, so the websocket event stream can sit behind them.
package middleware
