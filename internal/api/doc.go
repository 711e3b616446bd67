// Package api exposes the HTTP admission surface: signed task submission,
// the pending queue, agent status, recorded dispatch outcomes and metrics.
package api
