// Package agent contains the identity-gated admission and dispatch engine.
// Submitted tasks are admitted only when their signature verifies against the
// agent's DID, then run one at a time in priority order by a single dispatch
// loop that records, counts and alerts every outcome.
package agent
