// Package web3 holds the execution backend the agent talks to: a narrow
// chain client interface, an EVM implementation on top of go-ethereum, and a
// registry that builds clients from chain definitions. The agent only needs
// a reachable backend at initialization; executors use it for balance and
// nonce lookups and to broadcast pre-signed transactions.
package web3
