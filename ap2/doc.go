// Package ap2 implements the mandate side of the Agent Payments Protocol:
// canonical hashing of checkout state, single-use nonces, the detached
// header.payload.signature mandate format, and issuance and verification of
// checkout and payment mandates.
//
// A merchant hashes the session with [Snapshot.Hash] and publishes a signed
// checkout signature via [Signer.IssueCheckoutMandate]. The platform answers
// with its own checkout mandate over the same hash, session id and nonce,
// and a payment processor supplies a payment mandate. [Verifier] checks both
// before an order may be placed.
package ap2
