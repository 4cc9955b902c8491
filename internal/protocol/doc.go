// Package protocol owns the wire contract and its error taxonomy.
//
// Ownership boundary:
// - frame: title/payload frame codec
// - shared sentinel errors used by endpoint, registry and adapters
package protocol
