// Package daemonservice assembles the daemon: it builds the handshake and
// delivery cores over one store set, owns the transport node and the
// notification hub, and runs the retry scheduler.
//
// Responsibilities:
// - Wire domain cores to storage, crypto sessions and the onion transport.
// - Route inbound frames to the state machine that owns their kind.
// - Drive the retry loop, startup recovery and expiry sweeps.
// - Expose the transport-neutral service contracts the RPC adapter serves.
//
// Non-responsibilities:
// - Protocol rules and frame formats (implemented in internal/domains/*).
// - Persistence or crypto implementation details.
package daemonservice
