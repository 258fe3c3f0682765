// Package leaselect provides client-side leader election coordinated
// through an external linearizable transactional key-value store.
//
// The store must offer atomic compare-and-branch commits, prefix range
// queries ordered by a monotonic global revision counter, time-bound
// lease-scoped keys, and watch subscriptions (see types.Session). The
// election protocol is expressed purely in terms of those primitives:
// this library never synchronizes with other processes directly and holds
// no cross-process locks of its own.
//
// # Quick Start
//
//	session := memstore.New() // or natskv / etcdkv in production
//
//	election, err := leaselect.NewElection(session, "scheduler",
//	    leaselect.WithTTL(10*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer election.Close()
//
//	if _, err := election.Campaign(ctx, "node-1"); err != nil {
//	    log.Fatal(err)
//	}
//
//	<-election.Elected()
//	// ... act as leader ...
//	_ = election.Resign(ctx)
//
// # Protocol
//
// Campaign grants a lease, names a key deterministically from the lease
// identifier (prefix + lowercase hex), and commits it with an atomic
// create-if-absent transaction. The store assigns the key a creation
// revision; among all surviving campaign keys under a prefix, the one
// with the smallest creation revision is the leader. A candidate waits by
// watching only the single oldest surviving key below its own revision,
// re-querying each time that key vacates, so at most one watch is active
// per candidate at any time.
//
// Proclaim and Resign issue further commits guarded on the recorded
// creation revision, which proves the key is still the same instance and
// doubles as the loss-of-leadership detector. Leader is a read-only range
// query independent of local state.
//
// # Store backends
//
//   - memstore: in-process reference store, deterministic leases; for
//     tests and local development
//   - natskv: NATS JetStream KV
//   - etcdkv: etcd v3
//
// # Notifications
//
// "Elected" and "resigned" are delivered through single-slot channels
// (Elected, Resigned) and optional Hooks callbacks, at most once per
// transition and to exactly one subscriber; there is no event fan-out.
package leaselect
