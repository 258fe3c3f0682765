// Package types contains the public interfaces and shared types of the
// leaselect library.
//
// It is a separate package so that internal packages can depend on the
// interfaces without importing the root leaselect package, avoiding import
// cycles. The root package re-exports the commonly used names via type
// aliases, so most users never import types directly.
//
// The central abstraction is Session: a handle to an external linearizable
// transactional key-value store that provides conditional commits, prefix
// range queries ordered by a monotonic revision counter, lease-scoped keys,
// and watch subscriptions. The election protocol in the root package is
// expressed purely in terms of these primitives and never coordinates with
// other processes directly.
package types
