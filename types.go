package leaselect

import "github.com/arloliu/leaselect/types"

// Re-export types from the types subpackage.
//
// This file provides a stable public API for the library's core types and
// interfaces. It uses type aliases to re-export definitions from the
// `types` subpackage, which contains the actual declarations.
//
// This pattern solves the "import cycle" problem by allowing internal
// packages to depend on `types` without depending on the root leaselect
// package, while still providing a convenient `leaselect.Session`,
// `leaselect.State`, etc. for users.
type (
	State   = types.State
	LeaseID = types.LeaseID

	KeyValue       = types.KeyValue
	ResponseHeader = types.ResponseHeader
	RangeOptions   = types.RangeOptions
	RangeResponse  = types.RangeResponse
	TxnResponse    = types.TxnResponse
	Event          = types.Event
)

// Re-export interfaces from the types subpackage for convenience.
type (
	Session          = types.Session
	Watcher          = types.Watcher
	LeaseNotifier    = types.LeaseNotifier
	Logger           = types.Logger
	MetricsCollector = types.MetricsCollector
	Hooks            = types.Hooks
)

// Re-export State constants from the types subpackage.
const (
	StateNotCampaigning = types.StateNotCampaigning
	StateCampaigning    = types.StateCampaigning
	StateLeading        = types.StateLeading
)

// NoLease is the zero LeaseID.
const NoLease = types.NoLease
