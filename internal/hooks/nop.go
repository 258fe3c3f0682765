// Package hooks provides the default no-op Hooks implementation.
package hooks

import (
	"context"

	"github.com/arloliu/leaselect/types"
)

// NewNop creates a Hooks value whose callbacks are all no-ops.
//
// This is the default used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
//
// Returns:
//   - types.Hooks: Hooks with no-op implementations
func NewNop() types.Hooks {
	return types.Hooks{
		OnElected:   func(_ context.Context, _ string, _ int64) error { return nil },
		OnResigned:  func(_ context.Context, _ string) error { return nil },
		OnLeaseLost: func(_ context.Context, _ types.LeaseID) error { return nil },
		OnError:     func(_ context.Context, _ error) error { return nil },
	}
}

// Fill replaces any nil callback in h with a no-op so callers can invoke
// hooks unconditionally.
func Fill(h types.Hooks) types.Hooks {
	nop := NewNop()
	if h.OnElected == nil {
		h.OnElected = nop.OnElected
	}
	if h.OnResigned == nil {
		h.OnResigned = nop.OnResigned
	}
	if h.OnLeaseLost == nil {
		h.OnLeaseLost = nop.OnLeaseLost
	}
	if h.OnError == nil {
		h.OnError = nop.OnError
	}

	return h
}
