// Package keycodec maps lease identifiers to campaign key names.
//
// The mapping is pure, deterministic and injective, so two campaigns under
// the same lease collide intentionally (idempotent re-create) and
// campaigns under different leases never collide.
package keycodec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arloliu/leaselect/types"
)

// CampaignKey builds the campaign key for a lease under the given prefix.
//
// The key is prefix + the lowercase, unpadded hexadecimal rendering of the
// lease identifier. The prefix must already end with its separator; the
// codec does not insert one.
//
// Parameters:
//   - prefix: Full election prefix (e.g. "election/svc/")
//   - id: Lease identifier the campaign key is bound to
//
// Returns:
//   - string: The campaign key name
func CampaignKey(prefix string, id types.LeaseID) string {
	return prefix + strconv.FormatUint(uint64(id), 16)
}

// ParseLeaseID recovers the lease identifier from a campaign key.
//
// Parameters:
//   - prefix: Full election prefix the key was built under
//   - key: Campaign key name produced by CampaignKey
//
// Returns:
//   - types.LeaseID: The decoded lease identifier
//   - error: Non-nil when key does not start with prefix or the hex
//     segment does not decode
func ParseLeaseID(prefix, key string) (types.LeaseID, error) {
	seg, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return types.NoLease, fmt.Errorf("key %q is not under prefix %q", key, prefix)
	}

	id, err := strconv.ParseUint(seg, 16, 64)
	if err != nil {
		return types.NoLease, fmt.Errorf("invalid lease segment %q: %w", seg, err)
	}

	return types.LeaseID(id), nil //nolint:gosec // round-trip of the uint64 rendering, no value change
}
