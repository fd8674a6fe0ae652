// Package profile decodes the on-disk profile payload consumed by optimize
// mode: a MessagePack-encoded map from call-site index to the list of
// observed table-index outcomes (spec.md §6). Not present in any example
// repo's dependency set; named in SPEC_FULL.md's domain stack rather than
// grounded on a teacher file, since the wire format itself is out of this
// tool's specified scope and any standard codec would serve — this is the
// ecosystem's usual MessagePack library for Go.
package profile

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wippyai/wasm-devirt/errors"
	"github.com/wippyai/wasm-devirt/internal/devirt"
)

// Decode parses a MessagePack-encoded `usize -> []i32` map into a
// devirt.Profile, per spec.md §6 and §3.
func Decode(data []byte) (devirt.Profile, error) {
	var raw map[uint64][]int32
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(errors.PhaseResolve, errors.KindInvalidData, err, "decode profile")
	}
	return devirt.Profile(raw), nil
}

// Encode serializes a devirt.Profile back to MessagePack. Used by tests that
// round-trip a synthetic profile through the same wire format optimize mode
// consumes.
func Encode(p devirt.Profile) ([]byte, error) {
	data, err := msgpack.Marshal(map[uint64][]int32(p))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseResolve, errors.KindInvalidData, err, "encode profile")
	}
	return data, nil
}
