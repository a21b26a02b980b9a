// Package helper holds small free functions shared across the core,
// inferred from the teacher's (referenced but not retrieved)
// pkg/mcast/helper package -- call sites in the teacher's peer.go
// (helper.MaxValue) and test/testing.go (helper.GenerateUID) are the
// grounding for these two functions.
package helper

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/jabolina/must-go/types"
)

// MaxValue returns the largest value in values, or the zero value if the
// slice is empty. No package of this module calls it.
func MaxValue(values []uint64) uint64 {
	var v uint64
	for _, e := range values {
		if e > v {
			v = e
		}
	}
	return v
}

// MaxRank returns the largest rank in ranks, or AnySource if empty.
func MaxRank(ranks []types.Rank) types.Rank {
	if len(ranks) == 0 {
		return types.AnySource
	}
	m := ranks[0]
	for _, r := range ranks[1:] {
		if r > m {
			m = r
		}
	}
	return m
}

// GenerateUID produces a process-unique identifier for an enqueued
// operation (spec.md §3's P2POp/CollOp UID). No UID/UUID library ships
// anywhere in the example pack, so this falls back to crypto/rand + hex
// (see DESIGN.md for the stdlib justification).
func GenerateUID() types.UID {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		// If crypto/rand fails the UID is built from whatever bytes
		// were read, with a "fallback-" prefix; such UIDs are not
		// guaranteed to be unique.
		return types.UID(fmt.Sprintf("fallback-%x", buf))
	}
	return types.UID(hex.EncodeToString(buf))
}
