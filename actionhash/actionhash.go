// Package actionhash computes the deterministic fingerprint used to
// key the per-block signature map (spec §4.2): the same fingerprint
// must be produced for the same action regardless of process restarts
// or schema version, so the hash is built from fixed field order, not
// from a decoded map.
package actionhash

import (
	"crypto/sha1" //nolint:gosec // content fingerprint, not a signature
	"encoding/hex"
	"strings"

	"github.com/chainforge/evmship/shiptypes"
)

// Mode selects the fingerprint rendering. It is a deployment-wide
// choice, not a per-call one: mixing modes within a session produces
// a silent signature-map miss (spec §9).
type Mode int

const (
	// ModeRelease hashes the concatenated fields into lowercase hex.
	ModeRelease Mode = iota
	// ModeDebug renders a human-readable dotted string ending in the
	// hex sha1 of the raw action data.
	ModeDebug
)

// Hasher fingerprints actions in a single, fixed mode.
type Hasher struct {
	mode Mode
}

func New(mode Mode) Hasher {
	return Hasher{mode: mode}
}

// Hash fingerprints act. In ModeDebug it renders
// "account.name.actor1.permission1….hex(sha1(data))"; in ModeRelease
// it is the lowercase hex sha1 of account||name||actor_i||permission_i||…||data
// concatenated in order.
func (h Hasher) Hash(act shiptypes.Action) string {
	if h.mode == ModeDebug {
		return h.hashDebug(act)
	}

	return h.hashRelease(act)
}

func (h Hasher) hashDebug(act shiptypes.Action) string {
	parts := make([]string, 0, 2+2*len(act.Authorization)+1)
	parts = append(parts, act.Account, act.Name)

	for _, perm := range act.Authorization {
		parts = append(parts, perm.Actor, perm.Permission)
	}

	parts = append(parts, hexSha1(act.RawData))

	return strings.Join(parts, ".")
}

func (h Hasher) hashRelease(act shiptypes.Action) string {
	digest := sha1.New() //nolint:gosec

	digest.Write([]byte(act.Account))
	digest.Write([]byte(act.Name))

	for _, perm := range act.Authorization {
		digest.Write([]byte(perm.Actor))
		digest.Write([]byte(perm.Permission))
	}

	digest.Write(act.RawData)

	return hex.EncodeToString(digest.Sum(nil))
}

func hexSha1(data []byte) string {
	digest := sha1.Sum(data) //nolint:gosec

	return hex.EncodeToString(digest[:])
}
