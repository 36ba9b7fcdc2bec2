package seqveil

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Manifest is a point-in-time description of an installation's bindings,
// safe to ship to backup storage: keys and salt appear only as truncated
// fingerprints, which is enough to detect drift between two installations
// without disclosing the values.
type Manifest struct {
	GeneratedAt     time.Time       `json:"generated_at"`
	SaltFingerprint string          `json:"salt_fingerprint"`
	Bindings        []ManifestEntry `json:"bindings"`
}

// ManifestEntry describes one binding. Everything here except the key
// fingerprint is needed verbatim to re-attach the binding; the key itself
// must come from the key source or registry.
type ManifestEntry struct {
	Identity       string    `json:"identity"`
	Table          string    `json:"table"`
	Source         string    `json:"source"`
	Target         string    `json:"target"`
	DataBits       int       `json:"data_bits"`
	Rounds         int       `json:"rounds"`
	TimeBits       int       `json:"time_bits,omitempty"`
	TimeBucket     int64     `json:"time_bucket,omitempty"`
	TimeOffset     int64     `json:"time_offset,omitempty"`
	EncryptTime    bool      `json:"encrypt_time,omitempty"`
	KeyFingerprint string    `json:"key_fingerprint"`
	Retired        bool      `json:"retired,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewManifest assembles a manifest for the given salt, sorting entries by
// identity so repeated exports of the same state are byte-identical apart
// from the timestamp.
func NewManifest(salt uint32, entries []ManifestEntry) Manifest {
	sorted := append([]ManifestEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Identity < sorted[j].Identity })

	return Manifest{
		GeneratedAt:     time.Now().UTC(),
		SaltFingerprint: SaltFingerprint(salt),
		Bindings:        sorted,
	}
}

// NewManifestEntry builds the manifest view of a binding.
func NewManifestEntry(b Binding, retired bool, createdAt time.Time) ManifestEntry {
	return ManifestEntry{
		Identity:       b.BindingIdentity.String(),
		Table:          b.Table,
		Source:         b.Source,
		Target:         b.Target,
		DataBits:       b.DataBits,
		Rounds:         b.Rounds,
		TimeBits:       b.TimeBits,
		TimeBucket:     b.TimeBucket,
		TimeOffset:     b.TimeOffset,
		EncryptTime:    b.EncryptTime,
		KeyFingerprint: KeyFingerprint(b.Key),
		Retired:        retired,
		CreatedAt:      createdAt.UTC(),
	}
}

// Encode renders the manifest as indented JSON.
func (m Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return data, nil
}

// DecodeManifest parses a manifest previously produced by Encode.
func DecodeManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// KeyFingerprint is a 16-hex-digit digest of a binding key. Two bindings
// share a fingerprint exactly when they share a key, and the key cannot be
// read back out of it short of walking the 31-bit key space.
func KeyFingerprint(key uint32) string {
	return fingerprint("key", key)
}

// SaltFingerprint is the installation salt's counterpart to KeyFingerprint.
func SaltFingerprint(salt uint32) string {
	return fingerprint("salt", salt)
}

func fingerprint(domain string, value uint32) string {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], value)
	sum := sha256.Sum256(append([]byte("seqveil-"+domain+"-fingerprint:"), buf[:]...))
	return hex.EncodeToString(sum[:8])
}
