package proto

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Fingerprint identifies a payment request by its exact signed-payload bytes.
// It stays stable under re-broadcast: nothing hop- or time-dependent is mixed
// in, so every node in a flood derives the same key.
type Fingerprint [32]byte

func FingerprintOf(signedPayload []byte) Fingerprint {
	return sha3.Sum256(signedPayload)
}

func (f Fingerprint) Hex() string {
	return hex.EncodeToString(f[:])
}

func (f Fingerprint) IsZero() bool {
	var zero Fingerprint
	return f == zero
}

func ParseFingerprint(s string) (Fingerprint, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("bad fingerprint: %w", err)
	}
	if len(raw) != 32 {
		return Fingerprint{}, fmt.Errorf("bad fingerprint length %d", len(raw))
	}
	var f Fingerprint
	copy(f[:], raw)
	return f, nil
}

// ConfirmationKey derives the dedup key for a confirmation flood. Status is
// part of the key so a later failed/confirmed pair for the same payment is
// not suppressed as a duplicate of the first.
func ConfirmationKey(f Fingerprint, status string) Fingerprint {
	buf := make([]byte, 0, len(f)+len(status))
	buf = append(buf, f[:]...)
	buf = append(buf, status...)
	return sha3.Sum256(buf)
}
