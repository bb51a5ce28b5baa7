package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// FingerprintSize is the number of hash bytes kept in a fingerprint.
const FingerprintSize = 8

// Fingerprint identifies a public key in logs and API responses: the first
// FingerprintSize bytes of the BLAKE2b-256 hash of its SPKI encoding, hex
// encoded. It returns "" for a key that cannot be marshaled.
func Fingerprint(key *ecdsa.PublicKey) string {
	der, err := MarshalPublicKey(key)
	if err != nil {
		return ""
	}

	sum := blake2b.Sum256(der)
	return hex.EncodeToString(sum[:FingerprintSize])
}
