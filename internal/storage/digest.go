package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
)

// DigestSize is the length in bytes of every supported content digest
const DigestSize = 32

// Digest is a fixed-length content address
type Digest [DigestSize]byte

// String returns the lowercase hex form used as the registry key
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest parses the hex form produced by Digest.String
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != hex.EncodedLen(DigestSize) {
		return d, fmt.Errorf("invalid digest length %d", len(s))
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("invalid digest: %w", err)
	}
	return d, nil
}

// Algorithm names the hash function used by a staging area.
// It is fixed per deployment: changing it splits the dedup ledger.
type Algorithm string

const (
	AlgorithmSHA256 Algorithm = "sha256"
	AlgorithmBLAKE3 Algorithm = "blake3"
)

// ParseAlgorithm accepts the configuration spelling of an algorithm
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return AlgorithmSHA256, nil
	case AlgorithmSHA256, AlgorithmBLAKE3:
		return a, nil
	default:
		return "", fmt.Errorf("unsupported digest algorithm %q", s)
	}
}

// New returns a fresh hasher for the algorithm
func (a Algorithm) New() (hash.Hash, error) {
	switch a {
	case AlgorithmSHA256, "":
		return sha256.New(), nil
	case AlgorithmBLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm %q", string(a))
	}
}
