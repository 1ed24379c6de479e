package util

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/imdevinc/netinf-node/internal/transfer"
	"github.com/multiformats/go-multihash"
)

// DefaultAlgorithm is the ni algorithm used when publishing content
const DefaultAlgorithm = "sha-256"

// ErrUnknownAlgorithm is returned for hash algorithm names we cannot compute
var ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

type algorithm struct {
	code   uint64
	digest int // bytes kept from the full digest; 0 keeps all
}

// Names follow the ni registry; truncated sha-256 variants keep a prefix of
// the full digest.
var algorithms = map[string]algorithm{
	"sha-256":     {code: multihash.SHA2_256},
	"sha-256-128": {code: multihash.SHA2_256, digest: 16},
	"sha-256-120": {code: multihash.SHA2_256, digest: 15},
	"sha-256-96":  {code: multihash.SHA2_256, digest: 12},
	"sha-256-64":  {code: multihash.SHA2_256, digest: 8},
	"sha-256-32":  {code: multihash.SHA2_256, digest: 4},
	"sha-512":     {code: multihash.SHA2_512},
	"sha3-256":    {code: multihash.SHA3_256},
	"blake2b-256": {code: multihash.BLAKE2B_MIN + 31},
}

// KnownAlgorithm reports whether alg can be computed locally
func KnownAlgorithm(alg string) bool {
	_, ok := algorithms[strings.ToLower(alg)]
	return ok
}

// Digest computes the raw digest of data for the named algorithm
func Digest(alg string, data []byte) ([]byte, error) {
	a, ok := algorithms[strings.ToLower(alg)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, alg)
	}
	mh, err := multihash.Sum(data, a.code, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to compute multihash: %w", err)
	}
	decoded, err := multihash.Decode(mh)
	if err != nil {
		return nil, fmt.Errorf("failed to decode multihash: %w", err)
	}
	digest := decoded.Digest
	if a.digest > 0 {
		digest = digest[:a.digest]
	}
	return digest, nil
}

// ComputeHash returns the base64url (unpadded) digest of data, the value
// encoding used in ni URIs
func ComputeHash(alg string, data []byte) (string, error) {
	digest, err := Digest(alg, data)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(digest), nil
}

// VerifyHash checks data against an expected value given either as
// base64url or as hex
func VerifyHash(alg, value string, data []byte) error {
	digest, err := Digest(alg, data)
	if err != nil {
		return err
	}
	expected, ok := decodeDigest(value, len(digest))
	if !ok {
		return fmt.Errorf("%w: cannot decode %s value %q", transfer.ErrHashMismatch, alg, value)
	}
	if !bytes.Equal(expected, digest) {
		return fmt.Errorf("%w: %s", transfer.ErrHashMismatch, alg)
	}
	return nil
}

func decodeDigest(value string, size int) ([]byte, bool) {
	trimmed := strings.TrimRight(value, "=")
	if b, err := base64.RawURLEncoding.DecodeString(trimmed); err == nil && len(b) == size {
		return b, true
	}
	if b, err := hex.DecodeString(value); err == nil && len(b) == size {
		return b, true
	}
	return nil, false
}
