// Package imprint computes RFC 3161 message imprints and canonicalizes
// hash algorithm names and OIDs.
package imprint

import (
	"crypto"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/asn1"
	"fmt"
	"strings"
)

// Hash algorithm OIDs from the NIST algorithm arc (2.16.840.1.101.3.4.2).
var (
	OIDDigestAlgorithmSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDDigestAlgorithmSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDDigestAlgorithmSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

// MessageImprint pairs a hash algorithm with the digest it produced.
type MessageImprint struct {
	HashAlgorithm crypto.Hash `json:"-"`
	HashedMessage []byte      `json:"hashed_message"`
}

// AlgorithmName returns the canonical name of the imprint's hash algorithm.
func (m MessageImprint) AlgorithmName() string {
	return NameForHash(m.HashAlgorithm)
}

// Validate checks that the digest length matches the algorithm's size.
func (m MessageImprint) Validate() error {
	if !m.HashAlgorithm.Available() {
		return fmt.Errorf("hash algorithm %s is not available", m.HashAlgorithm)
	}
	if len(m.HashedMessage) != m.HashAlgorithm.Size() {
		return fmt.Errorf("hashed message is %d bytes, %s requires %d",
			len(m.HashedMessage), NameForHash(m.HashAlgorithm), m.HashAlgorithm.Size())
	}
	return nil
}

// Build computes the message imprint of data under the named hash algorithm.
func Build(data []byte, algorithm string) (MessageImprint, error) {
	h, err := HashByName(algorithm)
	if err != nil {
		return MessageImprint{}, err
	}
	return BuildWithHash(data, h)
}

// BuildWithHash computes the message imprint of data under h.
func BuildWithHash(data []byte, h crypto.Hash) (MessageImprint, error) {
	if !h.Available() {
		return MessageImprint{}, fmt.Errorf("hash algorithm %s is not available", h)
	}
	hasher := h.New()
	hasher.Write(data)
	return MessageImprint{
		HashAlgorithm: h,
		HashedMessage: hasher.Sum(nil),
	}, nil
}

// HashByName maps a canonical or common algorithm name to a crypto.Hash.
func HashByName(name string) (crypto.Hash, error) {
	switch strings.ToUpper(strings.ReplaceAll(name, "-", "")) {
	case "SHA256":
		return crypto.SHA256, nil
	case "SHA384":
		return crypto.SHA384, nil
	case "SHA512":
		return crypto.SHA512, nil
	}
	return 0, fmt.Errorf("unsupported hash algorithm %q", name)
}

// NameForHash returns the canonical name for h, or an empty string when
// h is not a supported imprint algorithm.
func NameForHash(h crypto.Hash) string {
	switch h {
	case crypto.SHA256:
		return "SHA-256"
	case crypto.SHA384:
		return "SHA-384"
	case crypto.SHA512:
		return "SHA-512"
	}
	return ""
}

// OIDForHash returns the digest algorithm OID for h.
func OIDForHash(h crypto.Hash) (asn1.ObjectIdentifier, error) {
	switch h {
	case crypto.SHA256:
		return OIDDigestAlgorithmSHA256, nil
	case crypto.SHA384:
		return OIDDigestAlgorithmSHA384, nil
	case crypto.SHA512:
		return OIDDigestAlgorithmSHA512, nil
	}
	return nil, fmt.Errorf("no OID for hash algorithm %s", h)
}

// HashForOID maps a digest algorithm OID back to a crypto.Hash.
func HashForOID(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	switch {
	case oid.Equal(OIDDigestAlgorithmSHA256):
		return crypto.SHA256, nil
	case oid.Equal(OIDDigestAlgorithmSHA384):
		return crypto.SHA384, nil
	case oid.Equal(OIDDigestAlgorithmSHA512):
		return crypto.SHA512, nil
	}
	return 0, fmt.Errorf("no hash algorithm for OID %s", oid)
}
