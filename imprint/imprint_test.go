package imprint

import (
	"crypto"
	"crypto/sha256"
	"crypto/sha512"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	data := []byte("pdfvalidate message imprint")

	tests := []struct {
		name string
		alg  string
		want crypto.Hash
		size int
	}{
		{"canonical sha256", "SHA-256", crypto.SHA256, sha256.Size},
		{"lowercase alias", "sha256", crypto.SHA256, sha256.Size},
		{"sha384", "SHA-384", crypto.SHA384, sha512.Size384},
		{"sha512", "sha-512", crypto.SHA512, sha512.Size},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mi, err := Build(data, tt.alg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, mi.HashAlgorithm)
			assert.Len(t, mi.HashedMessage, tt.size)
			assert.NoError(t, mi.Validate())
		})
	}
}

func TestBuildDeterministic(t *testing.T) {
	a, err := Build([]byte("same bytes"), "SHA-256")
	require.NoError(t, err)
	b, err := Build([]byte("same bytes"), "SHA-256")
	require.NoError(t, err)
	assert.Equal(t, a.HashedMessage, b.HashedMessage)

	c, err := Build([]byte("other bytes"), "SHA-256")
	require.NoError(t, err)
	assert.NotEqual(t, a.HashedMessage, c.HashedMessage)
}

func TestBuildUnsupportedAlgorithm(t *testing.T) {
	_, err := Build([]byte("x"), "MD5")
	assert.Error(t, err)

	_, err = Build([]byte("x"), "")
	assert.Error(t, err)
}

func TestValidateLengthInvariant(t *testing.T) {
	mi, err := Build([]byte("x"), "SHA-256")
	require.NoError(t, err)

	mi.HashedMessage = mi.HashedMessage[:16]
	assert.Error(t, mi.Validate())
}

func TestOIDRoundTrip(t *testing.T) {
	for _, h := range []crypto.Hash{crypto.SHA256, crypto.SHA384, crypto.SHA512} {
		oid, err := OIDForHash(h)
		require.NoError(t, err)

		back, err := HashForOID(oid)
		require.NoError(t, err)
		assert.Equal(t, h, back)

		name := NameForHash(h)
		require.NotEmpty(t, name)
		byName, err := HashByName(name)
		require.NoError(t, err)
		assert.Equal(t, h, byName)
	}
}

func TestHashForOIDUnknown(t *testing.T) {
	_, err := HashForOID([]int{1, 2, 3})
	assert.Error(t, err)
}
