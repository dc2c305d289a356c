package contentaddr

import (
	"github.com/opencontainers/go-digest"

	"github.com/wuxler/imgvault/pkg/errdefs"
)

// Addresser bundles the hashing algorithm and salt setting so every component
// derives ids the same way.
type Addresser struct {
	Algorithm    digest.Algorithm
	SaltWithSize bool
}

// NewAddresser returns an Addresser. An empty algorithm means sha256.
func NewAddresser(alg string, saltWithSize bool) (Addresser, error) {
	a := digest.Algorithm(alg)
	if alg == "" {
		a = digest.Canonical
	}
	if !a.Available() {
		return Addresser{}, errdefs.Newf(errdefs.ErrUnsupported, "digest algorithm %q", alg)
	}
	return Addresser{Algorithm: a, SaltWithSize: saltWithSize}, nil
}

// Hash returns the digest of data.
func (a Addresser) Hash(data []byte) digest.Digest {
	return Hash(a.Algorithm, data)
}

// Encode converts d into an id, salting with size when enabled.
func (a Addresser) Encode(d digest.Digest, size int64) (ID, error) {
	if a.SaltWithSize {
		return Encode(d, WithSizeHint(size))
	}
	return Encode(d)
}

// IDFor hashes data and returns both the digest and the derived id.
func (a Addresser) IDFor(data []byte) (digest.Digest, ID, error) {
	d := a.Hash(data)
	id, err := a.Encode(d, int64(len(data)))
	return d, id, err
}

// Decode returns the digest the id was derived from.
func (a Addresser) Decode(id ID) (digest.Digest, error) {
	alg := a.Algorithm
	if alg == "" {
		alg = digest.Canonical
	}
	return Decode(id, alg, a.SaltWithSize)
}
