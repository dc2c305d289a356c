// Package contentaddr derives stable content identifiers from image bytes and
// maps them to sharded storage paths.
package contentaddr

import (
	"math/big"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/wuxler/imgvault/pkg/errdefs"
)

// Alphabet is the base62 alphabet used to encode content ids.
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// MinIDLength is the shortest id ToPath accepts.
const MinIDLength = 5

// sizeSaltModulus bounds the size salt to a single base-256 digit.
const sizeSaltModulus = 255

var (
	// ErrInvalidID is returned when an id is too short or holds characters
	// outside of the base62 alphabet.
	ErrInvalidID = errdefs.Newf(errdefs.ErrInvalidParameter, "invalid content id")

	// ErrInvalidStoragePath is returned when a storage path can not be split
	// back into an id and an extension.
	ErrInvalidStoragePath = errdefs.Newf(errdefs.ErrInvalidParameter, "invalid storage path")

	base = big.NewInt(int64(len(Alphabet)))
	salt = big.NewInt(256)
)

// ID is the content-derived identifier of a stored image. Identical bytes
// always produce the same ID.
type ID string

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// Validate returns ErrInvalidID if the id can not be used to build a path.
func (id ID) Validate() error {
	if len(id) < MinIDLength {
		return errdefs.Newf(ErrInvalidID, "%q is shorter than %d characters", id, MinIDLength)
	}
	for _, r := range id {
		if strings.IndexRune(Alphabet, r) < 0 {
			return errdefs.Newf(ErrInvalidID, "%q contains invalid character %q", id, r)
		}
	}
	return nil
}

// Hash returns the digest of data computed with alg. An unavailable algorithm
// falls back to digest.Canonical.
func Hash(alg digest.Algorithm, data []byte) digest.Digest {
	if !alg.Available() {
		alg = digest.Canonical
	}
	return alg.FromBytes(data)
}

// EncodeOption customizes Encode.
type EncodeOption func(*encodeOptions)

type encodeOptions struct {
	salted bool
	size   int64
}

// WithSizeHint salts the id with the content length so that colliding
// digests of different sizes still yield distinct ids.
func WithSizeHint(size int64) EncodeOption {
	return func(o *encodeOptions) {
		o.salted = true
		o.size = size
	}
}

// Encode converts the digest into a base62 ID.
func Encode(d digest.Digest, opts ...EncodeOption) (ID, error) {
	o := &encodeOptions{}
	for _, apply := range opts {
		apply(o)
	}
	if err := d.Validate(); err != nil {
		return "", errdefs.NewE(errdefs.ErrInvalidParameter, err)
	}
	n, ok := new(big.Int).SetString(d.Encoded(), 16)
	if !ok {
		return "", errdefs.Newf(errdefs.ErrInvalidParameter, "digest %s is not hex encoded", d)
	}
	if o.salted {
		size := o.size
		if size < 0 {
			size = -size
		}
		n.Mul(n, salt)
		n.Add(n, big.NewInt(size%sizeSaltModulus))
	}
	return ID(toBase62(n)), nil
}

// Decode reverses Encode and returns the digest the id was derived from.
// salted must match the WithSizeHint setting used when encoding.
func Decode(id ID, alg digest.Algorithm, salted bool) (digest.Digest, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}
	n, err := fromBase62(string(id))
	if err != nil {
		return "", err
	}
	if salted {
		n.Rsh(n, 8)
	}
	width := alg.Size() * 2
	hex := n.Text(16)
	if width == 0 || len(hex) > width {
		return "", errdefs.Newf(ErrInvalidID, "%q does not decode to a %s digest", id, alg)
	}
	hex = strings.Repeat("0", width-len(hex)) + hex
	d := digest.NewDigestFromEncoded(alg, hex)
	if err := d.Validate(); err != nil {
		return "", errdefs.NewE(ErrInvalidID, err)
	}
	return d, nil
}

func toBase62(n *big.Int) string {
	if n.Sign() == 0 {
		return Alphabet[:1]
	}
	var buf []byte
	x := new(big.Int).Set(n)
	mod := new(big.Int)
	for x.Sign() > 0 {
		x.DivMod(x, base, mod)
		buf = append(buf, Alphabet[mod.Int64()])
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

func fromBase62(s string) (*big.Int, error) {
	n := new(big.Int)
	for _, r := range s {
		idx := strings.IndexRune(Alphabet, r)
		if idx < 0 {
			return nil, errdefs.Newf(ErrInvalidID, "invalid character %q", r)
		}
		n.Mul(n, base)
		n.Add(n, big.NewInt(int64(idx)))
	}
	return n, nil
}
