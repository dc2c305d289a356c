package xio

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// ByteSize is a size in bytes that unmarshals from plain integers or from
// strings with a binary unit suffix such as "512KiB" or "10MiB".
type ByteSize int64

var byteUnits = []struct {
	suffix string
	size   int64
}{
	{"GiB", GiB}, {"MiB", MiB}, {"KiB", KiB},
	{"G", GiB}, {"M", MiB}, {"K", KiB},
	{"B", 1},
}

// ParseByteSize parses s into a ByteSize.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	unit := int64(1)
	for _, u := range byteUnits {
		if strings.HasSuffix(s, u.suffix) {
			s, unit = strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), u.size
			break
		}
	}
	// cast reads a leading zero as an octal prefix
	digits := strings.TrimLeft(s, "0")
	if digits == "" && s != "" {
		digits = "0"
	}
	n, err := cast.ToInt64E(digits)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n * unit), nil
}

// String implements fmt.Stringer.
func (b ByteSize) String() string {
	n := int64(b)
	for _, u := range byteUnits[:3] {
		if n != 0 && n%u.size == 0 {
			return fmt.Sprintf("%d%s", n/u.size, u.suffix)
		}
	}
	return fmt.Sprintf("%d", n)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	return b.UnmarshalText([]byte(value.Value))
}
