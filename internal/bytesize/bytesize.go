// Package bytesize provides a byte count type for configuration values
// that operators write as "4KiB" or "100MB" rather than raw integers.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes. Configuration decoding accepts plain
// integers, binary units (Ki/KiB, Mi/MiB, Gi/GiB, Ti/TiB, times 1024)
// and decimal units (K/KB, M/MB, G/GB, T/TB, times 1000), all
// case-insensitive, with an optional fractional part ("1.5Gi").
type ByteSize uint64

const (
	B ByteSize = 1

	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

// multiplier resolves a unit suffix. An empty suffix means bytes.
func multiplier(unit string) (ByteSize, bool) {
	switch strings.ToLower(unit) {
	case "", "b":
		return B, true
	case "k", "kb":
		return KB, true
	case "m", "mb":
		return MB, true
	case "g", "gb":
		return GB, true
	case "t", "tb":
		return TB, true
	case "ki", "kib":
		return KiB, true
	case "mi", "mib":
		return MiB, true
	case "gi", "gib":
		return GiB, true
	case "ti", "tib":
		return TiB, true
	}
	return 0, false
}

// ParseByteSize parses strings like "4096", "512Ki", "1.5GiB" or "100MB".
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size")
	}

	// The suffix is everything after the last digit or dot.
	cut := len(s)
	for cut > 0 {
		c := s[cut-1]
		if c >= '0' && c <= '9' || c == '.' {
			break
		}
		cut--
	}
	num := s[:cut]
	unit := strings.TrimSpace(s[cut:])

	mult, ok := multiplier(unit)
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit %q", unit)
	}

	if strings.Contains(num, ".") {
		f, err := strconv.ParseFloat(num, 64)
		if err != nil || f < 0 {
			return 0, fmt.Errorf("invalid byte size %q", s)
		}
		return ByteSize(f * float64(mult)), nil
	}

	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}
	return ByteSize(n) * mult, nil
}

// UnmarshalText implements encoding.TextUnmarshaler so ByteSize fields
// decode directly from config files and environment variables.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

var displayUnits = []struct {
	value ByteSize
	name  string
}{
	{TiB, "TiB"},
	{GiB, "GiB"},
	{MiB, "MiB"},
	{KiB, "KiB"},
}

// String renders the size in the largest binary unit it reaches, in a
// form ParseByteSize accepts back.
func (b ByteSize) String() string {
	for _, u := range displayUnits {
		if b >= u.value {
			return fmt.Sprintf("%.2f%s", float64(b)/float64(u.value), u.name)
		}
	}
	return fmt.Sprintf("%dB", uint64(b))
}
