package domain

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// ByteSize is a byte count that parses from and prints as a human readable size.
type ByteSize int64

// ParseByteSize parses sizes such as "100MB", "1.5 GiB" or "4096".
// An empty string parses as zero.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// Bytes returns the size as int64.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

// String returns a binary-prefixed representation, e.g. "64 KiB".
func (b ByteSize) String() string {
	if b < 0 {
		return "-" + humanize.IBytes(uint64(-b))
	}
	return humanize.IBytes(uint64(b))
}
