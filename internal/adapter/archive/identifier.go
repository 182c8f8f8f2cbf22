package archive

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/vertextoedge/archive-fetch/internal/domain"
)

const (
	minIdentifierLen = 3
	maxIdentifierLen = 100
)

// ParseIdentifier extracts an item identifier from a bare identifier or an
// archive URL of the form /details/<id>, /metadata/<id> or /download/<id>/...
func ParseIdentifier(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", domain.NewInvalidInputError("parse identifier", fmt.Errorf("empty input"))
	}

	if !strings.Contains(input, "://") {
		id := strings.Trim(input, "/")
		return id, ValidateIdentifier(id)
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", domain.NewInvalidInputError("parse identifier", err)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		switch seg {
		case "details", "metadata", "download":
			if i+1 < len(segments) && segments[i+1] != "" {
				id, err := url.PathUnescape(segments[i+1])
				if err != nil {
					return "", domain.NewInvalidInputError("parse identifier", err)
				}
				return id, ValidateIdentifier(id)
			}
		}
	}
	return "", domain.NewInvalidInputError("parse identifier",
		fmt.Errorf("no identifier in URL %q", input))
}

// ValidateIdentifier checks the archive's identifier rules: 3 to 100 characters
// of letters, digits, '-', '_' and '.', starting and ending with a letter or
// digit, and never two punctuation characters in a row.
func ValidateIdentifier(id string) error {
	invalid := func(reason string) error {
		return domain.NewInvalidInputError("validate identifier", fmt.Errorf("%q: %s", id, reason))
	}

	if len(id) < minIdentifierLen || len(id) > maxIdentifierLen {
		return invalid(fmt.Sprintf("length must be between %d and %d", minIdentifierLen, maxIdentifierLen))
	}
	if !isAlnum(id[0]) || !isAlnum(id[len(id)-1]) {
		return invalid("must start and end with a letter or digit")
	}

	prevSpecial := false
	for i := 0; i < len(id); i++ {
		ch := id[i]
		switch {
		case isAlnum(ch):
			prevSpecial = false
		case ch == '-' || ch == '_' || ch == '.':
			if prevSpecial {
				return invalid("consecutive punctuation")
			}
			prevSpecial = true
		default:
			return invalid(fmt.Sprintf("invalid character %q", ch))
		}
	}
	return nil
}

func isAlnum(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}
