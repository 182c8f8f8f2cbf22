package filesystem

import (
	"path/filepath"
	"strings"
)

const maxFilenameBytes = 255

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeFilename makes a single path segment safe on common filesystems.
// Characters Windows forbids and control characters become '_', reserved
// device names get a trailing '_', and the result is capped at 255 bytes
// with the extension preserved.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			b.WriteRune('_')
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimRight(b.String(), " .")
	if out == "" {
		out = "_"
	}

	ext := filepath.Ext(out)
	stem := strings.TrimSuffix(out, ext)
	if reservedNames[strings.ToUpper(stem)] {
		out = stem + "_" + ext
	}

	if len(out) > maxFilenameBytes {
		ext = filepath.Ext(out)
		if len(ext) > 32 {
			ext = ""
		}
		out = truncateUTF8(out[:len(out)-len(ext)], maxFilenameBytes-len(ext)) + ext
	}
	return out
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
