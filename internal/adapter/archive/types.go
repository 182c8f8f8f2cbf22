package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// metadataResponse is the body of /metadata/<identifier>
type metadataResponse struct {
	Created         int64       `json:"created"`
	D1              string      `json:"d1"`
	D2              string      `json:"d2"`
	Dir             string      `json:"dir"`
	Files           []fileEntry `json:"files"`
	FilesCount      int         `json:"files_count"`
	ItemLastUpdated int64       `json:"item_last_updated"`
	ItemSize        flexInt     `json:"item_size"`
	Server          string      `json:"server"`
	WorkableServers []string    `json:"workable_servers"`
	IsDark          bool        `json:"is_dark"`
	Error           string      `json:"error"`
}

// fileEntry is one element of the "files" array. Numbers arrive as strings.
type fileEntry struct {
	Name   string  `json:"name"`
	Source string  `json:"source"`
	Format string  `json:"format"`
	MTime  flexInt `json:"mtime"`
	Size   flexInt `json:"size"`
	MD5    string  `json:"md5"`
	CRC32  string  `json:"crc32"`
	SHA1   string  `json:"sha1"`
}

// flexInt decodes integers sent either as JSON numbers or as strings.
// Empty strings and null decode to zero.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}

	s := string(data)
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			*f = 0
			return nil
		}
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(n)
		return nil
	}
	// Some fields carry fractional values, e.g. "1234.0"
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q", s)
	}
	*f = flexInt(int64(v))
	return nil
}
