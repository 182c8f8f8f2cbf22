package domain

import (
	"path"
	"strings"
	"time"
)

// Source is the provenance category the archive assigns to each file.
type Source string

const (
	SourceOriginal   Source = "original"
	SourceDerivative Source = "derivative"
	SourceMetadata   Source = "metadata"
)

// Checksum algorithms the verifier understands
const (
	AlgorithmMD5   = "md5"
	AlgorithmSHA1  = "sha1"
	AlgorithmCRC32 = "crc32"
)

// FileDescriptor is one manifest entry. It is never mutated after parsing.
type FileDescriptor struct {
	Name   string `json:"name"`
	Source Source `json:"source,omitempty"`
	Format string `json:"format,omitempty"`

	// Size is the declared size in bytes, 0 when the archive did not report one.
	Size  int64 `json:"size,omitempty"`
	MTime int64 `json:"mtime,omitempty"`

	MD5   string `json:"md5,omitempty"`
	SHA1  string `json:"sha1,omitempty"`
	CRC32 string `json:"crc32,omitempty"`
}

// SizeKnown reports whether the archive declared a size for the file.
func (f FileDescriptor) SizeKnown() bool {
	return f.Size > 0
}

// Checksum returns the strongest declared digest the verifier supports.
func (f FileDescriptor) Checksum() (algorithm, expected string, ok bool) {
	switch {
	case f.MD5 != "":
		return AlgorithmMD5, f.MD5, true
	case f.SHA1 != "":
		return AlgorithmSHA1, f.SHA1, true
	case f.CRC32 != "":
		return AlgorithmCRC32, f.CRC32, true
	}
	return "", "", false
}

// Extension returns the lowercased extension without the leading dot.
func (f FileDescriptor) Extension() string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(f.Name)), ".")
}

// ModTime returns the declared modification time, zero if unknown.
func (f FileDescriptor) ModTime() time.Time {
	if f.MTime <= 0 {
		return time.Time{}
	}
	return time.Unix(f.MTime, 0)
}

// Manifest describes an archive item and the files it contains.
type Manifest struct {
	Identifier      string           `json:"identifier"`
	Server          string           `json:"server,omitempty"`
	Dir             string           `json:"dir,omitempty"`
	WorkableServers []string         `json:"workable_servers,omitempty"`
	Files           []FileDescriptor `json:"files"`
	ItemSize        int64            `json:"item_size,omitempty"`
	FilesCount      int              `json:"files_count,omitempty"`
	Created         int64            `json:"created,omitempty"`
	ItemLastUpdated int64            `json:"item_last_updated,omitempty"`
}

// File returns the descriptor with the given name.
func (m *Manifest) File(name string) (FileDescriptor, bool) {
	for _, f := range m.Files {
		if f.Name == name {
			return f, true
		}
	}
	return FileDescriptor{}, false
}

// Servers returns the mirrors to try, primary server first, without duplicates.
func (m *Manifest) Servers() []string {
	seen := make(map[string]bool, len(m.WorkableServers)+1)
	var servers []string
	for _, s := range append([]string{m.Server}, m.WorkableServers...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		servers = append(servers, s)
	}
	return servers
}

// TotalSize sums the declared sizes of all files.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}
