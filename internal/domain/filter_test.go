package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtensionList(t *testing.T) {
	assert.Equal(t, []string{"mp3", "flac"}, ParseExtensionList(" .MP3, flac,,mp3 "))
	assert.Empty(t, ParseExtensionList(""))
}

func TestFileFilter_Match(t *testing.T) {
	files := map[string]FileDescriptor{
		"song":     {Name: "track01.MP3", Format: "VBR MP3", Source: SourceDerivative, Size: 5 << 20},
		"original": {Name: "track01.flac", Format: "Flac", Source: SourceOriginal, Size: 40 << 20},
		"meta":     {Name: "item_meta.xml", Format: "Metadata", Source: SourceMetadata},
	}

	tests := []struct {
		name   string
		filter FileFilter
		want   []string
	}{
		{"empty filter matches all", FileFilter{}, []string{"song", "original", "meta"}},
		{"include extension", FileFilter{IncludeExtensions: []string{".mp3"}}, []string{"song"}},
		{"exclude extension", FileFilter{ExcludeExtensions: []string{"xml"}}, []string{"song", "original"}},
		{"format is case insensitive", FileFilter{Formats: []string{"flac"}}, []string{"original"}},
		{"source", FileFilter{Sources: []Source{SourceOriginal, SourceMetadata}}, []string{"original", "meta"}},
		{"max size keeps unknown sizes", FileFilter{MaxSize: 10 << 20}, []string{"song", "meta"}},
		{"min size", FileFilter{MinSize: 10 << 20}, []string{"original", "meta"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, key := range []string{"song", "original", "meta"} {
				if tt.filter.Match(files[key]) {
					got = append(got, key)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectFiles(t *testing.T) {
	r := require.New(t)
	m := testManifest()

	all := SelectFiles(m, nil, FileFilter{})
	r.Len(all, 3)

	picked := SelectFiles(m, []string{"b.txt", "ghost", "b.txt"}, FileFilter{})
	r.Len(picked, 1)
	r.Equal("b.txt", picked[0].Name)

	filtered := SelectFiles(m, nil, FileFilter{ExcludeExtensions: []string{"xml"}})
	r.Len(filtered, 2)
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"4096", 4096, false},
		{"100MB", 100 * 1000 * 1000, false},
		{"64 KiB", 64 * 1024, false},
		{"1GiB", 1 << 30, false},
		{"lots", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseByteSize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Bytes())
		})
	}

	assert.Equal(t, "64 KiB", ByteSize(64*1024).String())
}

func TestFileDescriptor_Checksum(t *testing.T) {
	alg, sum, ok := FileDescriptor{SHA1: "s", CRC32: "c"}.Checksum()
	assert.True(t, ok)
	assert.Equal(t, AlgorithmSHA1, alg)
	assert.Equal(t, "s", sum)

	_, _, ok = FileDescriptor{}.Checksum()
	assert.False(t, ok)
}

func TestManifest_Servers(t *testing.T) {
	m := testManifest()
	assert.Equal(t, []string{"ia800.us.archive.org", "ia900.us.archive.org"}, m.Servers())
}
