package sessionfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertextoedge/archive-fetch/internal/domain"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func sampleSession() *domain.DownloadSession {
	m := &domain.Manifest{
		Identifier: "sample-item",
		Server:     "ia801.us.archive.org",
		Dir:        "/2/items/sample-item",
		Files: []domain.FileDescriptor{
			{Name: "a.mp3", Source: domain.SourceDerivative, Size: 100, MD5: "abc"},
			{Name: "b.flac", Source: domain.SourceOriginal, Size: 200},
		},
	}
	s := domain.NewDownloadSession("https://archive.org/details/sample-item", m,
		domain.SessionConfig{OutputDir: "/out", Concurrency: 2, VerifyChecksums: true},
		m.Files, func(f domain.FileDescriptor) string { return "/out/" + f.Name })
	_ = s.MarkInProgress("a.mp3", "ia801.us.archive.org")
	_ = s.MarkFailed("a.mp3", errors.New("connection reset"))
	return s
}

func TestStore_LoadMissingFile(t *testing.T) {
	s := newStore(t)
	session, err := s.Load(filepath.Join(s.Dir(), "nope.json"))
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestStore_LoadMalformed(t *testing.T) {
	s := newStore(t)
	p := filepath.Join(s.Dir(), "bad.json")
	require.NoError(t, os.WriteFile(p, []byte("{not json"), 0o644))

	_, err := s.Load(p)
	assert.True(t, domain.IsKind(err, domain.KindParse), "err = %v", err)
}

func TestStore_SaveLoadIsIdempotent(t *testing.T) {
	r := require.New(t)
	s := newStore(t)
	original := sampleSession()

	first := filepath.Join(s.Dir(), "first.json")
	r.NoError(s.Save(original, first))

	loaded, err := s.Load(first)
	r.NoError(err)
	r.Equal(original, loaded)

	second := filepath.Join(s.Dir(), "second.json")
	r.NoError(s.Save(loaded, second))

	b1, err := os.ReadFile(first)
	r.NoError(err)
	b2, err := os.ReadFile(second)
	r.NoError(err)
	r.Equal(string(b1), string(b2), "re-saving an unmodified session must not change its bytes")
}

func TestStore_NewPath(t *testing.T) {
	s := newStore(t)
	p := s.NewPath("My Item!", time.Unix(1_700_000_000, 0))
	assert.Equal(t, filepath.Join(s.Dir(), "archive-fetch-session-My_Item-1700000000.json"), p)
}

func TestStore_FindLatest(t *testing.T) {
	r := require.New(t)
	s := newStore(t)

	none, err := s.FindLatest("sample-item")
	r.NoError(err)
	r.Empty(none)

	older := s.NewPath("sample-item", time.Unix(1_700_000_000, 0))
	newer := s.NewPath("sample-item", time.Unix(1_700_000_100, 0))
	other := s.NewPath("sample-item-2", time.Unix(1_800_000_000, 0))
	for _, p := range []string{older, newer, other} {
		r.NoError(s.Save(sampleSession(), p))
	}
	base := time.Now().Add(-time.Hour)
	r.NoError(os.Chtimes(older, base, base))
	r.NoError(os.Chtimes(newer, base.Add(time.Minute), base.Add(time.Minute)))

	latest, err := s.FindLatest("sample-item")
	r.NoError(err)
	r.Equal(newer, latest)
}

func TestStore_PruneOlderThan(t *testing.T) {
	r := require.New(t)
	s := newStore(t)

	stale := s.NewPath("old-item", time.Unix(1_600_000_000, 0))
	fresh := s.NewPath("new-item", time.Unix(1_700_000_000, 0))
	r.NoError(s.Save(sampleSession(), stale))
	r.NoError(s.Save(sampleSession(), fresh))
	past := time.Now().Add(-30 * 24 * time.Hour)
	r.NoError(os.Chtimes(stale, past, past))

	n, err := s.PruneOlderThan(7 * 24 * time.Hour)
	r.NoError(err)
	r.Equal(1, n)
	_, err = os.Stat(stale)
	r.True(os.IsNotExist(err))
	_, err = os.Stat(fresh)
	r.NoError(err)
}

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"simple-item", "simple-item"},
		{"with spaces here", "with_spaces_here"},
		{"bad/chars:*?", "badchars"},
		{"many---dashes__and__unders", "many-dashes_and_unders"},
		{"--trim--", "trim"},
		{"!!!", "archive"},
		{"", "archive"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeIdentifier(tt.in), "input %q", tt.in)
	}

	long := strings.Repeat("a", 300)
	got := SanitizeIdentifier(long)
	assert.Len(t, got, hashedPrefixLen+9)
	assert.NotEqual(t, got, SanitizeIdentifier(strings.Repeat("a", 301)), "hash keeps long identifiers distinct")
}
