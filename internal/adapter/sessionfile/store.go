// Package sessionfile persists download sessions as JSON files, one file per run.
package sessionfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vertextoedge/archive-fetch/internal/adapter/filesystem"
	"github.com/vertextoedge/archive-fetch/internal/domain"
	"github.com/vertextoedge/archive-fetch/internal/port"
)

// FilePrefix starts every session file name
const FilePrefix = "archive-fetch-session"

const (
	maxIdentifierPart = 200
	hashedPrefixLen   = 190
)

// Store reads and writes session files in one directory
type Store struct {
	dir string
}

// Ensure Store implements port.SessionStore
var _ port.SessionStore = (*Store)(nil)

// NewStore creates a Store rooted at dir, creating it if needed
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, domain.NewFileSystemError("create session dir", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the session directory
func (s *Store) Dir() string {
	return s.dir
}

// Load reads the session at path. A missing file is not an error and
// returns a nil session; malformed content is a parse error.
func (s *Store) Load(path string) (*domain.DownloadSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, domain.NewFileSystemError("read session "+path, err)
	}

	var session domain.DownloadSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, domain.NewParseError("decode session "+path, err)
	}
	if session.Identifier == "" {
		return nil, domain.NewParseError("decode session "+path, errors.New("missing identifier"))
	}
	if session.Files == nil {
		session.Files = make(map[string]*domain.FileProgress)
	}
	return &session, nil
}

// Save writes session to path atomically. Output is deterministic: the same
// session always encodes to the same bytes.
func (s *Store) Save(session *domain.DownloadSession, path string) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return domain.NewParseError("encode session", err)
	}
	return filesystem.WriteFileAtomic(path, append(data, '\n'), 0644)
}

// NewPath returns the path for a new session file of identifier created at now
func (s *Store) NewPath(identifier string, now time.Time) string {
	name := fmt.Sprintf("%s-%s-%d.json", FilePrefix, SanitizeIdentifier(identifier), now.Unix())
	return filepath.Join(s.dir, name)
}

// FindLatest returns the most recently modified session file for identifier,
// or "" when there is none.
func (s *Store) FindLatest(identifier string) (string, error) {
	files, err := s.list(SanitizeIdentifier(identifier))
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", nil
	}
	return files[0].path, nil
}

// PruneOlderThan deletes session files of any identifier last modified
// before now minus age, and returns how many were removed.
func (s *Store) PruneOlderThan(age time.Duration) (int, error) {
	files, err := s.list("")
	if err != nil {
		return 0, err
	}
	threshold := time.Now().Add(-age)
	removed := 0
	for _, f := range files {
		if f.modTime.Before(threshold) {
			if err := os.Remove(f.path); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

type sessionFile struct {
	path    string
	modTime time.Time
	stamp   int64
}

// list returns session files newest first. An empty id lists every session.
func (s *Store) list(id string) ([]sessionFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, domain.NewFileSystemError("list sessions", err)
	}

	prefix := FilePrefix + "-"
	if id != "" {
		prefix += id + "-"
	}

	var files []sessionFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		rest := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
		if id == "" {
			if i := strings.LastIndex(rest, "-"); i >= 0 {
				rest = rest[i+1:]
			}
		}
		stamp, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			// Belongs to a longer identifier sharing this prefix
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, sessionFile{
			path:    filepath.Join(s.dir, name),
			modTime: info.ModTime(),
			stamp:   stamp,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if !files[i].modTime.Equal(files[j].modTime) {
			return files[i].modTime.After(files[j].modTime)
		}
		return files[i].stamp > files[j].stamp
	})
	return files, nil
}

// SanitizeIdentifier turns an identifier into a safe file name component.
// Letters, digits, '-', '_' and '.' are kept, spaces become '_', everything
// else is dropped. Runs of '-' or '_' collapse to one. Overlong values are
// shortened and suffixed with a hash of the full identifier.
func SanitizeIdentifier(identifier string) string {
	var b strings.Builder
	var prev rune
	for _, r := range identifier {
		switch {
		case r == ' ':
			r = '_'
		case r == '-' || r == '_' || r == '.':
		case r < 0x80 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'):
		default:
			continue
		}
		if (r == '-' || r == '_') && r == prev {
			continue
		}
		b.WriteRune(r)
		prev = r
	}

	out := strings.Trim(b.String(), "-_.")
	if out == "" {
		return "archive"
	}
	if len(out) > maxIdentifierPart {
		h := fnv.New32a()
		h.Write([]byte(identifier))
		out = fmt.Sprintf("%s_%08x", out[:hashedPrefixLen], h.Sum32())
	}
	return out
}
