package domain

import (
	"strings"

	"github.com/samber/lo"
)

// FileFilter selects which manifest files a run downloads.
// Zero values disable the corresponding check.
type FileFilter struct {
	IncludeExtensions []string
	ExcludeExtensions []string
	Formats           []string
	Sources           []Source
	MinSize           int64
	MaxSize           int64
}

// ParseExtensionList splits a comma separated extension list into
// lowercase entries without leading dots.
func ParseExtensionList(s string) []string {
	parts := lo.Map(strings.Split(s, ","), func(p string, _ int) string {
		return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(p)), ".")
	})
	return lo.Uniq(lo.Compact(parts))
}

// Match reports whether f passes every configured check.
func (ff FileFilter) Match(f FileDescriptor) bool {
	ext := f.Extension()

	if len(ff.IncludeExtensions) > 0 && !lo.Contains(normalizeExts(ff.IncludeExtensions), ext) {
		return false
	}
	if len(ff.ExcludeExtensions) > 0 && lo.Contains(normalizeExts(ff.ExcludeExtensions), ext) {
		return false
	}
	if len(ff.Formats) > 0 && !lo.ContainsBy(ff.Formats, func(format string) bool {
		return strings.EqualFold(format, f.Format)
	}) {
		return false
	}
	if len(ff.Sources) > 0 && !lo.Contains(ff.Sources, f.Source) {
		return false
	}
	// Unknown sizes pass the size bounds.
	if f.SizeKnown() {
		if ff.MinSize > 0 && f.Size < ff.MinSize {
			return false
		}
		if ff.MaxSize > 0 && f.Size > ff.MaxSize {
			return false
		}
	}
	return true
}

// Apply returns the files that match, preserving manifest order.
func (ff FileFilter) Apply(files []FileDescriptor) []FileDescriptor {
	return lo.Filter(files, func(f FileDescriptor, _ int) bool {
		return ff.Match(f)
	})
}

// SelectFiles resolves the requested names against the manifest and applies
// the filter. An empty request selects the whole manifest. Unknown names are dropped.
func SelectFiles(m *Manifest, requested []string, ff FileFilter) []FileDescriptor {
	files := m.Files
	if len(requested) > 0 {
		files = lo.FilterMap(lo.Uniq(requested), func(name string, _ int) (FileDescriptor, bool) {
			return m.File(name)
		})
	}
	return ff.Apply(files)
}

func normalizeExts(exts []string) []string {
	return lo.Map(exts, func(e string, _ int) string {
		return strings.TrimPrefix(strings.ToLower(e), ".")
	})
}
