package downloader

import (
	"fmt"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/vertextoedge/archive-fetch/internal/domain"
	"github.com/vertextoedge/archive-fetch/internal/port"
)

// SpaceGuard checks free disk space before a download starts
type SpaceGuard struct {
	fs      port.FileSystem
	reserve uint64
}

// NewSpaceGuard creates a SpaceGuard that keeps reserve bytes free
func NewSpaceGuard(fs port.FileSystem, reserve uint64) *SpaceGuard {
	return &SpaceGuard{fs: fs, reserve: reserve}
}

// Check returns a FileSystem error wrapping ENOSPC when a file of the given
// size would eat into the reserve. Unknown sizes only check the reserve.
func (g *SpaceGuard) Check(fileSize int64) error {
	usage, err := g.fs.GetDiskUsage()
	if err != nil {
		return domain.NewFileSystemError("check disk usage", err)
	}

	need := g.reserve
	if fileSize > 0 {
		need += uint64(fileSize)
	}
	if usage.Free < need {
		return domain.NewFileSystemError("check free space",
			fmt.Errorf("need %s, %s free: %w", humanize.IBytes(need), humanize.IBytes(usage.Free), syscall.ENOSPC))
	}
	return nil
}
