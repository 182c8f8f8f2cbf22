package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/archive-fetch/internal/domain"
)

const maxMetadataBytes = 64 << 20

// FetchManifest downloads and parses the manifest for identifier, retrying
// transient failures with the metadata retry policy.
func (c *Client) FetchManifest(ctx context.Context, identifier string) (*domain.Manifest, error) {
	if err := ValidateIdentifier(identifier); err != nil {
		return nil, err
	}
	metadataURL := c.cfg.BaseURL + "/metadata/" + url.PathEscape(identifier)

	var manifest *domain.Manifest
	err := c.metadataRetry.Do(ctx, func(attempt int) error {
		m, err := c.fetchManifestOnce(ctx, metadataURL, identifier)
		if err != nil {
			return err
		}
		manifest = m
		return nil
	}, func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("manifest fetch failed, retrying",
			zap.String("identifier", identifier),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("manifest fetched",
		zap.String("identifier", identifier),
		zap.Int("files", len(manifest.Files)),
		zap.String("server", manifest.Server),
		zap.Int("mirrors", len(manifest.WorkableServers)))
	return manifest, nil
}

func (c *Client) fetchManifestOnce(ctx context.Context, metadataURL, identifier string) (*domain.Manifest, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.BaseTimeout)
	defer cancel()

	resp, err := c.Get(reqCtx, metadataURL, RequestOptions{Accept: "application/json"})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, domain.NewNetworkError("read metadata", 0, err)
	}
	return ParseMetadata(body, identifier)
}

// ParseMetadata converts a /metadata response body into a Manifest.
func ParseMetadata(body []byte, identifier string) (*domain.Manifest, error) {
	var raw metadataResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, domain.NewParseError("decode metadata for "+identifier, err)
	}
	if raw.Error != "" {
		return nil, domain.NewInvalidInputError("metadata for "+identifier, errors.New(raw.Error))
	}
	if raw.IsDark {
		return nil, domain.NewInvalidInputError("metadata for "+identifier, errors.New("item is dark"))
	}
	if len(raw.Files) == 0 {
		return nil, domain.NewInvalidInputError("metadata for "+identifier,
			fmt.Errorf("%w: item %q not found or empty", domain.ErrEmptyManifest, identifier))
	}

	server := raw.Server
	if server == "" {
		server = raw.D1
	}
	servers := raw.WorkableServers
	if len(servers) == 0 {
		for _, s := range []string{raw.D1, raw.D2} {
			if s != "" {
				servers = append(servers, s)
			}
		}
	}

	m := &domain.Manifest{
		Identifier:      identifier,
		Server:          server,
		Dir:             raw.Dir,
		WorkableServers: servers,
		Files:           make([]domain.FileDescriptor, 0, len(raw.Files)),
		ItemSize:        int64(raw.ItemSize),
		FilesCount:      raw.FilesCount,
		Created:         raw.Created,
		ItemLastUpdated: raw.ItemLastUpdated,
	}
	for _, f := range raw.Files {
		if f.Name == "" {
			continue
		}
		m.Files = append(m.Files, domain.FileDescriptor{
			Name:   f.Name,
			Source: domain.Source(strings.ToLower(f.Source)),
			Format: f.Format,
			Size:   int64(f.Size),
			MTime:  int64(f.MTime),
			MD5:    strings.ToLower(f.MD5),
			SHA1:   strings.ToLower(f.SHA1),
			CRC32:  strings.ToLower(f.CRC32),
		})
	}
	if m.FilesCount == 0 {
		m.FilesCount = len(m.Files)
	}
	return m, nil
}
