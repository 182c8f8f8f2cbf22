package archive

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"

	"github.com/vertextoedge/archive-fetch/internal/domain"
	"github.com/vertextoedge/archive-fetch/internal/port"
)

// Ensure Client implements port.ArchiveClient
var _ port.ArchiveClient = (*Client)(nil)

// FileURL returns the download URL for name. With a mirror server and an
// item directory it points at the mirror, otherwise at the /download endpoint.
func (c *Client) FileURL(m *domain.Manifest, server, name string) string {
	escaped := escapePath(name)
	if server != "" && m.Dir != "" {
		scheme := "https"
		if u, err := url.Parse(c.cfg.BaseURL); err == nil && u.Scheme != "" {
			scheme = u.Scheme
		}
		return scheme + "://" + server + "/" + strings.Trim(escapePath(m.Dir), "/") + "/" + escaped
	}
	return c.cfg.BaseURL + "/download/" + url.PathEscape(m.Identifier) + "/" + escaped
}

// OpenFile starts a download of fileURL. The request deadline is sized from
// the expected length. The returned reader releases the deadline on Close
// and reports read failures as network errors, or as context.Canceled when
// ctx was cancelled.
func (c *Client) OpenFile(ctx context.Context, fileURL string, size int64) (io.ReadCloser, int64, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.Timeout(size))

	resp, err := c.Get(reqCtx, fileURL, RequestOptions{})
	if err != nil {
		cancel()
		return nil, 0, err
	}

	return &bodyReader{
		body:   resp.Body,
		parent: ctx,
		cancel: cancel,
		op:     "read " + fileURL,
	}, resp.ContentLength, nil
}

type bodyReader struct {
	body   io.ReadCloser
	parent context.Context
	cancel context.CancelFunc
	op     string
}

func (r *bodyReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if err == nil || err == io.EOF {
		return n, err
	}
	if errors.Is(r.parent.Err(), context.Canceled) {
		return n, r.parent.Err()
	}
	return n, domain.NewNetworkError(r.op, 0, err)
}

func (r *bodyReader) Close() error {
	defer r.cancel()
	return r.body.Close()
}

func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
