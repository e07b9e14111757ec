// Package artifactstore is the narrow client the core uses for the opaque
// byte-keyed artifact KV named in spec.md §1/§6 (package .hart files, and
// archived job logs via internal/logpipe's Archiver interface). No object
// store SDK is wired here: the spec places this behind an interface the
// core only calls, so this stays on a plain HTTP client the way the
// teacher's own internal/repo/reader.go fetches repository files, and
// chunks large uploads the way cmd/distri/builder.go's Store RPC streams
// upload chunks.
package artifactstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/xerrors"
)

// SinglePutLimit is spec.md §6's "single-PUT under 10 MiB, multipart
// above" boundary.
const SinglePutLimit = 10 * 1024 * 1024

// ChunkSize is the per-part size used once an upload exceeds
// SinglePutLimit, matching cmd/distri/builder.go's Retrieve chunk size.
const ChunkSize = 1 * 1024 * 1024

// ErrNotFound mirrors internal/repo's ErrNotFound for a missing key,
// distinguished from other transport failures so callers can map it to
// buildorch.KindNotFound.
type ErrNotFound struct {
	Key string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("artifactstore: key %q not found", e.Key)
}

// Client talks to an HTTP object-store endpoint addressed by key. BaseURL
// is joined with the key to form the request URL, e.g.
// "https://store.internal/artifacts" + "/acme/pkg/1/1/.../foo.hart".
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New returns a Client with a teacher-style tuned transport (see
// internal/repo/reader.go's package-level httpClient).
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
		}},
	}
}

func (c *Client) keyURL(key string) string {
	return c.BaseURL + "/" + url.PathEscape(key)
}

// Put uploads r (of the given size) under key, single-PUT below
// SinglePutLimit and chunked above it.
func (c *Client) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if size <= SinglePutLimit {
		return c.putWhole(ctx, key, r, size)
	}
	return c.putChunked(ctx, key, r, size)
}

func (c *Client) putWhole(ctx context.Context, key string, r io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.keyURL(key), r)
	if err != nil {
		return xerrors.Errorf("artifactstore: building PUT request for %s: %w", key, err)
	}
	req.ContentLength = size
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return xerrors.Errorf("artifactstore: PUT %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return xerrors.Errorf("artifactstore: PUT %s: unexpected status %s", key, resp.Status)
	}
	return nil
}

// putChunked uploads size bytes from r in ChunkSize parts, each addressed
// by a "part" query parameter, followed by a zero-length completion PUT —
// the HTTP analogue of builder.go's Store RPC, which streams a sequence of
// chunk messages terminated by the client closing the stream.
func (c *Client) putChunked(ctx context.Context, key string, r io.Reader, size int64) error {
	buf := make([]byte, ChunkSize)
	var part int
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			partURL := fmt.Sprintf("%s?part=%d", c.keyURL(key), part)
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodPut, partURL, bytes.NewReader(buf[:n]))
			if reqErr != nil {
				return xerrors.Errorf("artifactstore: building part %d request for %s: %w", part, key, reqErr)
			}
			req.ContentLength = int64(n)
			resp, doErr := c.HTTPClient.Do(req)
			if doErr != nil {
				return xerrors.Errorf("artifactstore: PUT %s part %d: %w", key, part, doErr)
			}
			resp.Body.Close()
			if resp.StatusCode/100 != 2 {
				return xerrors.Errorf("artifactstore: PUT %s part %d: unexpected status %s", key, part, resp.Status)
			}
			part++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return xerrors.Errorf("artifactstore: reading %s for upload: %w", key, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, fmt.Sprintf("%s?complete=%d", c.keyURL(key), part), nil)
	if err != nil {
		return xerrors.Errorf("artifactstore: building completion request for %s: %w", key, err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return xerrors.Errorf("artifactstore: completing %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return xerrors.Errorf("artifactstore: completing %s: unexpected status %s", key, resp.Status)
	}
	return nil
}

// Get fetches the full contents stored under key, mirroring
// internal/repo/reader.go's Reader function's plain GET-and-check-status
// shape (without that function's gzip/caching support, which has no
// analogue for immutable artifact blobs).
func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.keyURL(key), nil)
	if err != nil {
		return nil, xerrors.Errorf("artifactstore: building GET request for %s: %w", key, err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, xerrors.Errorf("artifactstore: GET %s: %w", key, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ErrNotFound{Key: key}
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, xerrors.Errorf("artifactstore: GET %s: unexpected status %s", key, resp.Status)
	}
	return resp.Body, nil
}
