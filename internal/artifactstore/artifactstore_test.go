package artifactstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestPutWholeBelowLimit(t *testing.T) {
	var mu sync.Mutex
	var gotBody []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		b, _ := io.ReadAll(r.Body)
		gotBody = b
		w.WriteHeader(http.StatusNoContent)
	})

	payload := []byte("hello artifact")
	if err := c.Put(context.Background(), "acme/pkg/1/1/x.hart", bytes.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatalf("Put: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if string(gotBody) != string(payload) {
		t.Fatalf("uploaded body = %q, want %q", gotBody, payload)
	}
}

func TestPutChunkedAboveLimit(t *testing.T) {
	var mu sync.Mutex
	var parts [][]byte
	var completedWithParts string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.URL.Query().Get("complete") != "" {
			completedWithParts = r.URL.Query().Get("complete")
			w.WriteHeader(http.StatusOK)
			return
		}
		b, _ := io.ReadAll(r.Body)
		parts = append(parts, b)
		w.WriteHeader(http.StatusOK)
	})

	payload := bytes.Repeat([]byte("x"), SinglePutLimit+1)
	if err := c.Put(context.Background(), "acme/pkg/1/1/big.hart", bytes.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatalf("Put: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	wantParts := (len(payload) + ChunkSize - 1) / ChunkSize
	if len(parts) != wantParts {
		t.Fatalf("uploaded %d parts, want %d", len(parts), wantParts)
	}
	if completedWithParts == "" {
		t.Fatalf("completion request never arrived")
	}
	var total int
	for _, p := range parts {
		total += len(p)
	}
	if total != len(payload) {
		t.Fatalf("uploaded %d bytes total, want %d", total, len(payload))
	}
}

func TestGetNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	_, err := c.Get(context.Background(), "missing")
	if _, ok := err.(ErrNotFound); !ok {
		t.Fatalf("Get error = %v (%T), want ErrNotFound", err, err)
	}
}

func TestGetOK(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("contents"))
	})
	rc, err := c.Get(context.Background(), "acme/pkg/1/1/x.hart")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(b) != "contents" {
		t.Fatalf("body = %q, want %q", b, "contents")
	}
}
