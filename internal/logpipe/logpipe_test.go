package logpipe

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/distr1/buildorch/internal/store/memstore"
	"github.com/distr1/buildorch/pb/logpb"
)

func testLog() *log.Logger { return log.New(io.Discard, "", 0) }

func chunk(jobID, seq int64, content string) *logpb.LogChunk {
	return &logpb.LogChunk{Chunk: &logpb.LogChunk_Chunk{JobId: jobID, Seq: seq, Content: []byte(content)}}
}

func complete(jobID int64) *logpb.LogChunk {
	return &logpb.LogChunk{Complete: &logpb.LogChunk_Complete{JobId: jobID}}
}

func TestIngestWritesChunksInOrder(t *testing.T) {
	ctx := context.Background()
	p := New(testLog(), memstore.New(), t.TempDir())

	for i, s := range []string{"line one\n", "line two\n", "line three\n"} {
		if err := p.Ingest(ctx, chunk(1, int64(i), s)); err != nil {
			t.Fatalf("Ingest chunk %d: %v", i, err)
		}
	}
	if err := p.Ingest(ctx, complete(1)); err != nil {
		t.Fatalf("Ingest complete: %v", err)
	}

	content, _, _, err := p.Retrieve(ctx, 1, 0, false)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	want := "line one\nline two\nline three\n"
	if string(content) != want {
		t.Fatalf("content = %q, want %q", content, want)
	}
}

func TestIngestDropsOutOfOrderChunk(t *testing.T) {
	ctx := context.Background()
	p := New(testLog(), memstore.New(), t.TempDir())

	if err := p.Ingest(ctx, chunk(2, 0, "first\n")); err != nil {
		t.Fatalf("Ingest seq 0: %v", err)
	}
	// seq 2 skips seq 1: dropped, not buffered out of order.
	if err := p.Ingest(ctx, chunk(2, 2, "third\n")); err != nil {
		t.Fatalf("Ingest seq 2: %v", err)
	}
	if err := p.Ingest(ctx, chunk(2, 1, "second\n")); err != nil {
		t.Fatalf("Ingest seq 1: %v", err)
	}

	content, _, _, err := p.Retrieve(ctx, 2, 0, false)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	want := "first\nsecond\n"
	if string(content) != want {
		t.Fatalf("content = %q, want %q (seq-2 chunk should have been dropped as a gap)", content, want)
	}
}

func TestIngestSeedsExpectedSeqFromFirstChunk(t *testing.T) {
	ctx := context.Background()
	p := New(testLog(), memstore.New(), t.TempDir())

	// Worker numbers this job's chunks starting at 1, not 0: seq 1 and 2
	// persist, seq 4 skips seq 3 and is dropped as a gap.
	if err := p.Ingest(ctx, chunk(5, 1, "one\n")); err != nil {
		t.Fatalf("Ingest seq 1: %v", err)
	}
	if err := p.Ingest(ctx, chunk(5, 2, "two\n")); err != nil {
		t.Fatalf("Ingest seq 2: %v", err)
	}
	if err := p.Ingest(ctx, chunk(5, 4, "four\n")); err != nil {
		t.Fatalf("Ingest seq 4: %v", err)
	}

	content, _, _, err := p.Retrieve(ctx, 5, 0, false)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	want := "one\ntwo\n"
	if string(content) != want {
		t.Fatalf("content = %q, want %q (seq-4 chunk should have been dropped as a gap)", content, want)
	}
}

func TestRetrieveStripsANSI(t *testing.T) {
	ctx := context.Background()
	p := New(testLog(), memstore.New(), t.TempDir())

	if err := p.Ingest(ctx, chunk(3, 0, "\x1b[31mred\x1b[0m plain\n")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	content, _, _, err := p.Retrieve(ctx, 3, 0, true)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if string(content) != "red plain\n" {
		t.Fatalf("content = %q, want %q", content, "red plain\n")
	}
}

func TestTailReturnsRecentBytes(t *testing.T) {
	ctx := context.Background()
	p := New(testLog(), memstore.New(), t.TempDir())
	p.TailCap = 5

	for _, s := range []string{"aaa", "bbb", "ccc"} {
		if err := p.Ingest(ctx, &logpb.LogChunk{Chunk: &logpb.LogChunk_Chunk{JobId: 4, Seq: seqFor(p, 4), Content: []byte(s)}}); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	tail := p.Tail(4)
	if len(tail) > 5 {
		t.Fatalf("tail length = %d, want <= 5", len(tail))
	}
	if got, want := string(tail), "bbccc"; got != want {
		t.Fatalf("tail = %q, want %q (last 5 bytes of aaabbbccc)", got, want)
	}
}

func seqFor(p *Pipeline, jobID int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	js, ok := p.jobs[jobID]
	if !ok {
		return 0
	}
	return js.expectedSeq
}
