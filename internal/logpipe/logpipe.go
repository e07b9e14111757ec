// Package logpipe implements the log ingestion and retrieval pipeline
// described in spec.md §4.F: durable per-job append-only log files, an
// in-memory tail buffer for live viewers, strict-order chunk writes with
// gap reporting, section-marker passthrough, and ANSI stripping on
// retrieval. Each job's state is independent; jobs are never multiplexed
// onto each other's files or buffers.
package logpipe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/orcaman/writerseeker"

	"github.com/distr1/buildorch/internal/store"
	"github.com/distr1/buildorch/pb/logpb"
)

// DefaultTailCap bounds the in-memory tail buffer kept per job for live
// viewers, independent of the durable log file's size.
const DefaultTailCap = 64 * 1024

// Archiver uploads a completed job's full log to the artifact object store
// (spec.md §4.F's "archival" step). internal/artifactstore provides the
// concrete implementation.
type Archiver interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
}

type jobState struct {
	mu          sync.Mutex
	started     bool
	expectedSeq int64
	file        *os.File
	tail        *writerseeker.WriterSeeker
	tailLen     int
	gaps        int
}

// Pipeline is the log ingestion/retrieval actor. Dir holds one file per job,
// named "<job_id>.log".
type Pipeline struct {
	Log     *log.Logger
	Store   store.Store
	Dir     string
	TailCap int
	Archive Archiver

	mu   sync.Mutex
	jobs map[int64]*jobState
}

// New returns a Pipeline writing log files under dir.
func New(log *log.Logger, st store.Store, dir string) *Pipeline {
	return &Pipeline{Log: log, Store: st, Dir: dir, TailCap: DefaultTailCap, jobs: make(map[int64]*jobState)}
}

// Ingest handles one frame of the Ingest stream: either a Chunk or a
// Complete message (spec.md §4.F's two-frame wire format collapsed into one
// protobuf oneof-style message here).
func (p *Pipeline) Ingest(ctx context.Context, msg *logpb.LogChunk) error {
	switch {
	case msg.GetChunk() != nil:
		return p.ingestChunk(msg.GetChunk())
	case msg.GetComplete() != nil:
		return p.ingestComplete(ctx, msg.GetComplete().GetJobId())
	default:
		return fmt.Errorf("log chunk has neither chunk nor complete set")
	}
}

func (p *Pipeline) jobStateFor(jobID int64) (*jobState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	js, ok := p.jobs[jobID]
	if ok {
		return js, nil
	}
	f, err := os.OpenFile(filepath.Join(p.Dir, fmt.Sprintf("%d.log", jobID)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file for job %d: %w", jobID, err)
	}
	js = &jobState{file: f, tail: &writerseeker.WriterSeeker{}}
	p.jobs[jobID] = js
	return js, nil
}

// ingestChunk implements the ordering guarantee: a chunk is written only if
// its seq is exactly the expected next value; anything else is dropped and
// counted as a gap rather than reordering the stream. The first chunk a job
// ever sees seeds expectedSeq, since workers may start numbering a job's
// chunks from any base, not necessarily 0.
func (p *Pipeline) ingestChunk(c *logpb.LogChunk_Chunk) error {
	js, err := p.jobStateFor(c.GetJobId())
	if err != nil {
		return err
	}
	js.mu.Lock()
	defer js.mu.Unlock()

	if !js.started {
		js.started = true
		js.expectedSeq = c.GetSeq()
	}

	if c.GetSeq() != js.expectedSeq {
		js.gaps++
		p.Log.Printf("logpipe: job %d: dropping chunk seq %d, expected %d (gap #%d)", c.GetJobId(), c.GetSeq(), js.expectedSeq, js.gaps)
		return nil
	}

	content := c.GetContent()
	if _, err := js.file.Write(content); err != nil {
		return fmt.Errorf("writing log chunk for job %d: %w", c.GetJobId(), err)
	}
	js.expectedSeq++
	p.appendTailLocked(js, content)
	return nil
}

func (p *Pipeline) appendTailLocked(js *jobState, content []byte) {
	limit := p.TailCap
	if limit == 0 {
		limit = DefaultTailCap
	}
	if _, err := js.tail.Write(content); err != nil {
		return
	}
	js.tailLen += len(content)
	if js.tailLen <= limit {
		return
	}
	// Trim to the last limit bytes: read everything back out, slice, and
	// rebuild the buffer rather than shifting in place.
	buf, err := io.ReadAll(js.tail.Reader())
	if err != nil {
		return
	}
	if len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	js.tail = &writerseeker.WriterSeeker{}
	js.tail.Write(buf)
	js.tailLen = len(buf)
}

// ingestComplete closes the job's file and, if an Archiver is configured,
// uploads the full log and marks the job archived (spec.md §4.F's optional
// archival step).
func (p *Pipeline) ingestComplete(ctx context.Context, jobID int64) error {
	p.mu.Lock()
	js, ok := p.jobs[jobID]
	delete(p.jobs, jobID)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	js.mu.Lock()
	path := js.file.Name()
	closeErr := js.file.Close()
	js.mu.Unlock()
	if closeErr != nil {
		return fmt.Errorf("closing log file for job %d: %w", jobID, closeErr)
	}

	if p.Archive == nil {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("reopening log file for job %d to archive: %w", jobID, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat-ing log file for job %d: %w", jobID, err)
	}
	key := fmt.Sprintf("job-log/%d", jobID)
	if err := p.Archive.Put(ctx, key, f, info.Size()); err != nil {
		return fmt.Errorf("archiving log for job %d: %w", jobID, err)
	}
	return p.Store.MarkJobArchived(ctx, jobID)
}

// Tail returns the most recently ingested bytes for jobID, up to TailCap,
// for a live viewer; it does not read the durable file.
func (p *Pipeline) Tail(jobID int64) []byte {
	p.mu.Lock()
	js, ok := p.jobs[jobID]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	js.mu.Lock()
	defer js.mu.Unlock()
	buf, err := io.ReadAll(js.tail.Reader())
	if err != nil {
		return nil
	}
	return buf
}

// Retrieve implements spec.md §4.F's JobLogGet semantics: read from
// startOffset to the end of the durably written log, optionally stripping
// ANSI escapes, and report whether the job's log stream is complete.
func (p *Pipeline) Retrieve(ctx context.Context, jobID int64, startOffset int64, stripANSI bool) (content []byte, stop int64, isComplete bool, err error) {
	path := filepath.Join(p.Dir, fmt.Sprintf("%d.log", jobID))
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, startOffset, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("opening log file for job %d: %w", jobID, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, false, fmt.Errorf("stat-ing log file for job %d: %w", jobID, err)
	}
	if startOffset > info.Size() {
		startOffset = info.Size()
	}
	if _, err := f.Seek(startOffset, io.SeekStart); err != nil {
		return nil, 0, false, fmt.Errorf("seeking log file for job %d: %w", jobID, err)
	}
	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, 0, false, fmt.Errorf("reading log file for job %d: %w", jobID, err)
	}
	if stripANSI {
		buf = stripANSIEscapes(buf)
	}

	job, jerr := p.Store.GetJob(ctx, jobID)
	complete := jerr == nil && job.State.Terminal()
	return buf, startOffset + int64(len(buf)), complete, nil
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

var ansiBufPool = sync.Pool{New: func() interface{} { return &bytes.Buffer{} }}

func stripANSIEscapes(b []byte) []byte {
	buf := ansiBufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer ansiBufPool.Put(buf)
	buf.Write(ansiEscape.ReplaceAll(b, nil))
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}
