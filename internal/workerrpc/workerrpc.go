// Package workerrpc is the gRPC front door for connected workers
// (spec.md §4.E): it terminates the Heartbeats and Commands streams defined
// in pb/worker and feeds them into an internal/workermgr.Manager, and
// implements workermgr.Transport so the manager can push commands back down
// a specific worker's Commands stream.
//
// Grounded on cmd/distri/builder.go's buildsrv, the teacher's other gRPC
// service: one goroutine per stream, Recv-loop until EOF/error, no
// buffering beyond what the manager itself keeps.
package workerrpc

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"google.golang.org/grpc/metadata"

	"github.com/distr1/buildorch/internal/workermgr"
	"github.com/distr1/buildorch/pb/worker"
)

// Manager is the subset of *workermgr.Manager the server drives.
type Manager interface {
	OnHeartbeat(hb *worker.Heartbeat)
	OnJobStatus(ctx context.Context, ident string, st *worker.JobStatus)
}

var _ Manager = (*workermgr.Manager)(nil)

// conn serializes Sends on one worker's Commands stream; gRPC streams allow
// a concurrent Send and Recv but not concurrent Sends from two goroutines.
type conn struct {
	mu     sync.Mutex
	stream worker.Worker_CommandsServer
}

func (c *conn) send(cmd *worker.WorkerCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.Send(cmd)
}

// Server implements worker.WorkerServer and workermgr.Transport.
type Server struct {
	worker.UnimplementedWorkerServer

	Log     *log.Logger
	Manager Manager

	mu    sync.Mutex
	conns map[string]*conn
}

// New returns a Server ready to be registered with a grpc.Server and wired
// into a workermgr.Manager as its Transport.
func New(log *log.Logger, mgr Manager) *Server {
	return &Server{
		Log:     log,
		Manager: mgr,
		conns:   make(map[string]*conn),
	}
}

// Heartbeats implements worker.WorkerServer.
func (s *Server) Heartbeats(stream worker.Worker_HeartbeatsServer) error {
	for {
		hb, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&worker.Empty{})
		}
		if err != nil {
			return err
		}
		s.Manager.OnHeartbeat(hb)
	}
}

// Commands implements worker.WorkerServer. The worker identifies itself via
// an "ident" metadata key on stream creation, since JobStatus (unlike
// Heartbeat) carries no ident field.
func (s *Server) Commands(stream worker.Worker_CommandsServer) error {
	ident, err := identFromContext(stream.Context())
	if err != nil {
		return err
	}

	c := &conn{stream: stream}
	s.register(ident, c)
	defer s.unregister(ident, c)

	for {
		st, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		s.Manager.OnJobStatus(stream.Context(), ident, st)
	}
}

// Send implements workermgr.Transport, pushing cmd down ident's Commands
// stream. It reports false if the worker has no open stream, matching
// spec.md §4.E's "returns false if the worker is no longer connected".
func (s *Server) Send(ident string, cmd *worker.WorkerCommand) bool {
	s.mu.Lock()
	c, ok := s.conns[ident]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return c.send(cmd) == nil
}

func (s *Server) register(ident string, c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[ident] = c
}

// unregister removes c only if it is still the registered connection for
// ident, so a stale defer from a superseded reconnect can't evict the new
// stream.
func (s *Server) unregister(ident string, c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[ident] == c {
		delete(s.conns, ident)
	}
}

func identFromContext(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", fmt.Errorf("workerrpc: Commands stream missing metadata")
	}
	vals := md.Get("ident")
	if len(vals) == 0 || vals[0] == "" {
		return "", fmt.Errorf("workerrpc: Commands stream missing ident metadata")
	}
	return vals[0], nil
}
