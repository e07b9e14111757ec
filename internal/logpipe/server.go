package logpipe

import (
	"io"

	"github.com/distr1/buildorch/pb/logpb"
)

// IngestServer adapts a Pipeline to logpb.LogIngestServer, the worker-facing
// gRPC front door for log frames (spec.md §4.F). Grounded on
// cmd/distri/builder.go's Store/Retrieve streaming handlers: a Recv-loop
// passing each frame straight through, no buffering beyond Pipeline's own.
type IngestServer struct {
	logpb.UnimplementedLogIngestServer

	Pipeline *Pipeline
}

func (s *IngestServer) Ingest(stream logpb.LogIngest_IngestServer) error {
	var lastJobID, lastSeq int64
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&logpb.LogAck{JobId: lastJobID, LastWritten: lastSeq})
		}
		if err != nil {
			return err
		}
		if c := msg.GetChunk(); c != nil {
			lastJobID = c.GetJobId()
			lastSeq = c.GetSeq()
		} else if c := msg.GetComplete(); c != nil {
			lastJobID = c.GetJobId()
		}
		if err := s.Pipeline.Ingest(stream.Context(), msg); err != nil {
			return err
		}
	}
}
