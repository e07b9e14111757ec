// Package rpc implements the gateway-facing request/response surface
// (spec.md §4.G): a single JSON envelope endpoint over plain net/http, in
// the style of cmd/autobuilder's bare http.HandleFunc routing — the teacher
// never reaches for a router package, so neither does this.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/distr1/buildorch"
	"github.com/distr1/buildorch/internal/graph"
	"github.com/distr1/buildorch/internal/logpipe"
	"github.com/distr1/buildorch/internal/planner"
	"github.com/distr1/buildorch/internal/store"
)

// Scheduler is the subset of scheduler.Scheduler the RPC surface drives.
type Scheduler interface {
	RequestCancel(groupID int64) bool
}

// Server holds every component the RPC surface dispatches into. Construct
// directly and call RegisterHandlers on a *http.ServeMux (or the
// DefaultServeMux, matching cmd/autobuilder's own http.HandleFunc use).
type Server struct {
	Log       *log.Logger
	Store     store.Store
	Graphs    map[buildorch.Target]*graph.Graph
	Planner   *planner.Planner
	Scheduler Scheduler
	Logs      *logpipe.Pipeline
}

// Envelope is the single request shape every operation arrives in
// (spec.md §6: "a single endpoint accepts a typed envelope {id: string,
// body: …}").
type Envelope struct {
	ID   string          `json:"id"`
	Op   string          `json:"op"`
	Body json.RawMessage `json:"body"`
}

// Response is the single reply shape: exactly one of Result/Error is set.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody mirrors spec.md §7's {code, message} job-error shape for RPC
// failures too.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RegisterHandlers wires the envelope endpoint and a human-readable status
// page, mirroring cmd/autobuilder's main() registering "/status" directly
// on the default mux.
func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/rpc", s.serveRPC)
	mux.HandleFunc("/status", s.serveStatusPage)
}

type handlerFunc func(ctx context.Context, s *Server, body json.RawMessage) (interface{}, error)

var handlers = map[string]handlerFunc{
	"JobGroupSpec":                                 handleJobGroupSpec,
	"JobGroupGet":                                   handleJobGroupGet,
	"JobGroupOriginGet":                             handleJobGroupOriginGet,
	"JobGroupCancel":                                handleJobGroupCancel,
	"JobGet":                                        handleJobGet,
	"JobLogGet":                                     handleJobLogGet,
	"JobGraphPackageReverseDependenciesGet":         handleReverseDepsGet,
	"JobGraphPackageReverseDependenciesGroupedGet":  handleReverseDepsGroupedGet,
	"JobGraphPackagePreCreate":                      handlePackagePreCreate,
	"JobGraphPackageCreate":                         handlePackageCreate,
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var env Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, "", buildorch.KindBadRequest, fmt.Sprintf("decoding envelope: %v", err))
		return
	}
	h, ok := handlers[env.Op]
	if !ok {
		writeError(w, env.ID, buildorch.KindBadRequest, fmt.Sprintf("unknown operation %q", env.Op))
		return
	}

	result, err := h(r.Context(), s, env.Body)
	if err != nil {
		s.Log.Printf("rpc %s (id=%s): %v", env.Op, env.ID, err)
		writeError(w, env.ID, buildorch.KindOf(err), err.Error())
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		writeError(w, env.ID, buildorch.KindInternal, fmt.Sprintf("encoding result: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, Response{ID: env.ID, Result: raw})
}

func writeError(w http.ResponseWriter, id string, kind buildorch.Kind, message string) {
	writeJSON(w, statusFor(kind), Response{ID: id, Error: &ErrorBody{Code: kind.String(), Message: message}})
}

func statusFor(kind buildorch.Kind) int {
	switch kind {
	case buildorch.KindNotFound:
		return http.StatusNotFound
	case buildorch.KindConflict:
		return http.StatusConflict
	case buildorch.KindCircularDependency, buildorch.KindBadRequest:
		return http.StatusBadRequest
	case buildorch.KindUnsupportedTarget:
		return http.StatusBadRequest
	case buildorch.KindUnauthorized:
		return http.StatusUnauthorized
	case buildorch.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// --- JobGroupSpec ---

type jobGroupSpecRequest struct {
	Origin      string `json:"origin"`
	Package     string `json:"package"`
	Target      string `json:"target"`
	TriggeredBy string `json:"triggered_by"`
	Requester   string `json:"requester"`
}

func handleJobGroupSpec(ctx context.Context, s *Server, body json.RawMessage) (interface{}, error) {
	var req jobGroupSpecRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, buildorch.Errorf(buildorch.KindBadRequest, err, "decoding JobGroupSpec request")
	}
	res, err := s.Planner.Spec(ctx, planner.SpecRequest{
		Origin:      req.Origin,
		Package:     req.Package,
		Target:      buildorch.Target(req.Target),
		TriggeredBy: req.TriggeredBy,
		Requester:   req.Requester,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// --- JobGroupGet ---

type jobGroupGetRequest struct {
	GroupID        int64 `json:"group_id"`
	IncludeEntries bool  `json:"include_entries"`
}

type jobGroupGetResult struct {
	Group   *store.Group   `json:"group"`
	Entries []*store.Entry `json:"entries,omitempty"`
}

func handleJobGroupGet(ctx context.Context, s *Server, body json.RawMessage) (interface{}, error) {
	var req jobGroupGetRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, buildorch.Errorf(buildorch.KindBadRequest, err, "decoding JobGroupGet request")
	}
	g, err := s.Store.GetGroup(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	res := &jobGroupGetResult{Group: g}
	if req.IncludeEntries {
		entries, err := s.Store.ListEntriesByGroup(ctx, req.GroupID)
		if err != nil {
			return nil, err
		}
		res.Entries = entries
	}
	return res, nil
}

// --- JobGroupOriginGet ---

type jobGroupOriginGetRequest struct {
	Origin string `json:"origin"`
	Limit  int    `json:"limit"`
}

func handleJobGroupOriginGet(ctx context.Context, s *Server, body json.RawMessage) (interface{}, error) {
	var req jobGroupOriginGetRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, buildorch.Errorf(buildorch.KindBadRequest, err, "decoding JobGroupOriginGet request")
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}
	groups, err := s.Store.ListGroupsByOrigin(ctx, req.Origin, req.Limit)
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// --- JobGroupCancel ---

type jobGroupCancelRequest struct {
	GroupID int64 `json:"group_id"`
}

type jobGroupCancelResult struct {
	Accepted bool `json:"accepted"`
}

func handleJobGroupCancel(ctx context.Context, s *Server, body json.RawMessage) (interface{}, error) {
	var req jobGroupCancelRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, buildorch.Errorf(buildorch.KindBadRequest, err, "decoding JobGroupCancel request")
	}
	g, err := s.Store.GetGroup(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	if g.State.Terminal() {
		return nil, buildorch.Errorf(buildorch.KindConflict, nil, "group %d is already %s (AlreadyTerminal)", req.GroupID, g.State)
	}
	if !s.Scheduler.RequestCancel(req.GroupID) {
		return nil, buildorch.Errorf(buildorch.KindUpstreamUnavailable, nil, "scheduler cancel queue is full, retry")
	}
	return &jobGroupCancelResult{Accepted: true}, nil
}

// --- JobGet ---

type jobGetRequest struct {
	JobID int64 `json:"job_id"`
}

func handleJobGet(ctx context.Context, s *Server, body json.RawMessage) (interface{}, error) {
	var req jobGetRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, buildorch.Errorf(buildorch.KindBadRequest, err, "decoding JobGet request")
	}
	job, err := s.Store.GetJob(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// --- JobLogGet ---

type jobLogGetRequest struct {
	JobID int64 `json:"job_id"`
	Start int64 `json:"start"`
	Color bool  `json:"color"`
}

type jobLogGetResult struct {
	Content  []byte `json:"content"`
	Stop     int64  `json:"stop"`
	Complete bool   `json:"complete"`
}

func handleJobLogGet(ctx context.Context, s *Server, body json.RawMessage) (interface{}, error) {
	var req jobLogGetRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, buildorch.Errorf(buildorch.KindBadRequest, err, "decoding JobLogGet request")
	}
	if _, err := s.Store.GetJob(ctx, req.JobID); err != nil {
		return nil, err
	}
	content, stop, complete, err := s.Logs.Retrieve(ctx, req.JobID, req.Start, !req.Color)
	if err != nil {
		return nil, err
	}
	return &jobLogGetResult{Content: content, Stop: stop, Complete: complete}, nil
}

// --- JobGraphPackageReverseDependenciesGet ---

type rdepsRequest struct {
	Origin string `json:"origin"`
	Name   string `json:"name"`
	Target string `json:"target"`
}

func handleReverseDepsGet(ctx context.Context, s *Server, body json.RawMessage) (interface{}, error) {
	var req rdepsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, buildorch.Errorf(buildorch.KindBadRequest, err, "decoding JobGraphPackageReverseDependenciesGet request")
	}
	g, ok := s.Graphs[buildorch.Target(req.Target)]
	if !ok {
		return nil, buildorch.Errorf(buildorch.KindUnsupportedTarget, nil, "target %s is not configured", req.Target)
	}
	short := buildorch.ShortIdent{Origin: req.Origin, Name: req.Name}
	if _, ok := g.Resolve(short); !ok {
		return nil, buildorch.Errorf(buildorch.KindNotFound, nil, "unknown package %s (UnknownPackage)", short)
	}
	return g.Rdeps(short), nil
}

// --- JobGraphPackageReverseDependenciesGroupedGet ---

type groupedRdeps struct {
	GroupID int64             `json:"group_id"`
	Idents  []buildorch.Ident `json:"idents"`
}

// handleReverseDepsGroupedGet groups the same rdeps set by the most recent
// groups for the package's origin. This is necessarily bounded by how many
// groups ListGroupsByOrigin is asked to scan (groupScanLimit below); there
// is no store query for "entries across all groups matching a project
// name," so older groups containing a matching entry can be missed.
const groupScanLimit = 200

func handleReverseDepsGroupedGet(ctx context.Context, s *Server, body json.RawMessage) (interface{}, error) {
	var req rdepsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, buildorch.Errorf(buildorch.KindBadRequest, err, "decoding JobGraphPackageReverseDependenciesGroupedGet request")
	}
	g, ok := s.Graphs[buildorch.Target(req.Target)]
	if !ok {
		return nil, buildorch.Errorf(buildorch.KindUnsupportedTarget, nil, "target %s is not configured", req.Target)
	}
	short := buildorch.ShortIdent{Origin: req.Origin, Name: req.Name}
	rdeps := g.Rdeps(short)
	wanted := make(map[buildorch.ShortIdent]bool, len(rdeps))
	for _, id := range rdeps {
		wanted[id.Short()] = true
	}

	groups, err := s.Store.ListGroupsByOrigin(ctx, req.Origin, groupScanLimit)
	if err != nil {
		return nil, err
	}
	var out []groupedRdeps
	for _, grp := range groups {
		entries, err := s.Store.ListEntriesByGroup(ctx, grp.ID)
		if err != nil {
			return nil, err
		}
		var idents []buildorch.Ident
		for _, e := range entries {
			if wanted[e.ProjectName] {
				idents = append(idents, e.ManifestIdent)
			}
		}
		if len(idents) > 0 {
			out = append(out, groupedRdeps{GroupID: grp.ID, Idents: idents})
		}
	}
	return out, nil
}

// --- JobGraphPackagePreCreate / JobGraphPackageCreate ---

type packageRecordRequest struct {
	Origin     string            `json:"origin"`
	Name       string            `json:"name"`
	Version    string            `json:"version"`
	Release    string            `json:"release"`
	Target     string            `json:"target"`
	Deps       []buildorch.Ident `json:"deps"`
	BuildDeps  []buildorch.Ident `json:"build_deps"`
	Manifest   string            `json:"manifest"`
	Checksum   string            `json:"checksum"`
	Visibility string            `json:"visibility"`
}

func (r *packageRecordRequest) ident() buildorch.Ident {
	return buildorch.Ident{Origin: r.Origin, Name: r.Name, Version: r.Version, Release: r.Release}
}

// depEdges builds the graph.Dep list for a package record: runtime edges
// for Deps, build edges for BuildDeps, matching try_extend's
// "use_build_deps" input (spec.md §4.A).
func depEdges(r *packageRecordRequest) []graph.Dep {
	edges := make([]graph.Dep, 0, len(r.Deps)+len(r.BuildDeps))
	for _, d := range r.Deps {
		edges = append(edges, graph.Dep{Ident: d, Kind: graph.EdgeRuntime})
	}
	for _, d := range r.BuildDeps {
		edges = append(edges, graph.Dep{Ident: d, Kind: graph.EdgeBuild})
	}
	return edges
}

type okResult struct {
	OK bool `json:"ok"`
}

func handlePackagePreCreate(_ context.Context, s *Server, body json.RawMessage) (interface{}, error) {
	var req packageRecordRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, buildorch.Errorf(buildorch.KindBadRequest, err, "decoding JobGraphPackagePreCreate request")
	}
	g, ok := s.Graphs[buildorch.Target(req.Target)]
	if !ok {
		return nil, buildorch.Errorf(buildorch.KindUnsupportedTarget, nil, "target %s is not configured", req.Target)
	}
	scratch := g.Clone()
	if _, err := scratch.TryExtend(req.ident(), depEdges(&req)); err != nil {
		if err == graph.ErrCycle {
			return nil, buildorch.Errorf(buildorch.KindCircularDependency, err, "package %s would create a runtime cycle", req.ident())
		}
		return nil, err
	}
	return &okResult{OK: true}, nil
}

func handlePackageCreate(ctx context.Context, s *Server, body json.RawMessage) (interface{}, error) {
	var req packageRecordRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, buildorch.Errorf(buildorch.KindBadRequest, err, "decoding JobGraphPackageCreate request")
	}
	g, ok := s.Graphs[buildorch.Target(req.Target)]
	if !ok {
		return nil, buildorch.Errorf(buildorch.KindUnsupportedTarget, nil, "target %s is not configured", req.Target)
	}

	rec := &store.PackageRecord{
		Ident:      req.ident(),
		Target:     buildorch.Target(req.Target),
		Deps:       req.Deps,
		BuildDeps:  req.BuildDeps,
		Manifest:   req.Manifest,
		Checksum:   req.Checksum,
		Visibility: store.Visibility(req.Visibility),
	}
	if _, err := s.Store.InsertPackage(ctx, rec); err != nil {
		return nil, err
	}

	if _, err := g.TryExtend(req.ident(), depEdges(&req)); err != nil {
		// The row is already persisted; log but do not fail the upload over
		// a graph that will self-heal on the next rebuild-from-store.
		s.Log.Printf("JobGraphPackageCreate: extending live graph for %s: %v", req.ident(), err)
	}
	return &okResult{OK: true}, nil
}

// --- status page ---

var statusTmpl = template.Must(template.New("").Parse(`<!DOCTYPE html>
<head>
<meta charset="utf-8">
<title>buildorch status</title>
<style type="text/css">
td { padding: 0.5em; }
</style>
</head>
<body>
<h1>recent groups</h1>
<table width="100%" cellpadding=0 cellspacing=0>
{{ range .Groups }}
<tr>
<td>{{ .ID }}</td>
<td>{{ .RootProject }}</td>
<td>{{ .Target }}</td>
<td>{{ .State }}</td>
<td>{{ .UpdatedAt.Format "2006-01-02T15:04:05Z07:00" }}</td>
</tr>
{{ end }}
</table>
<p>generated {{ .Now }}</p>
</body>
</html>`))

func (s *Server) serveStatusPage(w http.ResponseWriter, r *http.Request) {
	origin := r.URL.Query().Get("origin")
	groups, err := s.Store.ListGroupsByOrigin(r.Context(), origin, 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := statusTmpl.Execute(w, struct {
		Groups []*store.Group
		Now    time.Time
	}{Groups: groups, Now: time.Now()}); err != nil {
		s.Log.Printf("serveStatusPage: %v", err)
	}
}
