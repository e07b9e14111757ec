// Command buildorchd is the build orchestration daemon: it owns the
// dependency graph, the scheduler, the worker manager, and the log
// pipeline, and exposes them over the JSON RPC envelope (HTTP) and the
// worker-facing gRPC streams. Flag-per-concern configuration and
// SIGINT/SIGTERM-driven shutdown mirror cmd/autobuilder's main().
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/distr1/buildorch"
	"github.com/distr1/buildorch/internal/artifactstore"
	"github.com/distr1/buildorch/internal/graph"
	"github.com/distr1/buildorch/internal/logpipe"
	"github.com/distr1/buildorch/internal/planner"
	"github.com/distr1/buildorch/internal/rpc"
	"github.com/distr1/buildorch/internal/scheduler"
	"github.com/distr1/buildorch/internal/secretcache"
	"github.com/distr1/buildorch/internal/store"
	"github.com/distr1/buildorch/internal/store/postgres"
	"github.com/distr1/buildorch/internal/vcshook"
	"github.com/distr1/buildorch/internal/workermgr"
	"github.com/distr1/buildorch/internal/workerrpc"
	"github.com/distr1/buildorch/pb/logpb"
	"github.com/distr1/buildorch/pb/worker"
)

// planTrigger adapts *planner.Planner to vcshook.Trigger: the webhook
// producer names one commit at a time, the planner wants a full
// SpecRequest.
type planTrigger struct {
	p *planner.Planner
}

func (t planTrigger) Spec(ctx context.Context, origin, pkg string, target buildorch.Target, triggeredBy, requester string) error {
	_, err := t.p.Spec(ctx, planner.SpecRequest{
		Origin:      origin,
		Package:     pkg,
		Target:      target,
		TriggeredBy: triggeredBy,
		Requester:   requester,
	})
	return err
}

// rebuildGraphs reconstructs one graph.Graph per target from the packages
// already persisted in st, matching the data model's "process-local state
// rebuilt on startup from the package records in the store."
func rebuildGraphs(ctx context.Context, log *log.Logger, st store.Store) (map[buildorch.Target]*graph.Graph, error) {
	graphs := make(map[buildorch.Target]*graph.Graph, len(buildorch.Targets))
	for target := range buildorch.Targets {
		g := graph.New()
		records, err := st.ListPackagesByTarget(ctx, target)
		if err != nil {
			return nil, buildorch.Errorf(buildorch.KindInternal, err, "listing packages for target %s", target)
		}
		for _, p := range records {
			edges := make([]graph.Dep, 0, len(p.Deps)+len(p.BuildDeps))
			for _, d := range p.Deps {
				edges = append(edges, graph.Dep{Ident: d, Kind: graph.EdgeRuntime})
			}
			for _, d := range p.BuildDeps {
				edges = append(edges, graph.Dep{Ident: d, Kind: graph.EdgeBuild})
			}
			if _, err := g.TryExtend(p.Ident, edges); err != nil {
				log.Printf("buildorchd: rebuilding graph for %s: skipping %s: %v", target, p.Ident, err)
			}
		}
		graphs[target] = g
		log.Printf("buildorchd: rebuilt %s graph from %d package records", target, len(records))
	}
	return graphs, nil
}

func targetList() []buildorch.Target {
	out := make([]buildorch.Target, 0, len(buildorch.Targets))
	for t := range buildorch.Targets {
		out = append(out, t)
	}
	return out
}

func main() {
	var (
		dsn          = flag.String("dsn", "postgres:///buildorch?sslmode=disable", "postgres data source name")
		httpAddr     = flag.String("http_addr", ":3718", "address to serve the JSON RPC envelope and status page on")
		grpcAddr     = flag.String("grpc_addr", ":3719", "address to serve the worker-facing gRPC streams on")
		logDir       = flag.String("log_dir", "/var/lib/buildorchd/logs", "directory to store per-job log files in")
		artifactBase = flag.String("artifact_store", "", "base URL of the artifact object store (archival disabled if empty)")

		vcsRepo     = flag.String("vcs_repo", "", "VCS repository to poll for new commits (polling disabled if empty)")
		vcsBranch   = flag.String("vcs_branch", "main", "branch of -vcs_repo to poll")
		vcsOrigin   = flag.String("vcs_origin", "", "origin to attribute polled commits to")
		vcsPackage  = flag.String("vcs_package", "", "package to spec a build for on each polled commit")
		vcsTarget   = flag.String("vcs_target", string(buildorch.TargetX8664Linux), "target to build -vcs_package for")
		githubToken = flag.String("github_access_token", "", "oauth2 GitHub access token for -vcs_repo polling")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "buildorchd: ", log.LstdFlags)

	ctx, canc := buildorch.InterruptibleContext()
	defer canc()
	defer func() {
		if err := buildorch.RunAtExit(); err != nil {
			logger.Printf("buildorchd: atexit: %v", err)
		}
	}()

	st, err := postgres.Open(ctx, *dsn)
	if err != nil {
		logger.Fatalf("%+v", err)
	}
	buildorch.RegisterAtExit(st.Close)
	if err := st.Migrate(ctx); err != nil {
		logger.Fatalf("%+v", err)
	}

	graphs, err := rebuildGraphs(ctx, logger, st)
	if err != nil {
		logger.Fatalf("%+v", err)
	}

	if err := os.MkdirAll(*logDir, 0o755); err != nil {
		logger.Fatalf("creating -log_dir: %v", err)
	}

	plan := &planner.Planner{Log: logger, Store: st, Graphs: graphs}
	sched := scheduler.New(logger, st, targetList())
	secrets := secretcache.New(logger)
	logs := logpipe.New(logger, st, *logDir)
	if *artifactBase != "" {
		logs.Archive = artifactstore.New(*artifactBase)
	}

	wtransport := workerrpc.New(logger, nil)
	mgr := workermgr.New(logger, st, sched, secrets, wtransport, targetList())
	wtransport.Manager = mgr

	if err := mgr.Recover(ctx); err != nil {
		logger.Fatalf("recovering worker manager state: %v", err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return sched.Run(ctx) })
	eg.Go(func() error { return mgr.Run(ctx) })

	gs := grpc.NewServer()
	worker.RegisterWorkerServer(gs, wtransport)
	logpb.RegisterLogIngestServer(gs, &logpipe.IngestServer{Pipeline: logs})
	lis, err := net.Listen("tcp", *grpcAddr)
	if err != nil {
		logger.Fatalf("listening on -grpc_addr: %v", err)
	}
	eg.Go(func() error { return gs.Serve(lis) })
	eg.Go(func() error {
		<-ctx.Done()
		gs.GracefulStop()
		return nil
	})

	rpcSrv := &rpc.Server{
		Log:       logger,
		Store:     st,
		Graphs:    graphs,
		Planner:   plan,
		Scheduler: sched,
		Logs:      logs,
	}
	mux := http.NewServeMux()
	rpcSrv.RegisterHandlers(mux)
	httpSrv := &http.Server{Addr: *httpAddr, Handler: mux}
	eg.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		return httpSrv.Shutdown(context.Background())
	})

	if *vcsRepo != "" {
		target := buildorch.Target(*vcsTarget)
		hook := vcshook.New(logger, *githubToken, planTrigger{p: plan}, *vcsRepo, *vcsBranch, *vcsOrigin, *vcsPackage, target)
		eg.Go(func() error { return hook.Run(ctx) })
	}

	if err := eg.Wait(); err != nil {
		logger.Fatalf("%+v", err)
	}
}
