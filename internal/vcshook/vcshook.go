// Package vcshook adapts cmd/autobuilder's GitHub-commit polling loop
// (SPEC_FULL.md §6: "VCS webhook producer (stubbed boundary)") into a
// producer of JobGroupSpec calls: spec.md places VCS integration out of
// scope beyond "a build request arrives," so this is the build-request
// source the rest of the service consumes, kept on the teacher's own
// go-github + oauth2 polling idiom rather than a webhook receiver.
package vcshook

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v27/github"
	"golang.org/x/oauth2"
	"golang.org/x/xerrors"

	"github.com/distr1/buildorch"
)

// DefaultPollInterval mirrors autobuilder's per-run polling cadence; there
// is no webhook push channel here, only periodic ListCommits.
const DefaultPollInterval = 60 * time.Second

// Trigger is the narrow surface vcshook drives: one JobGroupSpec call per
// newly observed commit. cmd/buildorchd's planTrigger adapter satisfies
// this by calling *planner.Planner's Spec directly.
type Trigger interface {
	Spec(ctx context.Context, origin, pkg string, target buildorch.Target, triggeredBy, requester string) error
}

// Hook polls one GitHub repository for new commits on a branch and issues
// a JobGroupSpec call for each one not yet seen.
type Hook struct {
	Log          *log.Logger
	Trigger      Trigger
	Repo         string // "https://github.com/owner/repo"
	Branch       string
	Origin       string
	Package      string
	Target       buildorch.Target
	PollInterval time.Duration

	client   *github.Client
	lastSeen string
}

// New returns a Hook ready to Run. accessToken may be empty for public
// repositories under GitHub's unauthenticated rate limit.
func New(log *log.Logger, accessToken string, trigger Trigger, repo, branch, origin, pkg string, target buildorch.Target) *Hook {
	tc := http.DefaultClient
	if accessToken != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
		tc = oauth2.NewClient(context.Background(), ts)
	}
	return &Hook{
		Log:          log,
		Trigger:      trigger,
		Repo:         repo,
		Branch:       branch,
		Origin:       origin,
		Package:      pkg,
		Target:       target,
		PollInterval: DefaultPollInterval,
		client:       github.NewClient(tc),
	}
}

// Run polls until ctx is canceled, matching the teacher's single-goroutine
// ticker-driven autobuilder.run.
func (h *Hook) Run(ctx context.Context) error {
	if h.PollInterval <= 0 {
		h.PollInterval = DefaultPollInterval
	}
	ticker := time.NewTicker(h.PollInterval)
	defer ticker.Stop()

	if err := h.poll(ctx); err != nil {
		h.Log.Printf("vcshook: initial poll of %s: %v", h.Repo, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := h.poll(ctx); err != nil {
				h.Log.Printf("vcshook: poll of %s: %v", h.Repo, err)
			}
		}
	}
}

func (h *Hook) owner() (owner, repo string) {
	parts := strings.Split(strings.TrimPrefix(h.Repo, "https://github.com/"), "/")
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

// poll fetches the most recent commits and triggers a JobGroupSpec call for
// every one not yet seen, oldest-first so bisection-relevant history
// builds in order (unlike autobuilder's LIFO-then-break, since here every
// unseen commit gets its own group rather than only the newest).
func (h *Hook) poll(ctx context.Context) error {
	owner, repo := h.owner()
	if owner == "" {
		return xerrors.Errorf("vcshook: repo %q is not a github.com URL", h.Repo)
	}
	commits, _, err := h.client.Repositories.ListCommits(ctx, owner, repo, &github.CommitsListOptions{
		SHA: h.Branch,
		ListOptions: github.ListOptions{
			PerPage: 10,
		},
	})
	if err != nil {
		return xerrors.Errorf("vcshook: listing commits: %w", err)
	}
	if len(commits) == 0 {
		return nil
	}

	newest := commits[0].GetSHA()
	var unseen []*github.RepositoryCommit
	for _, c := range commits {
		if c.GetSHA() == h.lastSeen {
			break
		}
		unseen = append(unseen, c)
	}
	if h.lastSeen == "" {
		// First poll since startup: avoid replaying the whole history into
		// JobGroupSpec, only track the current head.
		h.lastSeen = newest
		return nil
	}

	for i := len(unseen) - 1; i >= 0; i-- {
		c := unseen[i]
		sha := c.GetSHA()
		if err := h.Trigger.Spec(ctx, h.Origin, h.Package, h.Target, sha, "vcshook"); err != nil {
			h.Log.Printf("vcshook: JobGroupSpec for commit %s: %v", sha, err)
			continue
		}
		h.lastSeen = sha
	}
	if h.lastSeen != newest {
		h.lastSeen = newest
	}
	return nil
}
