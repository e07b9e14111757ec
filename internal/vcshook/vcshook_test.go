package vcshook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v27/github"

	"github.com/distr1/buildorch"
)

func testLog() *log.Logger { return log.New(io.Discard, "", 0) }

type fakeTrigger struct {
	calls []string
}

func (f *fakeTrigger) Spec(ctx context.Context, origin, pkg string, target buildorch.Target, triggeredBy, requester string) error {
	f.calls = append(f.calls, triggeredBy)
	return nil
}

func newTestHook(t *testing.T, commits [][]string) (*Hook, *fakeTrigger) {
	t.Helper()
	call := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if call >= len(commits) {
			call = len(commits) - 1
		}
		shas := commits[call]
		call++
		var out []map[string]interface{}
		for _, sha := range shas {
			out = append(out, map[string]interface{}{"sha": sha})
		}
		json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)

	client := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	if err != nil {
		t.Fatalf("parsing test server url: %v", err)
	}
	client.BaseURL = base

	trig := &fakeTrigger{}
	h := &Hook{
		Log:          testLog(),
		Trigger:      trig,
		Repo:         "https://github.com/acme/widget",
		Branch:       "main",
		Origin:       "acme",
		Package:      "widget",
		Target:       buildorch.TargetX8664Linux,
		PollInterval: DefaultPollInterval,
	}
	h.client = client
	return h, trig
}

func TestFirstPollOnlyRecordsHead(t *testing.T) {
	h, trig := newTestHook(t, [][]string{{"c3", "c2", "c1"}})
	if err := h.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(trig.calls) != 0 {
		t.Fatalf("first poll must not trigger any builds, got %v", trig.calls)
	}
	if h.lastSeen != "c3" {
		t.Fatalf("lastSeen = %q, want c3", h.lastSeen)
	}
}

func TestSubsequentPollTriggersUnseenCommitsOldestFirst(t *testing.T) {
	h, trig := newTestHook(t, [][]string{
		{"c3", "c2", "c1"},
		{"c5", "c4", "c3", "c2", "c1"},
	})
	if err := h.poll(context.Background()); err != nil {
		t.Fatalf("poll 1: %v", err)
	}
	if err := h.poll(context.Background()); err != nil {
		t.Fatalf("poll 2: %v", err)
	}

	want := []string{"c4", "c5"}
	if fmt.Sprint(trig.calls) != fmt.Sprint(want) {
		t.Fatalf("calls = %v, want %v", trig.calls, want)
	}
	if h.lastSeen != "c5" {
		t.Fatalf("lastSeen = %q, want c5", h.lastSeen)
	}
}

func TestNoNewCommitsTriggersNothing(t *testing.T) {
	h, trig := newTestHook(t, [][]string{
		{"c3", "c2", "c1"},
		{"c3", "c2", "c1"},
	})
	if err := h.poll(context.Background()); err != nil {
		t.Fatalf("poll 1: %v", err)
	}
	if err := h.poll(context.Background()); err != nil {
		t.Fatalf("poll 2: %v", err)
	}
	if len(trig.calls) != 0 {
		t.Fatalf("expected no triggers, got %v", trig.calls)
	}
}
