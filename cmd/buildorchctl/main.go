// Command buildorchctl is a thin CLI wrapping the daemon's JSON RPC
// envelope: every subcommand builds one request body, POSTs it to
// buildorchd's /rpc endpoint, and prints the raw JSON result. Grounded on
// cmd/distri's verb-map dispatch (flag.Args()[0] selects a verb, each verb
// owns its own flag.FlagSet) rather than a CLI framework — the teacher
// never reaches for one, so neither does this.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/google/uuid"
)

var addr = flag.String("addr", "http://localhost:3718", "buildorchd HTTP address")

type envelope struct {
	ID   string          `json:"id"`
	Op   string          `json:"op"`
	Body json.RawMessage `json:"body"`
}

type response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// call POSTs op/body as an envelope and returns the raw result, or an error
// built from the envelope's error body if the daemon rejected the request.
func call(ctx context.Context, op string, body interface{}) (json.RawMessage, error) {
	encodedBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", op, err)
	}
	env := envelope{ID: uuid.NewString(), Op: op, Body: encodedBody}
	encoded, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *addr+"/rpc", bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", op, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", op, err)
	}

	var rsp response
	if err := json.Unmarshal(b, &rsp); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", op, err)
	}
	if rsp.Error != nil {
		return nil, fmt.Errorf("%s: %s: %s", op, rsp.Error.Code, rsp.Error.Message)
	}
	return rsp.Result, nil
}

func printResult(result json.RawMessage) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		fmt.Println(string(result))
		return
	}
	fmt.Println(pretty.String())
}

func groupSpec(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("group-spec", flag.ExitOnError)
	var (
		origin      = fset.String("origin", "", "origin the package belongs to")
		pkg         = fset.String("package", "", "package name to spec a build for")
		target      = fset.String("target", "", "target to build for")
		triggeredBy = fset.String("triggered_by", "manual", "what triggered this build (manual, vcs, rdep)")
		requester   = fset.String("requester", "", "identity of the requesting caller")
	)
	fset.Parse(args)

	result, err := call(ctx, "JobGroupSpec", map[string]interface{}{
		"origin":       *origin,
		"package":      *pkg,
		"target":       *target,
		"triggered_by": *triggeredBy,
		"requester":    *requester,
	})
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func groupGet(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("group-get", flag.ExitOnError)
	var (
		groupID = fset.Int64("group_id", 0, "group id to fetch")
		entries = fset.Bool("entries", false, "include the group's job-graph entries")
	)
	fset.Parse(args)

	result, err := call(ctx, "JobGroupGet", map[string]interface{}{
		"group_id":        *groupID,
		"include_entries": *entries,
	})
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func groupCancel(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("group-cancel", flag.ExitOnError)
	groupID := fset.Int64("group_id", 0, "group id to cancel")
	fset.Parse(args)

	result, err := call(ctx, "JobGroupCancel", map[string]interface{}{"group_id": *groupID})
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func jobGet(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("job-get", flag.ExitOnError)
	jobID := fset.Int64("job_id", 0, "job id to fetch")
	fset.Parse(args)

	result, err := call(ctx, "JobGet", map[string]interface{}{"job_id": *jobID})
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func logGet(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("log-get", flag.ExitOnError)
	var (
		jobID = fset.Int64("job_id", 0, "job id to fetch the log for")
		start = fset.Int64("start", 0, "byte offset to start reading from")
		color = fset.Bool("color", false, "keep ANSI color codes instead of stripping them")
	)
	fset.Parse(args)

	result, err := call(ctx, "JobLogGet", map[string]interface{}{
		"job_id": *jobID,
		"start":  *start,
		"color":  *color,
	})
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func rdepsGet(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("rdeps-get", flag.ExitOnError)
	var (
		origin = fset.String("origin", "", "origin the package belongs to")
		name   = fset.String("name", "", "package name to find reverse dependencies of")
		target = fset.String("target", "", "target to look up reverse dependencies within")
	)
	fset.Parse(args)

	result, err := call(ctx, "JobGraphPackageReverseDependenciesGet", map[string]interface{}{
		"origin": *origin,
		"name":   *name,
		"target": *target,
	})
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

type verb struct {
	fn func(ctx context.Context, args []string) error
}

func funcmain() error {
	flag.Parse()

	verbs := map[string]verb{
		"group-spec":   {groupSpec},
		"group-get":    {groupGet},
		"group-cancel": {groupCancel},
		"job-get":      {jobGet},
		"log-get":      {logGet},
		"rdeps-get":    {rdepsGet},
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "syntax: buildorchctl [-addr url] <command> [options]")
		fmt.Fprintln(os.Stderr, "commands: group-spec, group-get, group-cancel, job-get, log-get, rdeps-get")
		os.Exit(2)
	}
	name, rest := args[0], args[1:]
	v, ok := verbs[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	return v.fn(context.Background(), rest)
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
