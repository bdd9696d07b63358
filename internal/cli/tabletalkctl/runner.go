package tabletalkctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("tabletalkctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "TableTalk API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 10*time.Second), "HTTP timeout (e.g. 10s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	method := ""
	path := ""
	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "datasets":
		method, path = http.MethodGet, "/v1/datasets"
	case "dataset-schema":
		id, ok := requireArg(fs, 1, "dataset id", stderr)
		if !ok {
			return 2
		}
		method, path = http.MethodGet, "/v1/datasets/"+id
	case "dataset-stats":
		id, ok := requireArg(fs, 1, "dataset id", stderr)
		if !ok {
			return 2
		}
		method, path = http.MethodGet, "/v1/datasets/"+id+"/stats"
	case "delete-dataset":
		id, ok := requireArg(fs, 1, "dataset id", stderr)
		if !ok {
			return 2
		}
		method, path = http.MethodDelete, "/v1/datasets/"+id
	case "sessions":
		method, path = http.MethodGet, "/v1/sessions"
	case "retention-run":
		method, path = http.MethodPost, "/v1/retention/run"
	case "integrity-run":
		method, path = http.MethodPost, "/v1/integrity/run"
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, *apiKey)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func requireArg(fs *flag.FlagSet, index int, name string, stderr io.Writer) (string, bool) {
	value := strings.TrimSpace(fs.Arg(index))
	if value == "" {
		_, _ = fmt.Fprintf(stderr, "missing %s argument\n\n", name)
		writeUsage(stderr)
		return "", false
	}
	return value, true
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: tabletalkctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                 GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  datasets              GET /v1/datasets")
	_, _ = fmt.Fprintln(w, "  dataset-schema <id>   GET /v1/datasets/{id}")
	_, _ = fmt.Fprintln(w, "  dataset-stats <id>    GET /v1/datasets/{id}/stats")
	_, _ = fmt.Fprintln(w, "  delete-dataset <id>   DELETE /v1/datasets/{id}")
	_, _ = fmt.Fprintln(w, "  sessions              GET /v1/sessions")
	_, _ = fmt.Fprintln(w, "  retention-run         POST /v1/retention/run")
	_, _ = fmt.Fprintln(w, "  integrity-run         POST /v1/integrity/run")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
