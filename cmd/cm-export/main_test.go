package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sternrassler/coinmetrics-client/internal/testutil"
	"github.com/Sternrassler/coinmetrics-client/pkg/catalog"
	"github.com/Sternrassler/coinmetrics-client/pkg/config"
	"github.com/Sternrassler/coinmetrics-client/pkg/pagination"
	"github.com/google/go-cmp/cmp"
)

var assetRows = []string{
	`{"asset":"btc","time":"2024-01-01T00:00:00.000000000Z","PriceUSD":"42000"}`,
	`{"asset":"btc","time":"2024-01-02T00:00:00.000000000Z","PriceUSD":"43000"}`,
	`{"asset":"eth","time":"2024-01-01T00:00:00.000000000Z","PriceUSD":"2300"}`,
}

func setupMock(t *testing.T) *testutil.MockAPI {
	t.Helper()
	mock := testutil.NewMockAPI()
	t.Cleanup(mock.Close)

	t.Setenv(config.EnvBaseURL, mock.URL())
	t.Setenv(config.EnvAPIKey, "test-key")
	t.Setenv(config.EnvRedisURL, "")
	t.Setenv(config.EnvLogLevel, "error")
	t.Setenv(config.EnvLogPretty, "false")
	return mock
}

// run executes the CLI and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(t.Context())
	return stdout.String(), err
}

func TestGet_SerialCSV(t *testing.T) {
	mock := setupMock(t)
	mock.SetPagedData("timeseries/asset-metrics", assetRows, 2)

	out, err := run(t, "get", "timeseries/asset-metrics", "-p", "assets=btc,eth", "-p", "metrics=PriceUSD")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	want := "asset,time,PriceUSD\n" +
		"btc,2024-01-01T00:00:00.000000000Z,42000\n" +
		"btc,2024-01-02T00:00:00.000000000Z,43000\n" +
		"eth,2024-01-01T00:00:00.000000000Z,2300\n"
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if mock.RequestCount() != 2 {
		t.Errorf("requests = %d, want 2", mock.RequestCount())
	}
}

func TestGet_ParallelMatchesSerial(t *testing.T) {
	mock := setupMock(t)
	mock.SetPagedData("timeseries/asset-metrics", assetRows, 1)

	serial, err := run(t, "get", "timeseries/asset-metrics", "-p", "assets=btc,eth", "--columns", "asset,time")
	if err != nil {
		t.Fatalf("serial get: %v", err)
	}
	parallel, err := run(t, "get", "timeseries/asset-metrics", "-p", "assets=btc,eth", "--columns", "asset,time", "--parallel", "--max-workers", "2")
	if err != nil {
		t.Fatalf("parallel get: %v", err)
	}
	if diff := cmp.Diff(serial, parallel); diff != "" {
		t.Errorf("parallel output differs from serial (-serial +parallel):\n%s", diff)
	}
}

func TestGet_OutDir(t *testing.T) {
	mock := setupMock(t)
	mock.SetPagedData("timeseries/asset-metrics", assetRows, 2)
	dir := filepath.Join(t.TempDir(), "out")

	out, err := run(t, "get", "timeseries/asset-metrics", "-p", "assets=btc,eth", "--out-dir", dir, "-f", "json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	want := []string{
		filepath.Join(dir, "asset-metrics_assets-btc.jsonl"),
		filepath.Join(dir, "asset-metrics_assets-eth.jsonl"),
	}
	if diff := cmp.Diff(want, strings.Fields(out)); diff != "" {
		t.Errorf("listed files mismatch (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(want[1])
	if err != nil {
		t.Fatalf("read split file: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != assetRows[2] {
		t.Errorf("eth file = %s, want %s", got, assetRows[2])
	}
}

func TestGet_JSONToFile(t *testing.T) {
	mock := setupMock(t)
	mock.SetPagedData("timeseries/asset-metrics", assetRows, 10)
	path := filepath.Join(t.TempDir(), "metrics.jsonl")

	out, err := run(t, "get", "timeseries/asset-metrics", "-f", "json", "-o", path)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out != "" {
		t.Errorf("stdout = %q, want empty", out)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if diff := cmp.Diff(strings.Join(assetRows, "\n")+"\n", string(data)); diff != "" {
		t.Errorf("file mismatch (-want +got):\n%s", diff)
	}
}

func TestGet_FailedExportRemovesFile(t *testing.T) {
	mock := setupMock(t)
	mock.SetResponse("timeseries/asset-metrics", testutil.NewErrorResponse(400, "bad_parameter", "unknown metric"))
	path := filepath.Join(t.TempDir(), "metrics.csv")

	if _, err := run(t, "get", "timeseries/asset-metrics", "-o", path); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("output file left behind: %v", err)
	}
}

func TestGet_InvalidInput(t *testing.T) {
	setupMock(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing endpoint", []string{"get"}, "accepts 1 arg"},
		{"bad param", []string{"get", "timeseries/asset-metrics", "-p", "assets"}, `invalid parameter "assets"`},
		{"bad format", []string{"get", "timeseries/asset-metrics", "-f", "xml"}, `unknown format "xml"`},
		{"bad increment", []string{"get", "timeseries/asset-metrics", "--time-increment", "soon"}, "parse increment"},
		{"bad log level", []string{"get", "timeseries/asset-metrics", "--log-level", "loud"}, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestCatalog(t *testing.T) {
	mock := setupMock(t)
	mock.SetResponse("catalog/assets", testutil.NewOKResponse(`{"data":[
		{"asset":"btc","full_name":"Bitcoin","metrics":[{"metric":"PriceUSD","frequencies":[{"frequency":"1d"},{"frequency":"1h"}]}],"markets":["coinbase-btc-usd-spot"]}
	]}`))

	out, err := run(t, "catalog", "assets", "--level", "metrics")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	want := "asset,full_name,metric,frequency\n" +
		"btc,Bitcoin,PriceUSD,1d\n" +
		"btc,Bitcoin,PriceUSD,1h\n"
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestCatalog_InvalidLevelSkipsRequest(t *testing.T) {
	mock := setupMock(t)

	_, err := run(t, "catalog", "assets", "--level", "candles")
	var levelErr *catalog.InvalidSecondaryLevelError
	if !errors.As(err, &levelErr) {
		t.Fatalf("error = %v, want InvalidSecondaryLevelError", err)
	}
	if diff := cmp.Diff([]string{"exchanges", "markets", "metrics"}, levelErr.Valid); diff != "" {
		t.Errorf("valid levels mismatch (-want +got):\n%s", diff)
	}
	if mock.RequestCount() != 0 {
		t.Errorf("requests = %d, want 0", mock.RequestCount())
	}
}

func TestKinds(t *testing.T) {
	setupMock(t)

	out, err := run(t, "kinds")
	if err != nil {
		t.Fatalf("kinds: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != len(catalog.Kinds())+1 {
		t.Fatalf("lines = %d, want header plus %d kinds", len(lines), len(catalog.Kinds()))
	}
	found := false
	for _, line := range lines {
		f := strings.Fields(line)
		if len(f) == 3 && f[0] == "market-orderbooks" && f[2] == "depths" {
			found = true
		}
	}
	if !found {
		t.Errorf("market-orderbooks depths level not listed:\n%s", out)
	}
}

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]any
		wantErr bool
	}{
		{"empty", nil, map[string]any{}, false},
		{"pairs", []string{"assets=btc,eth", "page_size=100"}, map[string]any{"assets": "btc,eth", "page_size": "100"}, false},
		{"value with equals", []string{"filter=a=b"}, map[string]any{"filter": "a=b"}, false},
		{"last wins", []string{"assets=btc", "assets=eth"}, map[string]any{"assets": "eth"}, false},
		{"empty value", []string{"end_time="}, map[string]any{"end_time": ""}, false},
		{"no equals", []string{"assets"}, nil, true},
		{"empty key", []string{"=btc"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseParams(tt.pairs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("params mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParallelOptions(t *testing.T) {
	a := &app{cfg: config.Default()}
	g := &getFlags{splitOn: []string{"markets"}, chunkSize: 3, maxWorkers: 4, timeIncrement: "1 month"}

	opts, err := a.parallelOptions(g)
	if err != nil {
		t.Fatalf("parallelOptions: %v", err)
	}
	if opts.ChunkSize != 3 || opts.MaxWorkers != 4 {
		t.Errorf("opts = %+v", opts)
	}
	if opts.TimeIncrement != pagination.Months(1) {
		t.Errorf("TimeIncrement = %v, want 1 month", opts.TimeIncrement)
	}
	if diff := cmp.Diff([]string{"markets"}, opts.SplitOn); diff != "" {
		t.Errorf("SplitOn mismatch (-want +got):\n%s", diff)
	}
}

func TestGet_SplitOnHelpListsDefaults(t *testing.T) {
	f := newGetCmd(&app{}).Flags().Lookup("split-on")
	if f == nil {
		t.Fatal("split-on flag not registered")
	}
	if !strings.Contains(f.Usage, strings.Join(pagination.DefaultSplitParams, ", ")) {
		t.Errorf("usage %q does not list the default split parameters", f.Usage)
	}
	if strings.Contains(f.Usage, "metrics") {
		t.Errorf("usage %q mentions metrics, which is never split on by default", f.Usage)
	}
}
