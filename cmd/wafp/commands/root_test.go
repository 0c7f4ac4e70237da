package commands

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulntor/wafp/pkg/config"
	"github.com/vulntor/wafp/pkg/fingerprint"
	"github.com/vulntor/wafp/pkg/scanexec"
	"github.com/vulntor/wafp/pkg/storage"
	"github.com/vulntor/wafp/pkg/workspace"
)

func sum(s string) string {
	h := md5.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

// run executes the CLI in an isolated workspace and returns the exit code
// with captured stdout and stderr.
func run(t *testing.T, ws string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--workspace-dir", ws}, args...)
	code := Run(context.Background(), NewCommand(), full, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// site serves two static files; acme 1.0 matches both, acme 2.0 one.
func site(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app.js":
			_, _ = w.Write([]byte("alpha"))
		case "/style.css":
			_, _ = w.Write([]byte("beta"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func seedCorpus(t *testing.T, ws string) {
	t.Helper()
	doc := fmt.Sprintf(`products:
  - name: acme
    version: "1.0"
    fingerprints:
      - {path: /app.js, checksum: %s}
      - {path: /style.css, checksum: %s}
  - name: acme
    version: "2.0"
    fingerprints:
      - {path: /app.js, checksum: %s}
      - {path: /style.css, checksum: %s}
`, sum("alpha"), sum("beta"), sum("alpha"), sum("gamma"))

	file := filepath.Join(t.TempDir(), "corpus.yaml")
	require.NoError(t, os.WriteFile(file, []byte(doc), 0o600))

	code, _, stderr := run(t, ws, "corpus", "import", file)
	require.Equal(t, 0, code, stderr)
}

type scanOutput struct {
	Session  string `json:"session"`
	Retained bool   `json:"retained"`
	Product  string `json:"product"`
	Matches  []struct {
		Version string  `json:"version"`
		Matched int     `json:"matched"`
		Total   int     `json:"total"`
		Percent float64 `json:"percent"`
	} `json:"matches"`
}

func TestRootCommandPreparesWorkspaceAndRunsVersion(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "ws")
	t.Setenv(workspace.EnvWorkspace, tmp)

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), NewCommand(), []string{"version", "--short"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	if _, err := os.Stat(tmp); err != nil {
		t.Fatalf("expected workspace root %q: %v", tmp, err)
	}
	if strings.TrimSpace(stdout.String()) == "" {
		t.Fatal("expected a version on stdout")
	}
}

func TestRun_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"scan", "--bogus"}},
		{"bad output mode", []string{"-o", "xml", "version"}},
		{"too many args", []string{"scan", "http://a.example/", "http://b.example/"}},
		{"threads out of range", []string{"scan", "http://a.example/", "-t", "0"}},
		{"timeout out of range", []string{"scan", "http://a.example/", "--timeout", "301"}},
		{"missing target", []string{"scan"}},
		{"target without scheme", []string{"scan", "example.org"}},
		{"dry with target", []string{"scan", "http://a.example/", "--dry", "weekly_1"}},
		{"any with product", []string{"scan", "http://a.example/", "--any", "-p", "acme"}},
		{"import needs a file", []string{"corpus", "import"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := run(t, t.TempDir(), tt.args...)
			assert.Equal(t, scanexec.ExitUsage, code, stderr)
			assert.Empty(t, stdout)
			assert.NotEmpty(t, stderr)
		})
	}
}

func TestScan_CorpusMissingIsDataError(t *testing.T) {
	code, _, stderr := run(t, t.TempDir(), "scan", "http://127.0.0.1:1/", "-p", "acme")
	assert.Equal(t, scanexec.ExitData, code)
	assert.Contains(t, stderr, "fingerprint database missing")
	assert.Contains(t, stderr, "wafp corpus import")
}

func TestScan_RanksVersionsAndDiscardsSession(t *testing.T) {
	ws := t.TempDir()
	seedCorpus(t, ws)
	srv := site(t)

	code, stdout, stderr := run(t, ws, "-o", "json", "scan", srv.URL+"/", "-p", "acme", "-t", "2")
	require.Equal(t, 0, code, stderr)

	var out scanOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Len(t, out.Matches, 2)
	assert.Equal(t, "1.0", out.Matches[0].Version)
	assert.Equal(t, 2, out.Matches[0].Matched)
	assert.InDelta(t, 100.0, out.Matches[0].Percent, 0.001)
	assert.Equal(t, "2.0", out.Matches[1].Version)
	assert.InDelta(t, 50.0, out.Matches[1].Percent, 0.001)
	assert.False(t, out.Retained)

	code, stdout, _ = run(t, ws, "-o", "json", "stores")
	require.Equal(t, 0, code)
	assert.JSONEq(t, "[]", stdout)
}

func TestScan_TableOutput(t *testing.T) {
	ws := t.TempDir()
	seedCorpus(t, ws)
	srv := site(t)

	code, stdout, stderr := run(t, ws, "--no-color", "scan", srv.URL+"/", "-p", "acme", "--outlines", "1")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "acme-1.0")
	assert.Contains(t, stdout, "100.00%")
	assert.NotContains(t, stdout, "acme-2.0")
	assert.Contains(t, stdout, "raise --outlines")
}

func TestScan_IdentifiesProductWithoutFilter(t *testing.T) {
	ws := t.TempDir()
	seedCorpus(t, ws)
	srv := site(t)

	code, stdout, stderr := run(t, ws, "-o", "json", "scan", srv.URL+"/")
	require.Equal(t, 0, code, stderr)

	var out scanOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, "acme", out.Product)
	require.NotEmpty(t, out.Matches)
	assert.Equal(t, "1.0", out.Matches[0].Version)
}

func TestScan_UnidentifiedIsWarning(t *testing.T) {
	ws := t.TempDir()
	seedCorpus(t, ws)
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	code, stdout, stderr := run(t, ws, "--no-color", "scan", srv.URL+"/")
	assert.Equal(t, scanexec.ExitOK, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "⚠")
	assert.Contains(t, stderr, "--any")
}

func TestScan_StoreReplayAndRemove(t *testing.T) {
	ws := t.TempDir()
	seedCorpus(t, ws)
	srv := site(t)

	code, stdout, stderr := run(t, ws, "-o", "json", "scan", srv.URL+"/", "-p", "acme", "-s", "weekly")
	require.Equal(t, 0, code, stderr)
	var live scanOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &live))
	require.True(t, live.Retained)
	require.True(t, strings.HasPrefix(live.Session, "weekly_"), live.Session)

	code, stdout, stderr = run(t, ws, "-o", "json", "scan", "--dry", live.Session, "-p", "acme")
	require.Equal(t, 0, code, stderr)
	var replay scanOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &replay))
	assert.Equal(t, live.Matches, replay.Matches)

	code, stdout, _ = run(t, ws, "--no-color", "stores", "weekly%")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, live.Session)

	code, _, stderr = run(t, ws, "stores", "rm", live.Session)
	require.Equal(t, 0, code, stderr)

	code, _, _ = run(t, ws, "stores", "rm", live.Session)
	assert.Equal(t, scanexec.ExitData, code)

	code, _, _ = run(t, ws, "scan", "--dry", live.Session)
	assert.Equal(t, scanexec.ExitData, code)
}

func TestProducts_ListsSortedVersions(t *testing.T) {
	ws := t.TempDir()
	seedCorpus(t, ws)

	code, stdout, stderr := run(t, ws, "-o", "json", "products")
	require.Equal(t, 0, code, stderr)
	assert.JSONEq(t, `[{"product":"acme","versions":["1.0","2.0"]}]`, stdout)

	code, stdout, _ = run(t, ws, "-o", "json", "products", "word%")
	require.Equal(t, 0, code)
	assert.JSONEq(t, `[]`, stdout)
}

func TestDBInfo(t *testing.T) {
	ws := t.TempDir()
	seedCorpus(t, ws)

	code, stdout, stderr := run(t, ws, "-o", "json", "dbinfo")
	require.Equal(t, 0, code, stderr)

	var info struct {
		Fingerprints struct {
			Stats fingerprint.Stats `json:"stats"`
		} `json:"fingerprints"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, 1, info.Fingerprints.Stats.Products)
	assert.Equal(t, 2, info.Fingerprints.Stats.Versions)
	assert.EqualValues(t, 4, info.Fingerprints.Stats.Fingerprints)
	assert.EqualValues(t, 2, info.Fingerprints.Stats.Paths)
}

func TestCorpusImport_RejectsInvalidDocument(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(file, []byte("products:\n  - name: acme\n    fingerprints:\n      - {path: /a, checksum: nothex}\n"), 0o600))

	code, _, stderr := run(t, t.TempDir(), "corpus", "import", file)
	assert.Equal(t, scanexec.ExitUsage, code)
	assert.Contains(t, stderr, "invalid corpus")
}

func TestCorpusImport_WorkspaceLocked(t *testing.T) {
	ws := t.TempDir()
	guard, err := workspace.Lock(ws)
	require.NoError(t, err)
	t.Cleanup(func() { _ = guard.Unlock() })

	file := filepath.Join(t.TempDir(), "corpus.yaml")
	doc := fmt.Sprintf("products:\n  - name: acme\n    version: \"1.0\"\n    fingerprints:\n      - {path: /a, checksum: %s}\n", sum("a"))
	require.NoError(t, os.WriteFile(file, []byte(doc), 0o600))

	code, _, stderr := run(t, ws, "corpus", "import", file)
	assert.Equal(t, scanexec.ExitUsage, code)
	assert.Contains(t, stderr, "locked")
}

func TestScan_HelpExplainsBasePathJoin(t *testing.T) {
	code, stdout, _ := run(t, t.TempDir(), "scan", "--help")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "fetches /cms/readme.html")
	assert.Contains(t, stdout, "host root")
}

func TestSortVersionStrings(t *testing.T) {
	vs := []string{"1.10", "beta", "1.9", "1.2.3", "alpha", "1.2.3-rc1"}
	sortVersionStrings(vs)
	assert.Equal(t, []string{"1.2.3-rc1", "1.2.3", "1.9", "1.10", "alpha", "beta"}, vs)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"usage", &usageError{err: errors.New("unknown flag")}, 2},
		{"config", fmt.Errorf("%w: scan.threads", config.ErrInvalidConfig), 2},
		{"locked", fmt.Errorf("%w: /tmp/wafp.lock", workspace.ErrLocked), 2},
		{"invalid corpus", fingerprint.NewInvalidCorpusError("bad checksum"), 2},
		{"corpus missing", fingerprint.NewCorpusMissingError("/x.db", os.ErrNotExist), 3},
		{"stored scan missing", storage.NewNotFoundError("session", "weekly_1"), 3},
		{"interrupted", fmt.Errorf("%w: fetch: %w", scanexec.ErrInterrupted, context.Canceled), 130},
		{"cleanup", fmt.Errorf("%w: disk I/O", scanexec.ErrCleanupFailed), 4},
		{"reported keeps code", &reportedError{err: fingerprint.NewCorpusMissingError("/x.db", os.ErrNotExist)}, 3},
		{"unexpected", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
