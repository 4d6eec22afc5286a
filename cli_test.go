package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/quark-mirror/internal/config"
)

// fakeRemote serves the share and config endpoints for a one-movie share.
func fakeRemote(t *testing.T, configStatus int) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/1/clouddrive/share/sharepage/token", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":200,"data":{"stoken":"T1"}}`))
	})
	mux.HandleFunc("/1/clouddrive/share/sharepage/detail", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("pdir_fid") {
		case "0":
			_, _ = w.Write([]byte(`{"status":200,"data":{"list":[{"fid":"f1","file_name":"Movie","dir":true,"file_type":0}],"_total":1}}`))
		case "f1":
			_, _ = w.Write([]byte(`{"status":200,"data":{"list":[` +
				`{"fid":"f2","file_name":"movie.mkv","file_type":1,"size":2147483648,"share_fid_token":"st2"},` +
				`{"fid":"f3","file_name":"notes.txt","file_type":1,"size":12}],"_total":2}}`))
		default:
			t.Errorf("unexpected parent %q", r.URL.Query().Get("pdir_fid"))
		}
	})
	mux.HandleFunc("/1/clouddrive/config", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(configStatus)
		_, _ = w.Write([]byte(`{"status":` + fmt.Sprint(configStatus) + `,"code":0,"data":{}}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

// cliEnv writes a config pointing at srv and clears the environment
// overrides. It returns the config path.
func cliEnv(t *testing.T, srv *httptest.Server) string {
	t.Helper()

	for _, k := range []string{config.EnvConfig, config.EnvCookie, config.EnvDBPath, config.EnvLogLevel} {
		t.Setenv(k, "")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := fmt.Sprintf(`
[remote]
base_url = %q
share_base_url = %q
use_safe_host = false
cookie = "__pus=secret-cookie"

[store]
db_path = %q
`, srv.URL, srv.URL, filepath.Join(dir, "data", "q.db"))

	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--quiet"}, args...))

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func TestCLI_ParseProvisionAndInspect(t *testing.T) {
	srv := fakeRemote(t, http.StatusOK)
	cfgPath := cliEnv(t, srv)

	out, err := runCLI(t, "--config", cfgPath, "--json",
		"parse", "https://pan.quark.cn/s/abc123", "--passcode", "9f2a", "--provision")
	require.NoError(t, err)

	var parsed struct {
		ShareURL string  `json:"share_url"`
		Title    string  `json:"title"`
		Total    int     `json:"total_count"`
		Storable int     `json:"storable_count"`
		MediaIDs []int64 `json:"media_ids"`
		Queued   []int64 `json:"queued"`
		Files    []struct {
			Path string `json:"path"`
		} `json:"files"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))

	assert.Equal(t, "https://pan.quark.cn/s/abc123?pwd=9f2a", parsed.ShareURL)
	assert.Equal(t, "Movie", parsed.Title)
	assert.Equal(t, 3, parsed.Total)
	assert.Equal(t, 1, parsed.Storable)
	require.Len(t, parsed.MediaIDs, 1)
	assert.Equal(t, parsed.MediaIDs, parsed.Queued)
	require.Len(t, parsed.Files, 3)
	assert.Equal(t, "/Movie", parsed.Files[0].Path)

	id := fmt.Sprint(parsed.MediaIDs[0])

	out, err = runCLI(t, "--config", cfgPath, "--json", "status", id)
	require.NoError(t, err)

	var st struct {
		TaskStatus  string  `json:"task_status"`
		TaskID      string  `json:"task_id"`
		VirtualPath string  `json:"virtual_path"`
		Progress    float64 `json:"progress"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "pending", st.TaskStatus)
	assert.Equal(t, "/Movies/Movie/movie.mkv", st.VirtualPath)
	assert.InDelta(t, 0.1, st.Progress, 1e-9)
	require.NotEmpty(t, st.TaskID)

	// Lookup by task id returns the same record.
	out, err = runCLI(t, "--config", cfgPath, "status", st.TaskID)
	require.NoError(t, err)
	assert.Contains(t, out, "/Movies/Movie/movie.mkv")

	out, err = runCLI(t, "--config", cfgPath, "--json", "stats")
	require.NoError(t, err)

	var stats struct {
		ByStatus  map[string]int `json:"by_status"`
		QueueSize int            `json:"queue_size"`
		DeadSize  int            `json:"dead_queue_size"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 1, stats.ByStatus["pending"])
	assert.Equal(t, 1, stats.QueueSize)
	assert.Zero(t, stats.DeadSize)

	out, err = runCLI(t, "--config", cfgPath, "list", "--status", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "VIRTUAL PATH")
	assert.Contains(t, out, "/Movies/Movie/movie.mkv")

	out, err = runCLI(t, "--config", cfgPath, "--json", "dead", "clear")
	require.NoError(t, err)
	assert.JSONEq(t, `{"cleared":0}`, out)
}

func TestCLI_ResetAndRetry(t *testing.T) {
	srv := fakeRemote(t, http.StatusOK)
	cfgPath := cliEnv(t, srv)

	_, err := runCLI(t, "--config", cfgPath, "parse", "abc123")
	require.NoError(t, err)

	out, err := runCLI(t, "--config", cfgPath, "--json", "reset", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"task_status": "pending"`)

	_, err = runCLI(t, "--config", cfgPath, "retry", "1")
	require.NoError(t, err)

	_, err = runCLI(t, "--config", cfgPath, "provision", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid media id")

	_, err = runCLI(t, "--config", cfgPath, "provision", "99")
	require.Error(t, err)
}

func TestCLI_CredentialValidate(t *testing.T) {
	ok := fakeRemote(t, http.StatusOK)

	out, err := runCLI(t, "--config", cliEnv(t, ok), "credential", "validate")
	require.NoError(t, err)
	assert.Equal(t, "Session cookie: valid\n", out)

	rejected := fakeRemote(t, http.StatusUnauthorized)

	out, err = runCLI(t, "--config", cliEnv(t, rejected), "credential", "validate")
	require.ErrorIs(t, err, errCredentialInvalid)
	assert.Equal(t, "Session cookie: invalid\n", out)
}

func TestCLI_ConfigShowAndInit(t *testing.T) {
	srv := fakeRemote(t, http.StatusOK)
	cfgPath := cliEnv(t, srv)

	out, err := runCLI(t, "--config", cfgPath, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, cfgPath)
	assert.Contains(t, out, srv.URL)
	assert.NotContains(t, out, "secret-cookie")

	fresh := filepath.Join(t.TempDir(), "sub", "config.toml")

	_, err = runCLI(t, "--config", fresh, "config", "init")
	require.NoError(t, err)

	cfg, err := config.Load(fresh)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)

	_, err = runCLI(t, "--config", fresh, "config", "init")
	require.ErrorIs(t, err, config.ErrConfigExists)
}

func TestCLI_InvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[worker]\nmax_retry = 1\n"), 0o600))

	_, err := runCLI(t, "--config", path, "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}
