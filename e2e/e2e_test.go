//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/quark-mirror/testutil"
)

// Live test configuration, read from the environment or .env.
const (
	envCookie   = "QUARK_COOKIE"
	envShareURL = "QUARK_E2E_SHARE_URL"
)

var (
	binaryPath string
	shareURL   string
)

func TestMain(m *testing.M) {
	root := testutil.FindModuleRoot("..")
	testutil.LoadDotEnv(filepath.Join(root, ".env"))
	shareURL = testutil.RequireEnv(envCookie, envShareURL)[envShareURL]

	tmpDir, err := os.MkdirTemp("", "quark-mirror-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "quark-mirror")

	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = root
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	os.RemoveAll(tmpDir)
	os.Exit(code)
}

// runCLI runs the binary against a private database and fails the test on
// a non-zero exit.
func runCLI(t *testing.T, dbPath string, args ...string) string {
	t.Helper()

	cmd := exec.Command(binaryPath, append([]string{"--db", dbPath, "--json"}, args...)...)
	cmd.Env = append(os.Environ(), "QUARK_MIRROR_CONFIG="+filepath.Join(t.TempDir(), "absent.toml"))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		t.Fatalf("command %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout.String(), stderr.String())
	}

	return stdout.String()
}

func TestE2E_ParseShare(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "e2e.db")

	t.Run("credential", func(t *testing.T) {
		var out struct {
			Valid bool `json:"valid"`
		}

		require.NoError(t, json.Unmarshal([]byte(runCLI(t, dbPath, "credential", "validate")), &out))
		assert.True(t, out.Valid)
	})

	t.Run("parse", func(t *testing.T) {
		var out struct {
			Title string `json:"title"`
			Total int    `json:"total_count"`
		}

		require.NoError(t, json.Unmarshal([]byte(runCLI(t, dbPath, "parse", shareURL)), &out))
		assert.NotEmpty(t, out.Title)
		assert.Positive(t, out.Total)
	})

	t.Run("stats", func(t *testing.T) {
		var out struct {
			QueueSize int `json:"queue_size"`
		}

		require.NoError(t, json.Unmarshal([]byte(runCLI(t, dbPath, "stats")), &out))
		assert.Zero(t, out.QueueSize, "parse without --provision enqueues nothing")
	})
}
