package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRoot()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func fastEnv(t *testing.T) {
	t.Setenv("JOBS_POLL_INTERVAL", "5ms")
	t.Setenv("JOBS_BASE_RETRY_DELAY", "5ms")
	t.Setenv("JOBS_MAX_RETRY_DELAY", "10ms")
	t.Setenv("JOBS_REAPER_INTERVAL", "20ms")
	t.Setenv("JOBS_WORKER_CONCURRENCY", "4")
}

func TestConfigCommand_PrintsEnvOverrides(t *testing.T) {
	t.Setenv("JOBS_WORKER_CONCURRENCY", "7")

	out, _, err := execute(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "JOBS_WORKER_CONCURRENCY=7\n")
	assert.Contains(t, out, "JOBS_LEASE_DURATION=30s\n")
	assert.Contains(t, out, "JOBS_DEFAULT_QUEUE=default\n")
}

func TestConfigCommand_InvalidEnv(t *testing.T) {
	t.Setenv("JOBS_RETRY_JITTER", "2")

	_, _, err := execute(t, "config")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry_jitter")
}

func TestRoot_RejectsBadLogFlags(t *testing.T) {
	_, _, err := execute(t, "demo", "--log-format", "xml")
	require.Error(t, err)

	_, _, err = execute(t, "demo", "--log-level", "loud")
	require.Error(t, err)
}

func TestDemoAndHistory(t *testing.T) {
	fastEnv(t)
	db := filepath.Join(t.TempDir(), "journal.db")

	out, _, err := execute(t, "demo",
		"--tenants", "acme,globex",
		"--jobs", "5",
		"--fail-rate", "0",
		"--duration", "10s",
		"--db", db,
		"--log-level", "error",
	)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "completed")
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		require.Len(t, fields, 7)
		// enqueued processing retrying completed failed canceled
		assert.Equal(t, []string{"0", "0", "0", "6", "0", "0"}, fields[1:])
	}

	out, _, err = execute(t, "history", "--db", db, "--tenant", "acme", "--limit", "100")
	require.NoError(t, err)
	completed := 0
	for _, line := range strings.Split(out, "\n") {
		if fields := strings.Fields(line); len(fields) >= 5 && fields[4] == "completed" {
			completed++
		}
	}
	assert.Equal(t, 6, completed)
	assert.Contains(t, out, "reports/acme/monthly.pdf")

	out, _, err = execute(t, "history", "--db", db, "--tenant", "acme", "--stats")
	require.NoError(t, err)
	assert.Contains(t, out, "emails")
	assert.Contains(t, out, "reports")
}

func TestHistoryCommand_RequiresFlags(t *testing.T) {
	_, _, err := execute(t, "history", "--tenant", "acme")
	assert.EqualError(t, err, "--db is required")

	_, _, err = execute(t, "history", "--db", filepath.Join(t.TempDir(), "j.db"))
	assert.EqualError(t, err, "--tenant is required")
}
