package terraform

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vmforge/engine/internal/models"
)

func TestLineWriterSplitsLines(t *testing.T) {
	type entry struct {
		level   models.LogLevel
		source  string
		message string
	}
	var got []entry
	w := newLineWriter(models.LogInfo, SourceTerraform, func(level models.LogLevel, source, message string) {
		got = append(got, entry{level, source, message})
	})

	// lines arrive in arbitrary chunks, including partial and CRLF
	for _, chunk := range []string{"Plan: 2 to ad", "d, 0 to change\r\napply", "ing...\n", "\n", "done\n"} {
		n, err := w.Write([]byte(chunk))
		require.NoError(t, err)
		require.Equal(t, len(chunk), n)
	}

	require.Equal(t, []entry{
		{models.LogInfo, SourceTerraform, "Plan: 2 to add, 0 to change"},
		{models.LogInfo, SourceTerraform, "applying..."},
		{models.LogInfo, SourceTerraform, "done"},
	}, got)
}

func TestWriteVarFile(t *testing.T) {
	dir := t.TempDir()
	vars := map[string]any{
		"name":   "web-1",
		"region": "nyc3",
		"ssh_keys": []string{
			"ssh-ed25519 AAAA... ops",
		},
	}
	require.NoError(t, writeVarFile(dir, vars))

	b, err := os.ReadFile(filepath.Join(dir, "terraform.tfvars.json"))
	require.NoError(t, err)

	var round map[string]any
	require.NoError(t, json.Unmarshal(b, &round))
	require.Equal(t, "web-1", round["name"])
	require.Equal(t, "nyc3", round["region"])
}

func TestNewRunnerNilLogFunc(t *testing.T) {
	r := NewRunner(t.TempDir(), "ws-1", nil)
	require.NotNil(t, r)
	// the no-op callback must not panic
	r.logf(models.LogInfo, SourceSystem, "noop")
}

func TestCleanupRemovesWorkspace(t *testing.T) {
	base := t.TempDir()
	r := NewRunner(base, "ws-9", nil)
	require.NoError(t, os.MkdirAll(r.WorkspaceDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(r.WorkspaceDir(), "terraform.tfstate"), []byte("{}"), 0o644))

	require.NoError(t, r.Cleanup())
	_, err := os.Stat(r.WorkspaceDir())
	require.True(t, os.IsNotExist(err))
}
