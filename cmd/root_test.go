package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"db2backup/internal/config"
	"db2backup/internal/exitcode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestBackup_InvalidConfigExitCode(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("backup:\n  backup_path: relative\n  db_name: sample\n"), 0o600))

	_, err := run(t, "backup", "--config", cfgFile)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.Equal(t, exitcode.Config, exitcode.FromError(err))
}

func TestPrune(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "SAMPLE", "20200101T000000.000")
	require.NoError(t, os.MkdirAll(old, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(old, "SAMPLE.0.img"), []byte("image"), 0o640))
	past := mustParse(t, "2020-01-01T00:00:00Z")
	require.NoError(t, os.Chtimes(old, past, past))

	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("backup:\n  backup_path: "+root+"\n  db_name: sample\n"), 0o600))

	out, err := run(t, "prune", "--config", cfgFile)
	require.NoError(t, err)
	assert.Contains(t, out, "1 pruned, 0 failed")

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
}

func TestPrune_DaysZeroDisables(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "SAMPLE", "20200101T000000.000")
	require.NoError(t, os.MkdirAll(old, 0o750))
	past := mustParse(t, "2020-01-01T00:00:00Z")
	require.NoError(t, os.Chtimes(old, past, past))

	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("backup:\n  backup_path: "+root+"\n  db_name: sample\n"), 0o600))

	out, err := run(t, "prune", "--config", cfgFile, "--days", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "0 pruned")

	_, err = os.Stat(old)
	assert.NoError(t, err)
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}
