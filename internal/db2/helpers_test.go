package db2

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"db2backup/internal/config"
	"db2backup/internal/runner"
	"db2backup/internal/runner/runnertest"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func testConfig() config.BackupConfig {
	return config.BackupConfig{
		BackupType:     config.BackupTypeFull,
		Compress:       true,
		Parallelism:    4,
		BufferSize:     1024,
		BackupPath:     "/mnt/backup",
		DBName:         "SAMPLE",
		ConnectionType: config.ConnectionLocal,
		DBPort:         50000,
		RetentionDays:  30,
	}
}

// catalog tracks temporary catalog entries created through a script.
type catalog struct {
	mu      sync.Mutex
	entries map[string]bool
}

func trackCatalog(s *runnertest.Script) *catalog {
	c := &catalog{entries: map[string]bool{}}
	s.On("catalog tcpip node").Do = func(cmd runner.Command) { c.set("node "+cmd.Args[4], true) }
	s.On("catalog database").Do = func(cmd runner.Command) { c.set("db "+cmd.Args[5], true) }
	s.On("uncatalog node").Do = func(cmd runner.Command) { c.set("node "+cmd.Args[3], false) }
	s.On("uncatalog database").Do = func(cmd runner.Command) { c.set("db "+cmd.Args[3], false) }
	return c
}

func (c *catalog) set(key string, present bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if present {
		c.entries[key] = true
	} else {
		delete(c.entries, key)
	}
}

func (c *catalog) clean() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries) == 0
}

// writesImage makes the backup command drop an image file in its target.
func writesImage(t *testing.T, fs afero.Fs, s *runnertest.Script, output string) *runnertest.Rule {
	t.Helper()
	rule := s.Ok("backup database", output)
	rule.Do = func(cmd runner.Command) {
		dir := argAfter(cmd.Args, "to")
		name := "SAMPLE.0.db2inst1.DBPART000." + time.Now().Format("20060102150405") + ".001"
		require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, name), []byte("image"), 0o640))
	}
	return rule
}

func argAfter(args []string, key string) string {
	for i := range args[:len(args)-1] {
		if args[i] == key {
			return args[i+1]
		}
	}
	return ""
}

type fixture struct {
	script   *runnertest.Script
	fs       afero.Fs
	conns    *ConnectionManager
	executor *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := runnertest.New()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/mnt/backup", 0o755))

	clp := CLP{Path: "db2"}
	logger := zerolog.Nop()
	conns := NewConnectionManager(s, clp, logger)
	conns.newToken = func() string { return "3f2504e0-4f89-11d3-9a0c-0305e82c3301" }

	return &fixture{
		script: s,
		fs:     fs,
		conns:  conns,
		executor: NewExecutor(ExecutorOptions{
			Runner:      s,
			CLP:         clp,
			Connections: conns,
			Detector:    NewLogModeDetector(s, clp, logger),
			Fs:          fs,
			Logger:      logger,
		}),
	}
}
