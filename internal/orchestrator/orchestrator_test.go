package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"db2backup/internal/config"
	"db2backup/internal/db2"
	"db2backup/internal/runner"
	"db2backup/internal/runner/runnertest"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleConfig() config.BackupConfig {
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

type env struct {
	script *runnertest.Script
	fs     afero.Fs
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/mnt/backup", 0o755))
	return &env{script: runnertest.New(), fs: fs}
}

func (e *env) orchestrator(cfg config.BackupConfig, offsite Uploader) *Orchestrator {
	return Wire(cfg, Deps{
		Runner:   e.script,
		Fs:       e.fs,
		Logger:   zerolog.Nop(),
		DB2Path:  "db2",
		Identity: "db2inst1",
		Offsite:  offsite,
	})
}

func (e *env) grantRights() {
	e.script.Ok("values current user", "DB2INST1\n")
	e.script.Ok("count(*)", "0\n")
	e.script.Ok("SYSADM", "1\n")
}

func (e *env) logging(value string) {
	e.script.Ok("sysibmadm.dbcfg", value+"\n")
}

func (e *env) writesImage(t *testing.T) {
	e.script.Ok("backup database", "Backup successful. The timestamp for this backup image is : 20261019120000\n").Do = func(cmd runner.Command) {
		var dir string
		for i, a := range cmd.Args {
			if a == "to" {
				dir = cmd.Args[i+1]
			}
		}
		require.NoError(t, afero.WriteFile(e.fs, filepath.Join(dir, "SAMPLE.0.db2inst1.DBPART000.20261019120000.001"), []byte("image"), 0o640))
	}
}

func (e *env) expiredSession(t *testing.T) string {
	dir := "/mnt/backup/SAMPLE/20200101T000000.000"
	require.NoError(t, e.fs.MkdirAll(dir, 0o750))
	old := time.Now().AddDate(0, 0, -40)
	require.NoError(t, e.fs.Chtimes(dir, old, old))
	return dir
}

func (e *env) inOrder(t *testing.T, steps ...string) {
	t.Helper()
	last := -1
	for _, step := range steps {
		idx := e.script.Index(step)
		require.Greater(t, idx, last, "step %q out of order in %v", step, e.script.Lines())
		last = idx
	}
}

func TestRun_ArchiveLoggingOnlineBackup(t *testing.T) {
	e := newEnv(t)
	e.grantRights()
	e.logging("DISK:/db2/archive/")
	e.writesImage(t)
	expired := e.expiredSession(t)

	report, err := e.orchestrator(sampleConfig(), nil).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, e.script.Ran("deactivate"))
	assert.False(t, e.script.Ran("db2 activate"))
	assert.Contains(t, e.script.Lines()[e.script.Index("backup database")], "backup database SAMPLE online to /mnt/backup/SAMPLE/")

	require.NotNil(t, report.Session)
	assert.Equal(t, db2.LogModeArchive, report.Session.LogMode)
	require.Len(t, report.Artifacts, 1)
	assert.Equal(t, filepath.Join("/mnt/backup/SAMPLE", report.Session.ID), filepath.Dir(report.Artifacts[0].Path))
	assert.Equal(t, db2.VerdictVerified, report.Rights.Verdict)
	assert.Equal(t, []string{expired}, report.Pruned)
	assert.Empty(t, report.Warnings)

	e.inOrder(t, "connect to SAMPLE", "values current user", "sysibmadm.dbcfg", "backup database", "terminate")
}

func TestRun_CircularLoggingOfflineBracket(t *testing.T) {
	e := newEnv(t)
	e.grantRights()
	e.logging("OFF")
	e.script.Ok("list applications", `
Auth Id  Application    Appl.      Application Id                 DB       # of
         Name           Handle                                    Name    Agents
-------- -------------- ---------- ------------------------------ -------- -----
APPUSER  java           7          10.0.0.5.40000.261019120001    SAMPLE   1
`)
	e.writesImage(t)

	report, err := e.orchestrator(sampleConfig(), nil).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Session.Deactivated)

	e.inOrder(t,
		"force application",
		"db2 deactivate database SAMPLE",
		"backup database SAMPLE to",
		"db2 activate database SAMPLE",
		"terminate",
	)
	assert.NotContains(t, e.script.Lines()[e.script.Index("backup database")], "online")
}

func TestRun_InsufficientRightsAborts(t *testing.T) {
	e := newEnv(t)
	e.script.Ok("values current user", "APPUSER\n")
	e.script.Ok("count(*)", "0\n")
	expired := e.expiredSession(t)

	report, err := e.orchestrator(sampleConfig(), nil).Run(context.Background())
	assert.ErrorIs(t, err, db2.ErrInsufficientRights)
	assert.Equal(t, db2.VerdictInsufficient, report.Rights.Verdict)
	assert.False(t, e.script.Ran("sysibmadm.dbcfg"))
	assert.False(t, e.script.Ran("backup database"))
	assert.True(t, e.script.Ran("terminate"))

	_, statErr := e.fs.Stat(expired)
	assert.NoError(t, statErr, "nothing is pruned after a failed run")
}

func TestRun_DegradedRightsProceedWithWarning(t *testing.T) {
	e := newEnv(t)
	e.script.Fail("-x", 4, "SQL0551N  The statement failed. SQLSTATE=42501")
	e.logging("DISK:/archive/")
	e.writesImage(t)

	report, err := e.orchestrator(sampleConfig(), nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, db2.VerdictDegraded, report.Rights.Verdict)
	require.NotEmpty(t, report.Warnings)
	assert.Equal(t, db2.WarnRightsDegraded, report.Warnings[0].Kind)
	assert.True(t, e.script.Ran("backup database"))
}

func TestRun_StrictRightsRejectsDegraded(t *testing.T) {
	e := newEnv(t)
	e.script.Fail("-x", 4, "SQL0551N")
	cfg := sampleConfig()
	cfg.StrictRights = true

	_, err := e.orchestrator(cfg, nil).Run(context.Background())
	assert.ErrorIs(t, err, db2.ErrRightsUnverified)
	assert.False(t, e.script.Ran("backup database"))
	assert.True(t, e.script.Ran("terminate"))
}

func TestRun_NonCatalogedConnectFailureLeavesNoCatalogEntries(t *testing.T) {
	e := newEnv(t)
	e.script.Fail("connect to", 8, "SQL30081N  A communication error has been detected.")
	cfg := sampleConfig()
	cfg.ConnectionType = config.ConnectionNonCataloged
	cfg.DBHost = "db.example.com"

	_, err := e.orchestrator(cfg, nil).Run(context.Background())
	assert.ErrorIs(t, err, db2.ErrConnectFailed)
	assert.Equal(t, 1, e.script.Count("db2 catalog tcpip node"))
	assert.Equal(t, 1, e.script.Count("db2 uncatalog database"))
	assert.Equal(t, 1, e.script.Count("db2 uncatalog node"))
	e.inOrder(t, "db2 uncatalog database", "db2 uncatalog node")
	assert.False(t, e.script.Ran("values current user"))
}

func TestRun_BackupFailureReactivatesAndDisconnects(t *testing.T) {
	e := newEnv(t)
	e.grantRights()
	e.logging("OFF")
	e.script.Fail("backup database", 4, "SQL2036N  The path for the file or device is not valid.")
	cfg := sampleConfig()
	cfg.ConnectionType = config.ConnectionNonCataloged
	cfg.DBHost = "db.example.com"

	report, err := e.orchestrator(cfg, nil).Run(context.Background())
	assert.ErrorIs(t, err, db2.ErrBackupCommandFailed)
	assert.True(t, report.Session.Deactivated)
	e.inOrder(t, "backup database", "db2 activate database", "db2 uncatalog database", "db2 uncatalog node")
	assert.Equal(t, 2, e.script.Count("terminate"))
	assert.Empty(t, report.Pruned)
}

type fakeUploader struct {
	keys []string
	err  error
	got  *db2.ArtifactSet
}

func (f *fakeUploader) Upload(_ context.Context, _ string, set *db2.ArtifactSet) ([]string, error) {
	f.got = set
	return f.keys, f.err
}

func TestRun_Offsite(t *testing.T) {
	e := newEnv(t)
	e.grantRights()
	e.logging("LOGRETAIN")
	e.writesImage(t)
	up := &fakeUploader{keys: []string{"db2/SAMPLE/x/SAMPLE.0.img"}}

	report, err := e.orchestrator(sampleConfig(), up).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, up.keys, report.OffsiteKeys)
	require.NotNil(t, up.got)
	assert.Equal(t, report.Session.ID, up.got.Session.ID)
	assert.Len(t, up.got.Artifacts, 1)
}

func TestRun_OffsiteFailureIsWarning(t *testing.T) {
	e := newEnv(t)
	e.grantRights()
	e.logging("LOGRETAIN")
	e.writesImage(t)
	up := &fakeUploader{err: errors.New("bucket not found")}

	report, err := e.orchestrator(sampleConfig(), up).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, db2.WarnOffsiteFailed, report.Warnings[0].Kind)
	assert.False(t, report.NeedsAttention())
}

func TestRun_ReactivateFailureNeedsAttention(t *testing.T) {
	e := newEnv(t)
	e.grantRights()
	e.logging("OFF")
	e.writesImage(t)
	e.script.Fail("db2 activate", 4, "SQL1013N")

	report, err := e.orchestrator(sampleConfig(), nil).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.NeedsAttention())
}

func TestPrune_RetentionDisabled(t *testing.T) {
	e := newEnv(t)
	expired := e.expiredSession(t)
	cfg := sampleConfig()
	cfg.RetentionDays = 0

	report := &Report{}
	e.orchestrator(cfg, nil).Prune(context.Background(), report)
	assert.Empty(t, report.Pruned)
	_, err := e.fs.Stat(expired)
	assert.False(t, os.IsNotExist(err))
}
