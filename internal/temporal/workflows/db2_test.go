package workflows

import (
	"errors"
	"testing"

	"db2backup/internal/db2"
	"db2backup/internal/orchestrator"
	"db2backup/internal/temporal/activities"
	"db2backup/pkg/names"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
)

func newEnv() *testsuite.TestWorkflowEnvironment {
	ts := &testsuite.WorkflowTestSuite{}
	env := ts.NewTestWorkflowEnvironment()
	a := &activities.Activities{}
	env.RegisterActivityWithOptions(a.DB2BackupActivity, activity.RegisterOptions{Name: names.ActivityNameDB2Backup})
	env.RegisterActivityWithOptions(a.OffsiteUploadActivity, activity.RegisterOptions{Name: names.ActivityNameOffsiteUpload})
	env.RegisterActivityWithOptions(a.RetentionPruneActivity, activity.RegisterOptions{Name: names.ActivityNameRetentionPrune})
	return env
}

func backupOutput() *activities.DB2BackupActivityOutput {
	return &activities.DB2BackupActivityOutput{Report: &orchestrator.Report{
		Database:  "SAMPLE",
		Session:   &db2.Session{ID: "20261019T120000.000", Dir: "/mnt/backup/SAMPLE/20261019T120000.000"},
		Artifacts: []db2.Artifact{{Name: "SAMPLE.0.img", Size: 5}},
	}}
}

func TestDB2BackupWorkflow(t *testing.T) {
	env := newEnv()
	env.OnActivity(names.ActivityNameDB2Backup, mock.Anything, activities.DB2BackupActivityInput{DBName: "SAMPLE", BackupType: "delta"}).
		Return(backupOutput(), nil).Once()
	env.OnActivity(names.ActivityNameOffsiteUpload, mock.Anything, mock.Anything).
		Return(&activities.OffsiteUploadActivityOutput{Keys: []string{"SAMPLE/20261019T120000.000/SAMPLE.0.img"}}, nil).Once()
	env.OnActivity(names.ActivityNameRetentionPrune, mock.Anything, activities.RetentionPruneActivityInput{DBName: "SAMPLE"}).
		Return(&activities.RetentionPruneActivityOutput{Pruned: []string{"/mnt/backup/SAMPLE/20200101T000000.000"}}, nil).Once()

	env.ExecuteWorkflow(DB2BackupWorkflow, DB2WorkflowInput{DBName: "SAMPLE", BackupType: "delta"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out DB2WorkflowOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, "20261019T120000.000", out.Report.Session.ID)
	assert.Len(t, out.OffsiteKeys, 1)
	assert.Len(t, out.Pruned, 1)
	env.AssertExpectations(t)
}

func TestDB2BackupWorkflow_BackupFailureIsNotRetried(t *testing.T) {
	env := newEnv()
	env.OnActivity(names.ActivityNameDB2Backup, mock.Anything, mock.Anything).
		Return(nil, errors.New("backup command failed: SQL2036N")).Once()

	env.ExecuteWorkflow(DB2BackupWorkflow, DB2WorkflowInput{})
	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SQL2036N")
	env.AssertExpectations(t)
}

func TestDB2BackupWorkflow_FollowUpFailuresAreLogged(t *testing.T) {
	env := newEnv()
	env.OnActivity(names.ActivityNameDB2Backup, mock.Anything, mock.Anything).Return(backupOutput(), nil)
	env.OnActivity(names.ActivityNameOffsiteUpload, mock.Anything, mock.Anything).Return(nil, errors.New("bucket not found"))
	env.OnActivity(names.ActivityNameRetentionPrune, mock.Anything, mock.Anything).Return(nil, errors.New("permission denied"))

	env.ExecuteWorkflow(DB2BackupWorkflow, DB2WorkflowInput{})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out DB2WorkflowOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Empty(t, out.OffsiteKeys)
	assert.Empty(t, out.Pruned)
	assert.NotNil(t, out.Report)
}
