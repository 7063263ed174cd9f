package names

const (
	// WorkflowNameDB2 runs one backup of a Db2 database.
	WorkflowNameDB2 = "db2"

	// Activity Names
	ActivityNameDB2Backup      = "DB2BackupActivity"
	ActivityNameRetentionPrune = "RetentionPruneActivity"
	ActivityNameOffsiteUpload  = "OffsiteUploadActivity"
)
