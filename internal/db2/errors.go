package db2

import "errors"

// Fatal conditions. Callers classify with errors.Is.
var (
	ErrConnectFailed       = errors.New("connect failed")
	ErrCatalogFailed       = errors.New("catalog failed")
	ErrInsufficientRights  = errors.New("insufficient rights")
	ErrRightsUnverified    = errors.New("rights could not be verified")
	ErrClassifyFailed      = errors.New("logging mode detection failed")
	ErrDeactivateFailed    = errors.New("deactivate failed")
	ErrSessionDirExists    = errors.New("session directory already exists")
	ErrDirCreateFailed     = errors.New("session directory creation failed")
	ErrBackupCommandFailed = errors.New("backup command failed")
	ErrBackupReportedError = errors.New("backup reported an error")
	ErrNoArtifactsProduced = errors.New("no backup artifacts produced")
)

// WarningKind names a non-fatal condition surfaced to the operator.
type WarningKind string

const (
	WarnRightsDegraded     WarningKind = "RightsDegraded"
	WarnForceFailed        WarningKind = "ForceFailed"
	WarnReactivateFailed   WarningKind = "ReactivateFailed"
	WarnDisconnectFailed   WarningKind = "DisconnectFailed"
	WarnArtifactsRelocated WarningKind = "ArtifactsRelocated"
	WarnPruneFailed        WarningKind = "PruneFailed"
	WarnOffsiteFailed      WarningKind = "OffsiteFailed"
)

// Warning is a non-fatal condition recorded during a run.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
	// Manual is set when an operator has to intervene.
	Manual bool `json:"manual,omitempty"`
}
