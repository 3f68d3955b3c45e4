package store

import (
	"time"

	"riskaudit/internal/ballot"
	"riskaudit/internal/coordinator"
)

// ImportStatus is the county dashboard's view of its latest import.
type ImportStatus string

const (
	ImportNotAttempted ImportStatus = "NOT_ATTEMPTED"
	ImportInProgress   ImportStatus = "IN_PROGRESS"
	ImportSuccessful   ImportStatus = "SUCCESSFUL"
	ImportFailed       ImportStatus = "FAILED"
)

// FileKind distinguishes CVR exports from ballot manifests.
type FileKind string

const (
	FileCVR      FileKind = "cvr"
	FileManifest FileKind = "manifest"
)

// FileStatus tracks an uploaded file through import.
type FileStatus string

const (
	FileHashVerified FileStatus = "HASH_VERIFIED"
	FileImporting    FileStatus = "IMPORTING"
	FileImported     FileStatus = "IMPORTED"
	FileFailed       FileStatus = "FAILED"
)

// County is a county's dashboard row.
type County struct {
	ID                int64
	Name              string
	State             coordinator.CountyState
	AuditBoards       int
	ImportStatus      ImportStatus
	ImportError       string
	CVRsImported      int
	BallotsInManifest int
	BallotsAudited    int
	UpdatedAt         time.Time
}

// UploadedFile is a county upload awaiting or past import.
type UploadedFile struct {
	ID        int64
	CountyID  int64
	Kind      FileKind
	Name      string
	Digest    string
	Status    FileStatus
	Result    string
	ImportID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DrawnBallot is a tribute resolved to its CVR.
type DrawnBallot struct {
	ID          int64
	RoundNumber int
	Tribute     ballot.Tribute
	CVRID       int64
}
