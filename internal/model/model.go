// Package model contains the import queue and catalog structs shared across
// packages.
package model

import (
	"errors"
	"slices"
	"time"
)

// ErrNotFound is wrapped by every store when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Priority orders pending imports. A named string type keeps the stored value
// readable while still giving the compiler something to check.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank returns the dequeue rank of a priority; lower ranks are served first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	return p.Rank() < 4
}

// QueueStatus is the lifecycle of an import request.
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusCompleted  QueueStatus = "completed"
	StatusFailed     QueueStatus = "failed"
	StatusCancelled  QueueStatus = "cancelled"
)

// QueueStatuses lists every queue state in display order.
var QueueStatuses = []QueueStatus{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// Valid reports whether s is one of the known queue states.
func (s QueueStatus) Valid() bool {
	return slices.Contains(QueueStatuses, s)
}

// ResultStatus is the lifecycle of a persisted import outcome.
type ResultStatus string

const (
	ResultImporting ResultStatus = "importing"
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
)

// ImportRequest is one entry of the import queue. The timestamps that are only
// set later in the lifecycle are pointers: a nil *time.Time means "not yet",
// which a zero time.Time could not express without a sentinel. omitempty then
// drops them from the JSON output until they are set.
type ImportRequest struct {
	ID             string      `json:"id"`
	DatasetID      string      `json:"datasetId"`
	RequestedBy    string      `json:"requestedBy"`
	Priority       Priority    `json:"priority"`
	Status         QueueStatus `json:"status"`
	CreatedAt      time.Time   `json:"createdAt"`
	StartedAt      *time.Time  `json:"startedAt,omitempty"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`
	ErrorMessage   string      `json:"errorMessage"`
	ImportResultID *string     `json:"importResultId,omitempty"`
}

// ProcessingTime returns how long the entry spent processing. While the entry
// is still running the elapsed time up to now is returned. The boolean is false
// when processing never started.
func (r *ImportRequest) ProcessingTime(now time.Time) (time.Duration, bool) {
	if r.StartedAt == nil {
		return 0, false
	}
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(*r.StartedAt), true
	}
	return now.Sub(*r.StartedAt), true
}

// ImportResult records where an import landed in the import database.
type ImportResult struct {
	ID                  string       `json:"id"`
	DatasetID           string       `json:"datasetId"`
	ImportedBy          string       `json:"importedBy"`
	Status              ResultStatus `json:"status"`
	ImportDatabaseTable *string      `json:"importDatabaseTable,omitempty"`
	RecordsImported     int          `json:"recordsImported"`
	ErrorMessage        string       `json:"errorMessage"`
	CreatedAt           time.Time    `json:"createdAt"`
	ImportCompletedAt   *time.Time   `json:"importCompletedAt,omitempty"`
}

// Dataset is the catalog entity an import is requested for.
type Dataset struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// DatasetVersion is one published version of a dataset. A version carries an
// uploaded file (local path or object key), an external URL, or neither.
type DatasetVersion struct {
	ID                 string    `json:"id"`
	DatasetID          string    `json:"datasetId"`
	VersionNumber      string    `json:"versionNumber"`
	Description        string    `json:"description"`
	FilePath           string    `json:"filePath,omitempty"`
	ObjectKey          string    `json:"objectKey,omitempty"`
	FileSize           int64     `json:"fileSize"`
	FileURL            string    `json:"fileUrl,omitempty"`
	FileURLDescription string    `json:"fileUrlDescription,omitempty"`
	CreatedBy          *string   `json:"createdBy,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	IsCurrent          bool      `json:"isCurrent"`
}

// HasFile reports whether an uploaded file is attached to the version.
func (v *DatasetVersion) HasFile() bool {
	return v.FilePath != "" || v.ObjectKey != ""
}

// StoredName is the attached file as the catalog stores it: the path relative
// to the media root, or the object key. It is empty without a file.
func (v *DatasetVersion) StoredName() string {
	if v.FilePath != "" {
		return v.FilePath
	}
	return v.ObjectKey
}

// FileName is the base name of the attached file, if any.
func (v *DatasetVersion) FileName() string {
	name := v.StoredName()
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			return name[i+1:]
		}
	}
	return name
}

// User is the requester identity used for provenance and priority.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	IsSuperuser bool   `json:"isSuperuser"`
}
