package domain

import "time"

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusReady   RunStatus = "ready"
	RunStatusFailed  RunStatus = "failed"
)

// IndexRun records one rebuild of a project index.
type IndexRun struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	Ref          string     `json:"ref"`
	Status       RunStatus  `json:"status"`
	FilesTotal   int        `json:"files_total"`
	FilesIndexed int        `json:"files_indexed"`
	FilesSkipped int        `json:"files_skipped"`
	Chunks       int        `json:"chunks"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// IndexInfo describes the live generation of a persisted index.
type IndexInfo struct {
	ProjectID  string    `json:"project_id"`
	Generation string    `json:"generation"`
	Dim        int       `json:"dim"`
	Rows       int       `json:"rows"`
	BuiltAt    time.Time `json:"built_at"`
}

type RebuildRequest struct {
	RequestID string `json:"request_id"`
	ProjectID string `json:"project_id"`
	Ref       string `json:"ref"`
	Append    bool   `json:"append,omitempty"`
}

const DefaultRef = "HEAD"

type RebuildOptions struct {
	Append bool
}

// IndexStatus combines the live index with the latest recorded run. Either
// part may be missing.
type IndexStatus struct {
	ProjectID string     `json:"project_id"`
	Index     *IndexInfo `json:"index,omitempty"`
	LastRun   *IndexRun  `json:"last_run,omitempty"`
}

// BuildOptions controls how new rows meet an existing persisted index. The
// default replaces it; Append keeps the live rows and metadata and adds to both.
type BuildOptions struct {
	Append bool
}
