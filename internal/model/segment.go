package model

import "time"

// SegmentInfo describes a sealed buffer segment
type SegmentInfo struct {
	PageID   int64     `json:"page_id"`
	MinKey   string    `json:"min_key"`
	MaxKey   string    `json:"max_key"`
	Count    int       `json:"count"`
	SealedAt time.Time `json:"sealed_at"`
	Pages    []int32   `json:"pages,omitempty"` // allocator pages, once archived
}

// ArchiveStatus indicates the state of an archive job
type ArchiveStatus string

const (
	ArchiveStatusPending   ArchiveStatus = "pending"
	ArchiveStatusRunning   ArchiveStatus = "running"
	ArchiveStatusCompleted ArchiveStatus = "completed"
	ArchiveStatusFailed    ArchiveStatus = "failed"
	ArchiveStatusRejected  ArchiveStatus = "rejected"
	ArchiveStatusSkipped   ArchiveStatus = "skipped" // segment removed before it was archived
)

// ArchiveJob tracks the archival of one sealed segment
type ArchiveJob struct {
	JobID        string
	Segment      SegmentInfo
	Status       ArchiveStatus
	StartedAt    time.Time
	FinishedAt   time.Time
	Error        string
	PartialPages []int32 // pages allocated by a job that did not complete
}
