package queue

import "time"

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

type JobType string

const (
	TypeInitial             JobType = "initial"
	TypeReanalysis          JobType = "reanalysis"
	TypeConnectionDiscovery JobType = "connection_discovery"
)

// Priority bands: lower value is served first. Only the relative order is
// load-bearing: user-triggered and initial ingest outrank reanalysis, which
// outranks connection discovery.
const (
	PriorityUserTriggered       = 50
	PriorityInitial             = 100
	PriorityReanalysis          = 200
	PriorityConnectionDiscovery = 300
)

// JobContext carries the type-specific keys a job's analysis needs.
// Reanalysis jobs set ExistingNodeID and Reason; connection discovery jobs
// set NodeID and FindConnections. Extra holds anything else callers attach.
type JobContext struct {
	ExistingNodeID  string            `json:"existingNodeId,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	NodeID          string            `json:"nodeId,omitempty"`
	FindConnections bool              `json:"findConnections,omitempty"`
	BoundaryType    string            `json:"boundaryType,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// IsZero reports whether no context key is set.
func (c JobContext) IsZero() bool {
	return c.ExistingNodeID == "" && c.Reason == "" && c.NodeID == "" &&
		!c.FindConnections && c.BoundaryType == "" && len(c.Extra) == 0
}

// JobError is the durable error record stored on a failed job.
type JobError struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Category  string    `json:"category"`
}

// Job is one unit of queued analysis work tied to a session file.
type Job struct {
	ID           string
	Type         JobType
	Priority     int
	SessionFile  string
	SegmentStart *int64
	SegmentEnd   *int64
	Context      JobContext
	Status       JobStatus
	QueuedAt     time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ResultNodeID *string
	Error        *JobError
	RetryCount   int
	MaxRetries   int
	WorkerID     *string
	LockedUntil  *time.Time
}

// EnqueueInput describes a job to enqueue. Zero Priority and MaxRetries
// take type-appropriate defaults.
type EnqueueInput struct {
	Type         JobType
	Priority     int
	SessionFile  string
	SegmentStart *int64
	SegmentEnd   *int64
	Context      JobContext
	MaxRetries   int
}

// FailOptions controls how Fail disposes of a job.
type FailOptions struct {
	Retryable bool
	// NextRunAt delays redequeue of a retryable job; ignored for terminal
	// failures. Zero means immediately eligible.
	NextRunAt time.Time
}

// Stats aggregates queue counts for observability.
type Stats struct {
	Pending            int
	Running            int
	Completed          int
	Failed             int
	AvgDurationSeconds float64
}

// DailyStats covers the current UTC day.
type DailyStats struct {
	Completed int
	Failed    int
}

// FailureSummary is one entry of the recent-failures report.
type FailureSummary struct {
	JobID       string
	Type        JobType
	SessionFile string
	Error       JobError
	CompletedAt time.Time
}
