package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskOptions holds the advanced nuclei options for a single task.
// Zero values mean "unset" and the corresponding flag is omitted.
type TaskOptions struct {
	RateLimit   int    `json:"rate_limit,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Proxy       string `json:"proxy,omitempty"`
	Interactsh  string `json:"interactsh,omitempty"`
	OutputPath  string `json:"output_path,omitempty"`
}

// Finding represents one structured match parsed from nuclei's JSONL output.
// Raw preserves the original JSON line verbatim for later inspection.
type Finding struct {
	TemplateID  string          `json:"template_id"`
	Name        string          `json:"name,omitempty"`
	Severity    Severity        `json:"severity"`
	Host        string          `json:"host"`
	MatchedAt   string          `json:"matched_at,omitempty"`
	Description string          `json:"description,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
	SeenAt      time.Time       `json:"seen_at"`
}

// TaskMeta contains the identity, inputs and lifecycle metadata of a task.
// Targets and Templates are immutable once the task has been submitted.
type TaskMeta struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Targets        []string    `json:"targets"`
	Templates      []string    `json:"templates"`
	Options        TaskOptions `json:"options"`
	Status         TaskStatus  `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	FinishedAt     *time.Time  `json:"finished_at,omitempty"`
	LastError      string      `json:"last_error,omitempty"`
	MalformedLines int         `json:"malformed_lines,omitempty"`
}

// TaskRecord is the archived form of a finished task: its metadata plus
// every finding accumulated before it reached a terminal status.
type TaskRecord struct {
	TaskMeta
	Findings []Finding `json:"findings"`
}

// Snapshot is a point-in-time, read-only view of a task. It is a value copy
// so callers can never observe a torn or partially updated task.
type Snapshot struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Status         TaskStatus    `json:"status"`
	TargetCount    int           `json:"target_count"`
	TemplateCount  int           `json:"template_count"`
	ResultCount    int           `json:"result_count"`
	MalformedLines int           `json:"malformed_lines"`
	Elapsed        time.Duration `json:"elapsed"`
	CreatedAt      time.Time     `json:"created_at"`
	LastError      string        `json:"last_error,omitempty"`
}

// NewTaskMeta creates task metadata in the pending status with a fresh ID.
func NewTaskMeta(name string, targets, templates []string, opts TaskOptions) TaskMeta {
	return TaskMeta{
		ID:        uuid.New().String(),
		Name:      name,
		Targets:   targets,
		Templates: templates,
		Options:   opts,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

// SeveritySummary counts findings per severity level.
func SeveritySummary(findings []Finding) map[Severity]int {
	summary := make(map[Severity]int)
	for _, f := range findings {
		summary[f.Severity]++
	}
	return summary
}
