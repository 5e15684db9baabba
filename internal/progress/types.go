package progress

import "time"

// Status is the lifecycle state of one patient in the master list.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "inProgress"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Entry is the durable per-patient record. The set of entries is the sole
// resumability checkpoint: on restart, everything not in succeeded is
// reprocessed. An inProgress entry found at load time is a crash leftover and
// is requeued, which makes the pipeline at-least-once rather than
// exactly-once; duplicate report redemption is safe because the portal is
// read-only from this side.
type Entry struct {
	FolderNumber  string    `json:"folderNumber"`
	Status        Status    `json:"status"`
	LastAttemptAt time.Time `json:"lastAttemptAt,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`
	AttemptCount  int       `json:"attemptCount"`
}

// RunSummary is the end-of-run (or mid-run) count by status, plus per-patient
// failure reasons for manual follow-up.
type RunSummary struct {
	Total      int               `json:"total"`
	Pending    int               `json:"pending"`
	InProgress int               `json:"inProgress"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Skipped    int               `json:"skipped"`
	Reasons    map[string]string `json:"reasons,omitempty"`
}

// Summarize folds a set of entries into a RunSummary.
func Summarize(entries map[string]*Entry) *RunSummary {
	s := &RunSummary{Total: len(entries), Reasons: map[string]string{}}
	for folder, e := range entries {
		switch e.Status {
		case StatusPending:
			s.Pending++
		case StatusInProgress:
			s.InProgress++
		case StatusSucceeded:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
		if e.FailureReason != "" {
			s.Reasons[folder] = e.FailureReason
		}
	}
	return s
}
