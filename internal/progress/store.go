package progress

import "context"

// Store is the durable progress map keyed by folder number. Upsert must
// persist synchronously before returning: a crash immediately after a patient
// completes must not lose that completion.
type Store interface {
	Load(ctx context.Context) (map[string]*Entry, error)
	Upsert(ctx context.Context, entry *Entry) error
	Snapshot(ctx context.Context) (*RunSummary, error)
	Close() error
}
