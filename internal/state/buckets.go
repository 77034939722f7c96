package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Standard bucket names
const (
	BucketCheckpoints = "checkpoints"
	BucketHistory     = "history"
)

// CheckpointRecord is an open checkpoint as persisted by a plugin.
type CheckpointRecord struct {
	ID        string          `json:"id"`
	Plugin    string          `json:"plugin"`
	CreatedAt time.Time       `json:"created_at"`
	Timeout   time.Duration   `json:"timeout"`
	Snapshot  json.RawMessage `json:"snapshot"`
}

// Deadline returns when the checkpoint rolls back on its own, or the
// zero time when it has no timeout.
func (r *CheckpointRecord) Deadline() time.Time {
	if r.Timeout <= 0 {
		return time.Time{}
	}
	return r.CreatedAt.Add(r.Timeout)
}

// CheckpointBucket provides typed access to open checkpoints, keyed by
// plugin name. A plugin has at most one.
type CheckpointBucket struct {
	store  Store
	bucket string
}

// NewCheckpointBucket creates a checkpoint bucket accessor.
func NewCheckpointBucket(store Store) (*CheckpointBucket, error) {
	if err := EnsureBucket(store, BucketCheckpoints); err != nil {
		return nil, err
	}
	return &CheckpointBucket{store: store, bucket: BucketCheckpoints}, nil
}

// Get returns the open checkpoint of a plugin.
func (b *CheckpointBucket) Get(plugin string) (*CheckpointRecord, error) {
	var rec CheckpointRecord
	if err := b.store.GetJSON(b.bucket, plugin, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Set stores the open checkpoint of a plugin.
func (b *CheckpointBucket) Set(rec *CheckpointRecord) error {
	if rec.Plugin == "" {
		return fmt.Errorf("checkpoint record has no plugin")
	}
	return b.store.SetJSON(b.bucket, rec.Plugin, rec)
}

// Delete forgets the open checkpoint of a plugin. A missing record is
// not an error.
func (b *CheckpointBucket) Delete(plugin string) error {
	if err := b.store.Delete(b.bucket, plugin); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// ApplyRecord is one apply session in the history bucket.
type ApplyRecord struct {
	ID           string    `json:"id"`
	Time         time.Time `json:"time"`
	Result       string    `json:"result"`
	CheckpointID string    `json:"checkpoint_id,omitempty"`
	Interfaces   []string  `json:"interfaces,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// HistoryBucket records apply sessions.
type HistoryBucket struct {
	store  Store
	bucket string
	limit  int
}

// NewHistoryBucket creates a history accessor that keeps at most limit
// records; limit <= 0 keeps everything.
func NewHistoryBucket(store Store, limit int) (*HistoryBucket, error) {
	if err := EnsureBucket(store, BucketHistory); err != nil {
		return nil, err
	}
	return &HistoryBucket{store: store, bucket: BucketHistory, limit: limit}, nil
}

// historyKey sorts records chronologically.
func historyKey(rec *ApplyRecord) string {
	return fmt.Sprintf("%020d-%s", rec.Time.UnixNano(), rec.ID)
}

// Add stores a record and prunes the oldest ones beyond the limit.
func (b *HistoryBucket) Add(rec *ApplyRecord) error {
	if err := b.store.SetJSON(b.bucket, historyKey(rec), rec); err != nil {
		return err
	}
	if b.limit <= 0 {
		return nil
	}
	keys, err := b.store.ListKeys(b.bucket)
	if err != nil {
		return err
	}
	for len(keys) > b.limit {
		if err := b.store.Delete(b.bucket, keys[0]); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		keys = keys[1:]
	}
	return nil
}

// List returns records newest first.
func (b *HistoryBucket) List() ([]*ApplyRecord, error) {
	all, err := b.store.List(b.bucket)
	if err != nil {
		return nil, err
	}
	records := make([]*ApplyRecord, 0, len(all))
	for _, data := range all {
		var rec ApplyRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Time.After(records[j].Time)
	})
	return records, nil
}
