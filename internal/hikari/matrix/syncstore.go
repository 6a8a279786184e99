package matrix

// syncstore.go implements mautrix.SyncStore on the document store so the
// next_batch token survives restarts and old room history is not replayed.

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Hikari/internal/hikari/docstore"
)

var _ mautrix.SyncStore = (*DocSyncStore)(nil)

// DocSyncStore keeps one document per (user, key) at matrix/{user}/sync/{key}.
type DocSyncStore struct {
	store docstore.Store
}

// NewDocSyncStore returns a sync store backed by store.
func NewDocSyncStore(store docstore.Store) *DocSyncStore {
	return &DocSyncStore{store: store}
}

type syncValue struct {
	Value string `json:"value"`
}

func syncPath(userID id.UserID, key string) string {
	return docstore.Join("matrix", userID.String(), "sync", key)
}

// SaveFilterID persists the event-filter ID for userID.
func (s *DocSyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.save(ctx, userID, "filter_id", filterID)
}

// LoadFilterID returns ("", nil) when no filter has been saved yet.
func (s *DocSyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, userID, "filter_id")
}

// SaveNextBatch persists the /sync next_batch token.
func (s *DocSyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.save(ctx, userID, "next_batch", nextBatchToken)
}

// LoadNextBatch returns ("", nil) on first run.
func (s *DocSyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, userID, "next_batch")
}

func (s *DocSyncStore) save(ctx context.Context, userID id.UserID, key, value string) error {
	if err := s.store.Set(ctx, syncPath(userID, key), syncValue{Value: value}); err != nil {
		return fmt.Errorf("matrix: save %s: %w", key, err)
	}
	return nil
}

func (s *DocSyncStore) load(ctx context.Context, userID id.UserID, key string) (string, error) {
	var v syncValue
	if _, err := s.store.Get(ctx, syncPath(userID, key), &v); err != nil {
		return "", fmt.Errorf("matrix: load %s: %w", key, err)
	}
	return v.Value, nil
}
