package procedure

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tesseradb/replication/pkg/coordstore"
	"github.com/tesseradb/replication/pkg/replication"
)

// recordStore persists procedure records in the coordination store under
// <base>/procedures/<id>.
type recordStore struct {
	store coordstore.Store
	root  string
}

func newRecordStore(store coordstore.Store, base string) *recordStore {
	if base == "" {
		base = replication.DefaultBasePath
	}
	return &recordStore{store: store, root: coordstore.JoinKey(base, "procedures")}
}

func (s *recordStore) key(id string) string {
	return coordstore.JoinKey(s.root, id)
}

// Save writes the record, stamping UpdatedAt.
func (s *recordStore) Save(ctx context.Context, record *Record) error {
	record.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal procedure record: %w", err)
	}
	return s.store.Set(ctx, s.key(record.ID), coordstore.EncodeValue(raw))
}

// Load reads one record by id.
func (s *recordStore) Load(ctx context.Context, id string) (*Record, error) {
	framed, err := s.store.Get(ctx, s.key(id))
	if err != nil {
		return nil, err
	}
	raw, err := coordstore.DecodeValue(framed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode procedure record %s: %w", id, err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal procedure record %s: %w", id, err)
	}
	return &record, nil
}

// Delete removes a finished record. Deleting a missing record is fine.
func (s *recordStore) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, s.key(id)); err != nil && !coordstore.IsNotFound(err) {
		return err
	}
	return nil
}

// ListIDs returns the ids of every persisted record.
func (s *recordStore) ListIDs(ctx context.Context) ([]string, error) {
	return s.store.List(ctx, s.root)
}
