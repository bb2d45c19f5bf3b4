// Package file stores portable identity records as one JSON document per identity.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/turtacn/lct/internal/domain/models"
	"github.com/turtacn/lct/internal/domain/repository"
	"github.com/turtacn/lct/pkg/errors"
	"github.com/turtacn/lct/pkg/logger"
)

const recordExt = ".json"

// RecordStore persists identity records under a directory as <entity_id>.json.
// Records may contain private key material, so files are written 0600.
type RecordStore struct {
	dir    string
	mu     sync.RWMutex
	logger logger.Logger
}

var _ repository.IdentityRecordStore = (*RecordStore)(nil)

// NewRecordStore creates dir if needed.
func NewRecordStore(dir string, log logger.Logger) (*RecordStore, error) {
	if dir == "" {
		return nil, errors.ErrInvalidArgument("record directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.ErrPersistence("create record directory", err)
	}
	return &RecordStore{dir: dir, logger: log.WithComponent("RecordStore")}, nil
}

// Save writes the record atomically: temp file, fsync, rename.
func (s *RecordStore) Save(ctx context.Context, record *models.IdentityRecord) error {
	id := record.ID()
	path, err := s.path(id)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errors.ErrPersistence("encode identity record", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, id+".*.tmp")
	if err != nil {
		return errors.ErrPersistence("write identity record", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // gone after a successful rename

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errors.ErrPersistence("write identity record", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.ErrPersistence("write identity record", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.ErrPersistence("write identity record", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.ErrPersistence("write identity record", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.ErrPersistence("commit identity record", err)
	}

	s.logger.Debug(ctx, "Identity record saved", logger.String("entity_id", id))
	return nil
}

// Load reads one record. Records written with the legacy agent_id field load
// with EntityID filled in.
func (s *RecordStore) Load(ctx context.Context, entityID string) (*models.IdentityRecord, error) {
	path, err := s.path(entityID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, err := os.ReadFile(path)
	s.mu.RUnlock()
	if os.IsNotExist(err) {
		return nil, errors.ErrEntityNotFound(entityID)
	}
	if err != nil {
		return nil, errors.ErrPersistence("read identity record", err)
	}

	var record models.IdentityRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.ErrPersistence("decode identity record", err).WithMetadata("entity_id", entityID)
	}
	if record.EntityID == "" {
		record.EntityID = record.AgentID
	}
	return &record, nil
}

// List returns the ids of every stored record, sorted.
func (s *RecordStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	entries, err := os.ReadDir(s.dir)
	s.mu.RUnlock()
	if err != nil {
		return nil, errors.ErrPersistence("list identity records", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, recordExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *RecordStore) Delete(ctx context.Context, entityID string) error {
	path, err := s.path(entityID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.ErrPersistence("delete identity record", err)
	}
	return nil
}

// path rejects ids that could escape the directory.
func (s *RecordStore) path(entityID string) (string, error) {
	if entityID == "" || strings.ContainsAny(entityID, `/\`) || strings.HasPrefix(entityID, ".") {
		return "", errors.ErrInvalidArgument(fmt.Sprintf("invalid entity id for record store: %q", entityID))
	}
	return filepath.Join(s.dir, entityID+recordExt), nil
}
