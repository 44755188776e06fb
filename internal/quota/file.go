package quota

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	legacyFileName = "rapidapi_usage.json"
	legacyProvider = "rapidapi"
	lockRetryDelay = 25 * time.Millisecond
)

// FileStore keeps all counters in one JSON file shaped as
// {"provider": {"period": "YYYY-MM", "count": n}}. An in-process mutex and an
// flock on "<path>.lock" serialize writers across goroutines and processes.
type FileStore struct {
	path       string
	legacyPath string
	mu         sync.Mutex
	lock       *flock.Flock
}

// NewFileStore creates a FileStore at path. A legacy single-provider file
// next to it is read once when path does not exist yet.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:       path,
		legacyPath: filepath.Join(filepath.Dir(path), legacyFileName),
		lock:       flock.New(path + ".lock"),
	}
}

// Update implements Store.
func (s *FileStore) Update(ctx context.Context, provider string, fn func(Usage) (Usage, error)) error {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	data := s.load()
	next, err := fn(data[provider])
	if err != nil {
		return err
	}
	data[provider] = next
	return s.save(data)
}

// List implements Store.
func (s *FileStore) List(ctx context.Context) (map[string]Usage, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.load(), nil
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, provider string) error {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	data := s.load()
	if _, ok := data[provider]; !ok {
		return nil
	}
	delete(data, provider)
	return s.save(data)
}

func (s *FileStore) acquire(ctx context.Context) (func(), error) {
	s.mu.Lock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.mu.Unlock()
		return nil, eris.Wrap(err, "quota: create state dir")
	}
	ok, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !ok {
		s.mu.Unlock()
		if err == nil {
			err = eris.New("lock not acquired")
		}
		return nil, eris.Wrap(err, "quota: lock state file")
	}
	return func() {
		if err := s.lock.Unlock(); err != nil {
			zap.L().Warn("quota: unlock state file", zap.Error(err))
		}
		s.mu.Unlock()
	}, nil
}

// load never fails: unreadable or corrupt state counts as no usage.
func (s *FileStore) load() map[string]Usage {
	raw, err := os.ReadFile(s.path)
	if err == nil {
		var data map[string]Usage
		if err := json.Unmarshal(raw, &data); err != nil || data == nil {
			zap.L().Warn("quota: corrupt state file, starting from zero",
				zap.String("path", s.path), zap.Error(err))
			return make(map[string]Usage)
		}
		for k, u := range data {
			if u.Count < 0 {
				u.Count = 0
				data[k] = u
			}
		}
		return data
	}
	if !errors.Is(err, fs.ErrNotExist) {
		zap.L().Warn("quota: read state file", zap.String("path", s.path), zap.Error(err))
		return make(map[string]Usage)
	}
	return s.loadLegacy()
}

func (s *FileStore) loadLegacy() map[string]Usage {
	data := make(map[string]Usage)
	raw, err := os.ReadFile(s.legacyPath)
	if err != nil {
		return data
	}
	var legacy map[string]json.RawMessage
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return data
	}
	if _, ok := legacy["period"]; !ok {
		return data
	}
	if _, ok := legacy["count"]; !ok {
		return data
	}
	var u Usage
	if err := json.Unmarshal(raw, &u); err != nil {
		return data
	}
	if u.Count < 0 {
		u.Count = 0
	}
	data[legacyProvider] = u
	return data
}

func (s *FileStore) save(data map[string]Usage) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return eris.Wrap(err, "quota: encode state")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".quota-*.json")
	if err != nil {
		return eris.Wrap(err, "quota: create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return eris.Wrap(err, "quota: write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return eris.Wrap(err, "quota: close temp file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return eris.Wrap(err, "quota: replace state file")
	}

	if err := os.Remove(s.legacyPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		zap.L().Debug("quota: remove legacy file", zap.String("path", s.legacyPath), zap.Error(err))
	}
	return nil
}
