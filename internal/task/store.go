package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	logx "postbot/pkg/logx"
)

// ErrStoreUnavailable marks a task file that exists but cannot be read or
// parsed. Callers treat it as fatal; an absent file is simply an empty store.
var ErrStoreUnavailable = errors.New("task store unavailable")

// Store persists the whole task collection in one flat JSON file.
//
// Every public operation is a single load-modify-save critical section
// guarded by the store mutex, so the engine's cycle and concurrent dialog
// handlers cannot clobber each other's writes. Saves go through a temp file
// and rename, so concurrent readers never observe a partial write.
type Store struct {
	path string
	log  logx.Logger
	mu   sync.Mutex
}

func NewStore(path string, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{path: path, log: log}
}

// Load returns the persisted collection; an absent file yields an empty one.
func (s *Store) Load() ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Save atomically rewrites the whole collection.
func (s *Store) Save(tasks []Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(tasks)
}

// Update runs fn over the loaded collection inside the critical section and
// persists the result when fn reports a change. The engine uses this for its
// whole evaluate-deliver-save cycle so dialog writes cannot interleave.
func (s *Store) Update(fn func(tasks []Task) ([]Task, bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.loadLocked()
	if err != nil {
		return err
	}
	tasks, changed, err := fn(tasks)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.saveLocked(tasks)
}

// Create appends a pending task and returns its id.
func (s *Store) Create(message, channelID string, mode Mode, scheduledAt string) (int64, error) {
	return s.create(message, channelID, mode, scheduledAt, StatusPending)
}

// CreateDone records a task that was already delivered (the immediate-send
// shortcut); it never enters pending.
func (s *Store) CreateDone(message, channelID string, mode Mode, scheduledAt string) (int64, error) {
	return s.create(message, channelID, mode, scheduledAt, StatusDone)
}

func (s *Store) create(message, channelID string, mode Mode, scheduledAt string, status Status) (int64, error) {
	var id int64
	err := s.Update(func(tasks []Task) ([]Task, bool, error) {
		id = nextID(tasks)
		t := Task{
			ID:        id,
			Message:   message,
			ChannelID: channelID,
			Mode:      mode,
			Status:    status,
		}
		if scheduledAt != "" {
			v := scheduledAt
			t.ScheduledAt = &v
		}
		return append(tasks, t), true, nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Edit replaces the provided (non-empty) fields of the matching task.
// An unknown id is a silent no-op: callers are expected to have just listed
// the collection, and a racing delete should not surface as an error.
func (s *Store) Edit(id int64, newMessage, newScheduledAt string) error {
	return s.Update(func(tasks []Task) ([]Task, bool, error) {
		for i := range tasks {
			if tasks[i].ID != id {
				continue
			}
			if newMessage != "" {
				tasks[i].Message = newMessage
			}
			if newScheduledAt != "" {
				v := newScheduledAt
				tasks[i].ScheduledAt = &v
			}
			return tasks, true, nil
		}
		return tasks, false, nil
	})
}

// Delete removes the matching task. An unknown id is a silent no-op.
func (s *Store) Delete(id int64) error {
	return s.Update(func(tasks []Task) ([]Task, bool, error) {
		for i := range tasks {
			if tasks[i].ID == id {
				return append(tasks[:i], tasks[i+1:]...), true, nil
			}
		}
		return tasks, false, nil
	})
}

// Get returns the task with the given id, if present.
func (s *Store) Get(id int64) (Task, bool, error) {
	tasks, err := s.Load()
	if err != nil {
		return Task{}, false, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, true, nil
		}
	}
	return Task{}, false, nil
}

func (s *Store) loadLocked() ([]Task, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var tasks []Task
	if err := json.Unmarshal(b, &tasks); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, s.path, err)
	}
	return tasks, nil
}

func (s *Store) saveLocked(tasks []Task) error {
	if tasks == nil {
		tasks = []Task{}
	}
	b, err := json.MarshalIndent(tasks, "", "    ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// nextID is max(existing)+1 rather than count+1, so deleting a task can
// never cause an id to be handed out twice.
func nextID(tasks []Task) int64 {
	var max int64
	for _, t := range tasks {
		if t.ID > max {
			max = t.ID
		}
	}
	return max + 1
}
