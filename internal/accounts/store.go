package accounts

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/pinger/internal/model"
	"github.com/angeloszaimis/pinger/internal/storage"
)

var (
	ErrAlreadyExists = errors.New("account already exists")
	ErrNotFound      = errors.New("account not found")
)

// Storage is the durable collaborator the account list is loaded from and
// flushed to.
type Storage interface {
	Load() ([]model.Account, error)
	Save(accounts []model.Account) error
}

type entry struct {
	mutex   sync.Mutex
	account model.Account
}

// Store owns every account and its targets.
type Store struct {
	mutex   sync.RWMutex
	entries []*entry
	byID    map[string]*entry
	byName  map[string]*entry

	flushMutex sync.Mutex
	storage    Storage
	logger     *slog.Logger
}

// New creates a store and loads it from backend. A corrupt account file is
// logged and the store starts empty. Any other load failure is returned, so
// an unreadable file is never replaced by an empty list on the next flush.
func New(backend Storage, logger *slog.Logger) (*Store, error) {
	s := &Store{
		byID:    make(map[string]*entry),
		byName:  make(map[string]*entry),
		storage: backend,
		logger:  logger.With(slog.String("component", "accounts")),
	}

	loaded, err := backend.Load()
	if err != nil {
		if !errors.Is(err, storage.ErrCorrupt) {
			return nil, fmt.Errorf("load accounts: %w", err)
		}
		s.logger.Warn("Account file is corrupt, starting empty", slog.Any("err", err))
		return s, nil
	}

	for _, a := range loaded {
		if a.ID == "" || s.byID[a.ID] != nil || s.byName[a.Name] != nil {
			s.logger.Warn("Skipping invalid or duplicate account",
				slog.String("id", a.ID),
				slog.String("name", a.Name))
			continue
		}
		a = dedupeTargets(a)
		s.insert(a)
	}

	s.logger.Info("Loaded accounts", slog.Int("count", len(s.entries)))
	return s, nil
}

func (s *Store) insert(a model.Account) {
	e := &entry{account: a}
	s.entries = append(s.entries, e)
	s.byID[a.ID] = e
	s.byName[a.Name] = e
}

// Create registers a new account with the given display name and digest.
func (s *Store) Create(name, digest string, now time.Time) (model.Account, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.byName[name]; exists {
		return model.Account{}, ErrAlreadyExists
	}

	a := model.Account{
		ID:                uuid.NewString(),
		Name:              name,
		Digest:            digest,
		Targets:           []model.Target{},
		LastAuthenticated: now,
	}
	s.insert(a)

	return a.Clone(), nil
}

// Get returns a copy of the account with the given id.
func (s *Store) Get(id string) (model.Account, bool) {
	s.mutex.RLock()
	e, ok := s.byID[id]
	s.mutex.RUnlock()
	if !ok {
		return model.Account{}, false
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.account.Clone(), true
}

// FindByName returns a copy of the account with the given display name.
func (s *Store) FindByName(name string) (model.Account, bool) {
	s.mutex.RLock()
	e, ok := s.byName[name]
	s.mutex.RUnlock()
	if !ok {
		return model.Account{}, false
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.account.Clone(), true
}

// Exists reports whether an account with id is present.
func (s *Store) Exists(id string) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, ok := s.byID[id]
	return ok
}

// Len returns the number of accounts.
func (s *Store) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.entries)
}

// withAccount runs fn with the account locked. The store read lock is held
// for the duration so removal cannot interleave.
func (s *Store) withAccount(id string, fn func(a *model.Account)) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	e, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	fn(&e.account)
	return nil
}

// Touch moves the last-authenticated instant forward to at. Earlier
// instants are ignored.
func (s *Store) Touch(id string, at time.Time) error {
	return s.withAccount(id, func(a *model.Account) {
		if at.After(a.LastAuthenticated) {
			a.LastAuthenticated = at
		}
	})
}

// AddTarget appends url to the account's targets. Adding a URL that is
// already present is a no-op and reports added=false.
func (s *Store) AddTarget(id, url string) (added bool, err error) {
	err = s.withAccount(id, func(a *model.Account) {
		if a.TargetIndex(url) >= 0 {
			return
		}
		a.Targets = append(a.Targets, model.Target{AccountID: a.ID, URL: url})
		added = true
	})
	return added, err
}

// RemoveTarget deletes url from the account's targets, preserving the order
// of the rest.
func (s *Store) RemoveTarget(id, url string) (removed bool, err error) {
	err = s.withAccount(id, func(a *model.Account) {
		i := a.TargetIndex(url)
		if i < 0 {
			return
		}
		a.Targets = append(a.Targets[:i:i], a.Targets[i+1:]...)
		removed = true
	})
	return removed, err
}

// Targets returns a copy of the account's targets in insertion order.
func (s *Store) Targets(id string) ([]model.Target, error) {
	var out []model.Target
	err := s.withAccount(id, func(a *model.Account) {
		out = a.Clone().Targets
	})
	return out, err
}

// RecordOutcome writes outcome and at onto the account's target for url as a
// single unit. It reports false when the account or target is gone, or when
// a newer check is already recorded.
func (s *Store) RecordOutcome(id, url string, outcome model.Outcome, at time.Time) bool {
	recorded := false
	_ = s.withAccount(id, func(a *model.Account) {
		i := a.TargetIndex(url)
		if i < 0 {
			return
		}
		t := &a.Targets[i]
		if t.LastChecked != nil && at.Before(*t.LastChecked) {
			return
		}
		t.Record(outcome, at)
		recorded = true
	})
	return recorded
}

// Snapshot returns deep copies of all accounts in store order.
func (s *Store) Snapshot() []model.Account {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]model.Account, 0, len(s.entries))
	for _, e := range s.entries {
		e.mutex.Lock()
		out = append(out, e.account.Clone())
		e.mutex.Unlock()
	}
	return out
}

// RemoveInactive deletes every account whose last authentication is strictly
// before cutoff and returns the removed ids.
func (s *Store) RemoveInactive(cutoff time.Time) []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var removed []string
	kept := s.entries[:0]
	for _, e := range s.entries {
		e.mutex.Lock()
		stale := e.account.StaleBefore(cutoff)
		id, name := e.account.ID, e.account.Name
		e.mutex.Unlock()

		if !stale {
			kept = append(kept, e)
			continue
		}
		delete(s.byID, id)
		delete(s.byName, name)
		removed = append(removed, id)
	}
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = nil
	}
	s.entries = kept

	return removed
}

// Flush writes a consistent snapshot of every account to storage.
func (s *Store) Flush() error {
	s.flushMutex.Lock()
	defer s.flushMutex.Unlock()

	snapshot := s.Snapshot()
	if err := s.storage.Save(snapshot); err != nil {
		return fmt.Errorf("flush accounts: %w", err)
	}

	s.logger.Debug("Flushed accounts", slog.Int("count", len(snapshot)))
	return nil
}

func dedupeTargets(a model.Account) model.Account {
	seen := make(map[string]struct{}, len(a.Targets))
	targets := make([]model.Target, 0, len(a.Targets))
	for _, t := range a.Targets {
		if _, dup := seen[t.URL]; dup {
			continue
		}
		seen[t.URL] = struct{}{}
		t.AccountID = a.ID
		targets = append(targets, t)
	}
	a.Targets = targets
	return a
}
