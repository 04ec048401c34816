package storage

import (
	"sync"

	"github.com/angeloszaimis/pinger/internal/model"
)

// MemoryPath selects Memory instead of a file in configuration.
const MemoryPath = ":memory:"

// Memory keeps the last saved account list in process memory. Nothing
// survives a restart.
type Memory struct {
	mutex    sync.Mutex
	accounts []model.Account
	saves    int
	err      error
}

// NewMemory returns a Memory preloaded with accounts.
func NewMemory(accounts ...model.Account) *Memory {
	m := &Memory{}
	m.accounts = cloneAll(accounts)
	return m
}

func (m *Memory) Load() ([]model.Account, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return cloneAll(m.accounts), nil
}

func (m *Memory) Save(accounts []model.Account) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.err != nil {
		return m.err
	}
	m.accounts = cloneAll(accounts)
	m.saves++
	return nil
}

// Saves returns how many successful saves happened.
func (m *Memory) Saves() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.saves
}

// Accounts returns a copy of the last saved list.
func (m *Memory) Accounts() []model.Account {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return cloneAll(m.accounts)
}

// FailWith makes subsequent saves return err. A nil err clears it.
func (m *Memory) FailWith(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.err = err
}

func cloneAll(accounts []model.Account) []model.Account {
	if accounts == nil {
		return nil
	}
	out := make([]model.Account, len(accounts))
	for i, a := range accounts {
		out[i] = a.Clone()
	}
	return out
}
