package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/angeloszaimis/pinger/internal/model"
)

// ErrCorrupt is returned by Load when the file exists but cannot be decoded.
var ErrCorrupt = errors.New("storage: corrupt account file")

// Backend loads and saves the whole account list.
type Backend interface {
	Load() ([]model.Account, error)
	Save(accounts []model.Account) error
}

type codec interface {
	marshal(accounts []model.Account) ([]byte, error)
	unmarshal(data []byte, accounts *[]model.Account) error
}

type jsonCodec struct{}

func (jsonCodec) marshal(accounts []model.Account) ([]byte, error) {
	return json.MarshalIndent(accounts, "", "  ")
}

func (jsonCodec) unmarshal(data []byte, accounts *[]model.Account) error {
	return json.Unmarshal(data, accounts)
}

type yamlCodec struct{}

func (yamlCodec) marshal(accounts []model.Account) ([]byte, error) {
	return yaml.Marshal(accounts)
}

func (yamlCodec) unmarshal(data []byte, accounts *[]model.Account) error {
	return yaml.Unmarshal(data, accounts)
}

// File stores accounts in a JSON or YAML file, chosen by extension.
type File struct {
	path  string
	codec codec
}

// NewFile returns a File backed by path. Paths ending in .yaml or .yml use
// YAML, everything else JSON.
func NewFile(path string) *File {
	var c codec = jsonCodec{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		c = yamlCodec{}
	}

	return &File{path: path, codec: c}
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

// CorruptPath is where Load moves an undecodable file.
func (f *File) CorruptPath() string {
	return f.path + ".corrupt"
}

// Load reads the account list. A missing file yields an empty list. A file
// that cannot be decoded is moved aside to <path>.corrupt so the next Save
// does not destroy it.
func (f *File) Load() ([]model.Account, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: read %s: %w", f.path, err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var accounts []model.Account
	if err := f.codec.unmarshal(data, &accounts); err != nil {
		if renameErr := os.Rename(f.path, f.CorruptPath()); renameErr != nil {
			// Not ErrCorrupt: the caller must not start empty and later
			// overwrite a file it could not move aside.
			return nil, fmt.Errorf("storage: decode %s: %v (move aside: %w)", f.path, err, renameErr)
		}
		return nil, fmt.Errorf("%w: %v (moved to %s)", ErrCorrupt, err, f.CorruptPath())
	}

	return accounts, nil
}

// Save replaces the file contents with accounts.
func (f *File) Save(accounts []model.Account) error {
	if accounts == nil {
		accounts = []model.Account{}
	}

	data, err := f.codec.marshal(accounts)
	if err != nil {
		return fmt.Errorf("storage: encode: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("storage: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("storage: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("storage: close: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("storage: rename: %w", err)
	}

	return nil
}

// Open returns the storage backend for path: Memory for MemoryPath, File
// otherwise.
func Open(path string) Backend {
	if path == MemoryPath {
		return NewMemory()
	}
	return NewFile(path)
}
