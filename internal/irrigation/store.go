package irrigation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/srmq/IIRR/internal/params"
)

type persistedJSON struct {
	LastIrrigEnd   int64 `json:"lastIrrigEnd"`
	IrrigTodaySecs int64 `json:"irrigTodaySecs"`
}

// FileStore keeps Persisted as JSON in a single file.
type FileStore struct {
	path string
}

// NewFileStore returns a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the file. A missing file returns an error matching
// os.ErrNotExist.
func (s *FileStore) Load() (Persisted, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Persisted{}, err
	}
	var w persistedJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return Persisted{}, fmt.Errorf("decoding %s: %w", s.path, err)
	}
	p := Persisted{IrrigTodaySecs: w.IrrigTodaySecs}
	if w.LastIrrigEnd != 0 {
		p.LastIrrigEnd = time.Unix(w.LastIrrigEnd, 0).UTC()
	}
	return p, nil
}

// Save replaces the file atomically.
func (s *FileStore) Save(p Persisted) error {
	w := persistedJSON{IrrigTodaySecs: p.IrrigTodaySecs}
	if !p.LastIrrigEnd.IsZero() {
		w.LastIrrigEnd = p.LastIrrigEnd.Unix()
	}
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(s.path), err)
	}
	return params.WriteFileAtomic(s.path, data, 0o644)
}

// MemStore is an in-memory StateStore for tests and dry runs.
type MemStore struct {
	P       Persisted
	Saves   int
	SaveErr error
	LoadErr error
}

func (m *MemStore) Load() (Persisted, error) {
	if m.LoadErr != nil {
		return Persisted{}, m.LoadErr
	}
	return m.P, nil
}

func (m *MemStore) Save(p Persisted) error {
	m.Saves++
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.P = p
	return nil
}
