package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	configFile = "params.json"
	cloudFile  = "cparams.json"
)

// Store reads and writes the runtime configuration files in one directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created on the
// first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// LoadConfig reads params.json. A missing file returns an error matching
// os.ErrNotExist.
func (s *Store) LoadConfig() (ConfigParams, error) {
	var c ConfigParams
	if err := s.load(configFile, &c); err != nil {
		return ConfigParams{}, err
	}
	return c, nil
}

// SaveConfig writes params.json atomically.
func (s *Store) SaveConfig(c ConfigParams) error {
	return s.save(configFile, c)
}

// LoadCloud reads cparams.json.
func (s *Store) LoadCloud() (CloudConf, error) {
	var c CloudConf
	if err := s.load(cloudFile, &c); err != nil {
		return CloudConf{}, err
	}
	return c, nil
}

// SaveCloud writes cparams.json atomically.
func (s *Store) SaveCloud(c CloudConf) error {
	return s.save(cloudFile, c)
}

func (s *Store) load(name string, v json.Unmarshaler) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	if err := v.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("decoding %s: %w", name, err)
	}
	return nil
}

func (s *Store) save(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", s.dir, err)
	}
	return WriteFileAtomic(filepath.Join(s.dir, name), data, 0o600)
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// over path, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming to %s: %w", path, err)
	}
	return nil
}

// Holder is the process-wide owner of the current ConfigParams and
// CloudConf. Replacements are validated and persisted before they become
// visible. Safe for concurrent use.
type Holder struct {
	store *Store

	mu          sync.RWMutex
	conf        ConfigParams
	confLoaded  bool
	cloud       CloudConf
	cloudLoaded bool
}

// NewHolder returns an empty holder backed by store.
func NewHolder(store *Store) *Holder {
	return &Holder{store: store}
}

// Load reads both files from the store. Missing files are not an error and
// leave the corresponding configuration unloaded.
func (h *Holder) Load() error {
	conf, err := h.store.LoadConfig()
	switch {
	case err == nil:
		h.mu.Lock()
		h.conf, h.confLoaded = conf, true
		h.mu.Unlock()
	case !errors.Is(err, os.ErrNotExist):
		return err
	}

	cloud, err := h.store.LoadCloud()
	switch {
	case err == nil:
		h.mu.Lock()
		h.cloud, h.cloudLoaded = cloud, true
		h.mu.Unlock()
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	return nil
}

// Config returns a copy of the current configuration and whether it is
// loaded and valid.
func (h *Holder) Config() (ConfigParams, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conf, h.confLoaded && h.conf.IsAllValid()
}

// NormalPulsesPerSec returns the calibrated flow rate, 0 when unknown.
func (h *Holder) NormalPulsesPerSec() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.confLoaded {
		return 0
	}
	return h.conf.NormalPulsesPerSec
}

// Replace validates c, persists it and makes it current. On any error the
// current configuration is left untouched.
func (h *Holder) Replace(c ConfigParams) error {
	if err := c.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.store.SaveConfig(c); err != nil {
		return err
	}
	h.conf, h.confLoaded = c, true
	return nil
}

// SetNormalPulses stores a new flow calibration. The other fields keep
// their current values, even when no configuration was loaded yet.
func (h *Holder) SetNormalPulses(pulses float64) error {
	if pulses < 0 {
		return fmt.Errorf("%w: normpulses must be >= 0", ErrInvalid)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	next := h.conf
	next.NormalPulsesPerSec = pulses
	if err := h.store.SaveConfig(next); err != nil {
		return err
	}
	h.conf, h.confLoaded = next, true
	return nil
}

// Cloud returns the cloud configuration and whether one is loaded.
func (h *Holder) Cloud() (CloudConf, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cloud, h.cloudLoaded
}

// ReplaceCloud validates, persists and installs a new cloud configuration.
func (h *Holder) ReplaceCloud(c CloudConf) error {
	if err := c.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.store.SaveCloud(c); err != nil {
		return err
	}
	h.cloud, h.cloudLoaded = c, true
	return nil
}
