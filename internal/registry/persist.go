package registry

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"fleetwarden/internal/model"
)

type persistedAccountsFile struct {
	Version  int             `json:"version"`
	Accounts []model.Account `json:"accounts"`
	SavedAt  int64           `json:"savedAt"`
}

func (r *Registry) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var file persistedAccountsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.Version != 1 {
		return errors.New("unsupported accounts state version")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range file.Accounts {
		if a.ID == "" {
			continue
		}
		if err := checkInvariants(a); err != nil {
			return err
		}
		r.accounts[a.ID] = &entry{acc: a}
	}
	return nil
}

func (r *Registry) snapshot() []model.Account {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.accounts))
	for _, e := range r.accounts {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	result := make([]model.Account, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			result = append(result, e.acc)
		}
		e.mu.Unlock()
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// persist writes the whole registry to the state file. The snapshot is taken
// under persistMu so concurrent writers cannot reorder older state over newer.
func (r *Registry) persist() {
	path := r.stateFile
	if path == "" {
		return
	}

	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	accounts := r.snapshot()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		r.log.Error().Err(err).Str("dir", dir).Msg("accounts persistence: mkdir failed")
		return
	}

	file := persistedAccountsFile{Version: 1, Accounts: accounts, SavedAt: time.Now().UnixMilli()}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		r.log.Error().Err(err).Msg("accounts persistence: marshal failed")
		return
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		r.log.Error().Err(err).Msg("accounts persistence: create temp failed")
		return
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		r.log.Error().Err(err).Msg("accounts persistence: chmod temp failed")
		return
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		r.log.Error().Err(err).Msg("accounts persistence: write temp failed")
		return
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		r.log.Error().Err(err).Msg("accounts persistence: sync temp failed")
		return
	}
	if err := tmp.Close(); err != nil {
		r.log.Error().Err(err).Msg("accounts persistence: close temp failed")
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		r.log.Error().Err(err).Msg("accounts persistence: rename failed")
	}
}
