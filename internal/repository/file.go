package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/atinyakov/passkeeper/internal/matcher"
	"github.com/atinyakov/passkeeper/internal/models"
)

// fileRecord is one login as persisted in the JSON file.
type fileRecord struct {
	GUID string `json:"guid"`
	models.Login
}

type fileContents struct {
	Logins []fileRecord `json:"logins"`
}

// FileLoginRepository stores logins in a JSON file. The whole file is
// rewritten after every change.
type FileLoginRepository struct {
	path    string
	mu      sync.Mutex
	records []fileRecord
}

// NewFileLoginRepository returns a repository persisting to path. Nothing
// is read until Initialize.
func NewFileLoginRepository(path string) *FileLoginRepository {
	return &FileLoginRepository{path: path}
}

// Initialize loads the file. A missing file is an empty store.
func (r *FileLoginRepository) Initialize(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Open(r.path)
	if errors.Is(err, os.ErrNotExist) {
		r.records = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", r.path, err)
	}
	defer f.Close()

	var c fileContents
	if err := json.NewDecoder(f).Decode(&c); err != nil {
		return fmt.Errorf("decode %s: %w", r.path, err)
	}
	r.records = c.Logins
	return nil
}

// Close is a no-op; every change is already on disk.
func (r *FileLoginRepository) Close() error {
	return nil
}

// save writes the records to a temporary file next to path and renames it
// into place. The caller holds r.mu.
func (r *FileLoginRepository) save() error {
	data, err := json.MarshalIndent(fileContents{Logins: r.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode logins: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".logins-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replace %s: %w", r.path, err)
	}
	return nil
}

// AddLogin appends login under a new GUID.
func (r *FileLoginRepository) AddLogin(_ context.Context, login models.Login) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, fileRecord{GUID: uuid.NewString(), Login: login.Clone()})
	return r.save()
}

// SearchLogins returns copies of the logins matching md.
func (r *FileLoginRepository) SearchLogins(_ context.Context, md models.MatchData) ([]models.Login, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Login
	for _, rec := range r.records {
		if matcher.Matches(rec.Login, md, false) {
			out = append(out, rec.Login.Clone())
		}
	}
	return out, nil
}

// CountLogins returns the number of logins matching md.
func (r *FileLoginRepository) CountLogins(ctx context.Context, md models.MatchData) (int, error) {
	logins, err := r.SearchLogins(ctx, md)
	return len(logins), err
}

// RemoveLogin deletes every record equal to login.
func (r *FileLoginRepository) RemoveLogin(_ context.Context, login models.Login) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	md := models.MatchAll(login)
	kept := r.records[:0]
	removed := false
	for _, rec := range r.records {
		if matcher.Matches(rec.Login, md, false) {
			removed = true
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	if !removed {
		return nil
	}
	return r.save()
}

// ModifyLogin applies change to every record equal to old.
func (r *FileLoginRepository) ModifyLogin(_ context.Context, old models.Login, change models.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	md := models.MatchAll(old)
	dirty := false
	for i, rec := range r.records {
		if !matcher.Matches(rec.Login, md, false) {
			continue
		}
		base := rec.Login
		if change.Kind == models.FullRecord {
			base = old
		}
		if updated, changed := change.Apply(base); changed {
			r.records[i].Login = updated
			dirty = true
		}
	}
	if !dirty {
		return nil
	}
	return r.save()
}
