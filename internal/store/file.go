package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"credential-service/internal/auth"
)

// Pair is one entry of the persisted collection, encoded as [email, record].
type Pair struct {
	Email string
	User  auth.UserRecord
}

func (p Pair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Email, p.User})
}

func (p *Pair) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("user entry must have 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.Email); err != nil {
		return fmt.Errorf("decode user key: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.User); err != nil {
		return fmt.Errorf("decode user record: %w", err)
	}
	return nil
}

// FilePersister keeps the collection in a single JSON file.
type FilePersister struct {
	path string
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Load returns no pairs and no error when the file does not exist yet.
func (p *FilePersister) Load() ([]Pair, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read users file: %w", err)
	}

	var pairs []Pair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("decode users file: %w", err)
	}

	return pairs, nil
}

// Save writes to a temp file in the same directory and renames it into place, so a
// crash leaves either the old or the new file.
func (p *FilePersister) Save(pairs []Pair) error {
	if pairs == nil {
		pairs = []Pair{}
	}

	data, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("encode users: %w", err)
	}

	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp users file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write users file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync users file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close users file: %w", err)
	}

	if err := os.Rename(tmpName, p.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace users file: %w", err)
	}

	return nil
}
