package proofstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps artifacts on the local filesystem, one data file plus a
// small sidecar with the mime type. Keys are flattened so a crafted key
// cannot escape the base directory.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{dir: dir}, nil
}

type localMeta struct {
	MimeType string `json:"mime_type"`
}

func (s *LocalStore) path(key string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(s.dir, safe)
}

func (s *LocalStore) Put(ctx context.Context, key, mimeType string, data []byte) error {
	base := s.path(key)
	meta, err := json.Marshal(localMeta{MimeType: mimeType})
	if err != nil {
		return err
	}
	if err := os.WriteFile(base+".meta", meta, 0o644); err != nil {
		return err
	}
	return os.WriteFile(base, data, 0o644)
}

func (s *LocalStore) Get(ctx context.Context, key string) (*Artifact, error) {
	base := s.path(key)
	data, err := os.ReadFile(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var meta localMeta
	if raw, err := os.ReadFile(base + ".meta"); err == nil {
		_ = json.Unmarshal(raw, &meta)
	}
	return &Artifact{Key: key, MimeType: meta.MimeType, Data: data}, nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	base := s.path(key)
	if err := os.Remove(base); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(base + ".meta"); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
