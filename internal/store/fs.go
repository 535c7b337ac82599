package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goplus/llpm/internal/descriptor"
	"github.com/goplus/llpm/mod/module"
)

// fsStore keeps descriptors as JSON files next to the package files.
type fsStore struct {
	layout
}

// OpenFS opens the filesystem store rooted at dir.
func OpenFS(dir string) (Store, error) {
	l, err := newLayout(dir)
	if err != nil {
		return nil, err
	}
	return &fsStore{layout: l}, nil
}

func (s *fsStore) descriptorFile(id module.Version) (string, error) {
	dir, err := s.packageDir(id.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, id.Version+".json"), nil
}

func (s *fsStore) Lookup(ctx context.Context, id module.Version) (*descriptor.Descriptor, error) {
	file, err := s.descriptorFile(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var d descriptor.Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	if d.Dir, err = s.filesDir(id); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *fsStore) Versions(ctx context.Context, name string) ([]string, error) {
	dir, err := s.packageDir(name)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var versions []string
	for _, e := range entries {
		if v, ok := strings.CutSuffix(e.Name(), ".json"); ok && e.Type().IsRegular() && !strings.HasPrefix(v, ".") {
			versions = append(versions, v)
		}
	}
	return sortVersions(versions), nil
}

func (s *fsStore) Publish(ctx context.Context, d *descriptor.Descriptor, layoutDir string) (*descriptor.Descriptor, error) {
	id := d.ID()
	file, err := s.descriptorFile(id)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(file); err == nil {
		return nil, fmt.Errorf("%s: %w", id, ErrExists)
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, err
	}
	dir, err := s.place(id, layoutDir)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(file, data); err != nil {
		return nil, err
	}
	published := *d
	published.Dir = dir
	return &published, nil
}

func (s *fsStore) Lock(ctx context.Context, id module.Version) (func(), error) {
	return s.lock(ctx, id)
}

func (s *fsStore) Close() error {
	return nil
}

func writeFileAtomic(file string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(file), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), file)
}
