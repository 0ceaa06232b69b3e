package staging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// Store is the shared staging directory: the single source of truth for a
// file's lifecycle from upload to deletion. The directory is flat: files
// for every job live side by side under their original names, and both the
// gateway and the worker's remote calls operate on the same paths.
type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	// The worker runs as a different user over a shared volume.
	if err := os.Chmod(dir, 0o777); err != nil {
		return nil, fmt.Errorf("chmod staging dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

// Path maps a bare filename onto the staging directory. Callers pass
// filenames, never paths; filepath.Base strips any traversal attempt.
func (s *Store) Path(filename string) string {
	return filepath.Join(s.dir, filepath.Base(filename))
}

// Save writes an uploaded stream under its original name, overwriting any
// previous file with that name (last writer wins).
func (s *Store) Save(filename string, r io.Reader) (string, error) {
	path := s.Path(filename)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create staged file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		// A half-written spreadsheet must not sit in the shared directory
		// waiting out the janitor's retention floor.
		f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write staged file: %w", err)
	}
	return path, nil
}

func (s *Store) Exists(filename string) bool {
	info, err := os.Stat(s.Path(filename))
	return err == nil && !info.IsDir()
}

func (s *Store) Open(filename string) (*os.File, error) {
	return os.Open(s.Path(filename))
}

// Remove deletes a staged file. Removing a file that is already gone is a
// logged no-op, never an error.
func (s *Store) Remove(filename string) {
	path := s.Path(filename)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			log.Printf("[staging] tried to delete non-existent file: %s", path)
			return
		}
		log.Printf("[staging] delete %s failed: %v", path, err)
	}
}

// List returns the bare filenames currently staged.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read staging dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
