package freshness

import (
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-index/utils"
)

// FileStore keeps key/value pairs in one JSON object on disk.
type FileStore struct {
	mu   sync.Mutex
	fs   utils.Fs
	path string
}

func NewFileStore(fs afero.Fs, path string) *FileStore {
	return &FileStore{
		fs:   utils.NewFs(fs),
		path: path,
	}
}

func (s *FileStore) read() (map[string]string, error) {
	values := map[string]string{}
	if _, err := s.fs.ReadJSON(s.path, &values); err != nil {
		return nil, xerrors.Errorf("failed to read %s: %w", s.path, err)
	}
	return values, nil
}

func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}
	values[key] = value

	if err = s.fs.WriteJSON(s.path, values); err != nil {
		return xerrors.Errorf("failed to write %s: %w", s.path, err)
	}
	return nil
}
