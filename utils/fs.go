package utils

import (
	"encoding/json"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/spf13/afero"
)

type Fs struct {
	AppFs afero.Fs
}

func NewFs(appFs afero.Fs) Fs {
	return Fs{AppFs: appFs}
}

func (fs Fs) WriteJSON(filePath string, data interface{}) error {
	if err := fs.AppFs.MkdirAll(filepath.Dir(filePath), os.ModePerm); err != nil {
		return xerrors.Errorf("unable to create a directory: %w", err)
	}

	f, err := fs.AppFs.Create(filePath)
	if err != nil {
		return xerrors.Errorf("unable to open a file: %w", err)
	}
	defer f.Close()

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return xerrors.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err = f.Write(b); err != nil {
		return xerrors.Errorf("failed to save a file: %w", err)
	}
	return nil
}

// ReadJSON decodes filePath into v. The returned bool is false when the file does not exist.
func (fs Fs) ReadJSON(filePath string, v interface{}) (bool, error) {
	f, err := fs.AppFs.Open(filePath)
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, xerrors.Errorf("unable to open a file: %w", err)
	}
	defer f.Close()

	if err = json.NewDecoder(f).Decode(v); err != nil {
		return false, xerrors.Errorf("failed to decode JSON: %w", err)
	}
	return true, nil
}
