package index

import (
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-index/types"
	"github.com/aquasecurity/vuln-index/utils"
)

// Save writes the published snapshot to path as JSON.
func (idx *Index) Save(fs afero.Fs, path string) error {
	s := idx.load()
	records := make(map[string]Record, len(s))
	for name, r := range s {
		records[name] = r.view()
	}
	if err := utils.NewFs(fs).WriteJSON(path, records); err != nil {
		return xerrors.Errorf("failed to save index snapshot: %w", err)
	}
	return nil
}

// Load publishes the snapshot stored at path. It reports false, and leaves the
// index untouched, when there is no snapshot.
func (idx *Index) Load(fs afero.Fs, path string) (bool, error) {
	var records map[string]Record
	found, err := utils.NewFs(fs).ReadJSON(path, &records)
	if err != nil {
		return false, xerrors.Errorf("failed to load index snapshot: %w", err)
	} else if !found {
		return false, nil
	}

	b := newBuilder(nil)
	for name, r := range records {
		for version, ids := range r.Versions {
			for _, id := range ids {
				b.Ingest(types.Fact{AdvisoryID: id, Vendor: r.Vendor, Package: name, Version: version})
			}
		}
	}
	idx.Publish(b)
	return true, nil
}
