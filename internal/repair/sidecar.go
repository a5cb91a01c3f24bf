package repair

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/rotisserie/eris"

	"github.com/cybokron/ratewatch/internal/store"
)

// WriteSidecar mirrors the active repair config to a per-source JSON file
// for out-of-band inspection. The write happens under an exclusive file
// lock so a concurrent reader never sees a partial file.
func WriteSidecar(dir string, rec *store.RepairConfigRecord) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "sidecar: create dir %s", dir)
	}

	path := filepath.Join(dir, rec.Source+".json")
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "sidecar: encode config for %s", rec.Source)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return eris.Wrapf(err, "sidecar: lock %s", path)
	}
	defer lock.Unlock() //nolint:errcheck

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "sidecar: write %s", path)
	}
	return nil
}
