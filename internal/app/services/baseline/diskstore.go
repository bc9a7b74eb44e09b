package baseline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/acme-industrial/enms-analytics/internal/app/domain"
)

// DiskModelStore serializes ModelBlob as JSON under a root directory
// ($MODEL_DIR), one file per (scope, energy source, version). The database
// row is the index; the file is the payload.
type DiskModelStore struct {
	Root string
}

func NewDiskModelStore(root string) *DiskModelStore {
	return &DiskModelStore{Root: root}
}

func (d *DiskModelStore) Save(scope domain.Scope, energySourceID string, version int, blob ModelBlob) (string, error) {
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(d.Root, fmt.Sprintf("%s-%s-v%d.json", scope.Key(), energySourceID, version))
	data, err := json.Marshal(blob)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (d *DiskModelStore) Load(path string) (ModelBlob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ModelBlob{}, err
	}
	var blob ModelBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return ModelBlob{}, err
	}
	return blob, nil
}
