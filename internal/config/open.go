package config

import "fmt"

// Storage backends selectable in the daemon configuration.
const (
	StorageJSON   = "json"
	StorageSQLite = "sqlite"
)

// OpenStore opens the settings store of the given kind in dataDir.
func OpenStore(kind, dataDir string) (Store, error) {
	switch kind {
	case "", StorageJSON:
		return NewJSONStore(dataDir)
	case StorageSQLite:
		return NewSQLiteStore(dataDir)
	default:
		return nil, fmt.Errorf("config: unknown storage %q (want %q or %q)", kind, StorageJSON, StorageSQLite)
	}
}
