// factory.go implements the resource store registry and factory, mapping
// backend type strings (local, s3, azure, gcs) to constructor functions and
// dispatching NewStore calls.
package storage

import (
	"fmt"

	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/config"
)

// FactoryFunc creates a resource store backend from configuration
type FactoryFunc func(*config.Config) (Store, error)

var factories = make(map[string]FactoryFunc)

// Register registers a resource store backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// NewStore creates a resource store backend based on configuration
func NewStore(cfg *config.Config) (Store, error) {
	factory, ok := factories[cfg.Storage.DefaultBackend]
	if !ok {
		return nil, fmt.Errorf("unsupported storage backend: %s (must be 'local', 'azure', 's3', or 'gcs')", cfg.Storage.DefaultBackend)
	}

	return factory(cfg)
}
