package persistence

import (
	"fmt"

	"github.com/BaSui01/tutorflow/internal/cache"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Backends carries the shared connections a store may be built on.
type Backends struct {
	Cache *cache.Manager
	DB    *gorm.DB
}

// NewStore creates a Store based on the configuration
func NewStore(config StoreConfig, backends Backends, logger *zap.Logger) (Store, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		if backends.Cache == nil {
			return nil, fmt.Errorf("store type %q requires redis to be configured", config.Type)
		}
		return NewRedisStore(backends.Cache, config.TTL, logger)
	case StoreTypeSQL:
		if backends.DB == nil {
			return nil, fmt.Errorf("store type %q requires a database to be configured", config.Type)
		}
		return NewSQLStore(backends.DB, config.AutoMigrate, logger)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}
