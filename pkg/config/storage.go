package config

import "fmt"

// StorageDriver identifies a session storage backend.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverSQLite   StorageDriver = "sqlite"
	StorageDriverPostgres StorageDriver = "postgres"
	StorageDriverMySQL    StorageDriver = "mysql"
	StorageDriverJSON     StorageDriver = "json"
)

// StorageConfig configures session persistence.
type StorageConfig struct {
	Driver StorageDriver `yaml:"driver" json:"driver" jsonschema:"enum=memory,enum=sqlite,enum=postgres,enum=mysql,enum=json"`

	// Path is the database file (sqlite) or directory (json).
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// DSN is the connection string for postgres and mysql.
	// Supports ${VAR} expansion.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`

	// Table holds sessions. Defaults to "sessions".
	Table string `yaml:"table,omitempty" json:"table,omitempty" jsonschema:"default=sessions"`

	// MaxOpenConns caps the SQL connection pool.
	MaxOpenConns int `yaml:"max_open_conns,omitempty" json:"max_open_conns,omitempty"`
}

func (c *StorageConfig) SetDefaults() {
	if c.Table == "" {
		c.Table = "sessions"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
	if c.Driver == StorageDriverSQLite && c.Path == "" {
		c.Path = "petrel.db"
	}
	if c.Driver == StorageDriverJSON && c.Path == "" {
		c.Path = "sessions"
	}
}

func (c *StorageConfig) Validate() error {
	switch c.Driver {
	case StorageDriverMemory:
	case StorageDriverSQLite, StorageDriverJSON:
		if c.Path == "" {
			return fmt.Errorf("%s driver requires path", c.Driver)
		}
	case StorageDriverPostgres, StorageDriverMySQL:
		if c.DSN == "" {
			return fmt.Errorf("%s driver requires dsn", c.Driver)
		}
	case "":
		return fmt.Errorf("driver is required")
	default:
		return fmt.Errorf("unknown storage driver %q", c.Driver)
	}

	return nil
}
