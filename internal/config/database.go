package config

import "fmt"

// DatabaseConfig selects and configures the State Store substrate:
// "memory" (default, single-process only), "postgres", or "sqlite".
type DatabaseConfig struct {
	Driver string `env:"JOBQUEUE_DB_DRIVER"` // memory | postgres | sqlite

	// DSN is the PostgreSQL connection string, required when Driver is
	// "postgres".
	DSN string `env:"JOBQUEUE_DB_DSN"`

	// Path is the sqlite database file path, required when Driver is
	// "sqlite".
	Path string `env:"JOBQUEUE_SQLITE_PATH"`

	MaxOpenConns    int `env:"JOBQUEUE_DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int `env:"JOBQUEUE_DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime int `env:"JOBQUEUE_DB_CONN_MAX_LIFETIME_SEC"`
	ConnMaxIdleTime int `env:"JOBQUEUE_DB_CONN_MAX_IDLE_TIME_SEC"`
}

// Validate enforces that the selected driver carries its required
// connection detail.
func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "", "memory":
		return nil
	case "postgres":
		if c.DSN == "" {
			return fmt.Errorf("JOBQUEUE_DB_DSN is required when JOBQUEUE_DB_DRIVER=postgres")
		}
		return nil
	case "sqlite":
		if c.Path == "" {
			return fmt.Errorf("JOBQUEUE_SQLITE_PATH is required when JOBQUEUE_DB_DRIVER=sqlite")
		}
		return nil
	default:
		return fmt.Errorf("unknown JOBQUEUE_DB_DRIVER: %s", c.Driver)
	}
}
