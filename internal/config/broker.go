package config

import "fmt"

// BrokerConfig selects and configures the Dispatch Layer substrate:
// "polling" (default, wraps the state store) or "redis".
type BrokerConfig struct {
	Driver    string `env:"JOBQUEUE_BROKER_DRIVER"` // polling | redis
	RedisAddr string `env:"JOBQUEUE_REDIS_ADDR"`
}

// Validate enforces that the redis driver carries an address.
func (c *BrokerConfig) Validate() error {
	switch c.Driver {
	case "", "polling":
		return nil
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("JOBQUEUE_REDIS_ADDR is required when JOBQUEUE_BROKER_DRIVER=redis")
		}
		return nil
	default:
		return fmt.Errorf("unknown JOBQUEUE_BROKER_DRIVER: %s", c.Driver)
	}
}
