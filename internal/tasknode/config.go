package tasknode

import (
	"fmt"
	"time"
)

// Config defines the task-queue node configuration.
type Config struct {
	// Name identifies the node; empty picks a generated name.
	Name string `yaml:"name" toml:"name"`
	// Workers is both the batch size and the number of tasks run concurrently.
	Workers int `yaml:"workers" toml:"workers"`
	// Backoff is the pause after finding no work.
	Backoff time.Duration `yaml:"backoff" toml:"backoff"`
	// TaskTimeout bounds a single executor call. Zero means no deadline.
	TaskTimeout time.Duration `yaml:"task_timeout" toml:"task_timeout"`
}

// DefaultConfig returns the default task-queue configuration.
func DefaultConfig() Config {
	return Config{
		Workers: 5,
		Backoff: 10 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.Backoff < 0 {
		return fmt.Errorf("backoff cannot be negative")
	}
	if c.TaskTimeout < 0 {
		return fmt.Errorf("task_timeout cannot be negative")
	}
	return nil
}
