// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Keep defaults in New and let Load layer file and env on top.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"time"
)

// Person identifies one tracked person against the upstream server.
type Person struct {
	// Server is the base URL of the school's Bakalari server.
	Server string `koanf:"server"`

	// UserID scopes the person on that server.
	UserID string `koanf:"user_id"`

	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// Display metadata, optional.
	Name   string `koanf:"name"`
	School string `koanf:"school"`
}

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Per-domain base polling intervals, in seconds. Every firing gets
	// +-10% jitter on top.
	GradesIntervalSec    int `koanf:"grades_interval"`
	MessagesIntervalSec  int `koanf:"messages_interval"`
	TimetableIntervalSec int `koanf:"timetable_interval"`

	// FetchTimeoutSec bounds one fetch cycle; expiry counts as transient.
	FetchTimeoutSec int `koanf:"fetch_timeout"`

	// FailureBackoffSec and AuthBackoffSec replace the base interval after
	// a transient failure resp. rejected credentials.
	FailureBackoffSec int `koanf:"failure_backoff"`
	AuthBackoffSec    int `koanf:"auth_backoff"`

	// EventWorkers sets the notification dispatch pool size.
	EventWorkers int `koanf:"event_workers"`

	// SlackWebhookURL enables the Slack notification sink when non-empty.
	SlackWebhookURL string `koanf:"slack_webhook_url"`

	// Persons lists the tracked persons.
	Persons []Person `koanf:"persons"`
}

// New returns a Config carrying the defaults: grades poll often, messages
// hourly, timetable rarely.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		Addr:                 ":9080",
		GradesIntervalSec:    900,
		MessagesIntervalSec:  3600,
		TimetableIntervalSec: 21600,
		FetchTimeoutSec:      60,
		FailureBackoffSec:    300,
		AuthBackoffSec:       21600,
		EventWorkers:         4,
	}
}

// GradesInterval returns the grades polling interval as a duration.
func (c *Config) GradesInterval() time.Duration {
	return time.Duration(c.GradesIntervalSec) * time.Second
}

// MessagesInterval returns the messages polling interval as a duration.
func (c *Config) MessagesInterval() time.Duration {
	return time.Duration(c.MessagesIntervalSec) * time.Second
}

// TimetableInterval returns the timetable polling interval as a duration.
func (c *Config) TimetableInterval() time.Duration {
	return time.Duration(c.TimetableIntervalSec) * time.Second
}

// FetchTimeout returns the per-cycle fetch deadline as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// FailureBackoff returns the transient-failure backoff as a duration.
func (c *Config) FailureBackoff() time.Duration {
	return time.Duration(c.FailureBackoffSec) * time.Second
}

// AuthBackoff returns the rejected-credentials backoff as a duration.
func (c *Config) AuthBackoff() time.Duration {
	return time.Duration(c.AuthBackoffSec) * time.Second
}
