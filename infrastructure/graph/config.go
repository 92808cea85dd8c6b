package graph

import "time"

const (
	DefaultBaseURL      = "https://graph.microsoft.com/v1.0"
	DefaultAuthorityURL = "https://login.microsoftonline.com"
	DefaultScope        = "https://graph.microsoft.com/.default"
)

// Config holds the Graph connection settings shared by every tenant.
type Config struct {
	BaseURL      string
	AuthorityURL string
	ClientID     string
	ClientSecret string

	// NotificationURL receives change and lifecycle notifications for new subscriptions.
	NotificationURL string

	MaxRetries     int
	RetryDelay     time.Duration
	MaxRetryDelay  time.Duration
	RequestTimeout time.Duration

	PageSize           int
	PermissionPageSize int
}

// DefaultConfig returns the production endpoints with conservative retry settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:            DefaultBaseURL,
		AuthorityURL:       DefaultAuthorityURL,
		MaxRetries:         5,
		RetryDelay:         500 * time.Millisecond,
		MaxRetryDelay:      60 * time.Second,
		RequestTimeout:     60 * time.Second,
		PageSize:           200,
		PermissionPageSize: 100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.AuthorityURL == "" {
		c.AuthorityURL = d.AuthorityURL
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = d.MaxRetryDelay
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.PermissionPageSize <= 0 {
		c.PermissionPageSize = d.PermissionPageSize
	}
	return c
}
