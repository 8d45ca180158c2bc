package sdk

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config configures a Client. Start from DefaultConfig and override fields.
type Config struct {
	BaseURI   string // snapshot endpoint host, e.g. "http://localhost:8080"
	StreamURI string // SSE endpoint host; BaseURI when empty
	EventsURI string // analytics endpoint host; BaseURI when empty

	Stream                bool          // stream updates over SSE instead of polling
	PollInterval          time.Duration // polling period when Stream is false
	InitialReconnectDelay time.Duration // first stream reconnect delay, grows exponentially

	Offline  bool   // no network at all; every evaluation returns its default
	FlagFile string // load flags from a YAML/JSON file instead of the network

	SendEvents    bool
	FlushInterval time.Duration
	EventCapacity int

	HTTPTimeout time.Duration
	Logger      zerolog.Logger

	// DataSource overrides the data source chosen from the fields above.
	DataSource DataSourceFactory
}

// DefaultConfig returns streaming, event-sending defaults pointed at a local flag service.
func DefaultConfig() Config {
	return Config{
		BaseURI:               "http://localhost:8080",
		Stream:                true,
		PollInterval:          30 * time.Second,
		InitialReconnectDelay: time.Second,
		SendEvents:            true,
		FlushInterval:         5 * time.Second,
		EventCapacity:         1000,
		HTTPTimeout:           10 * time.Second,
		Logger:                zerolog.Nop(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	c.BaseURI = strings.TrimRight(c.BaseURI, "/")
	if c.BaseURI == "" {
		c.BaseURI = d.BaseURI
	}
	c.StreamURI = strings.TrimRight(c.StreamURI, "/")
	if c.StreamURI == "" {
		c.StreamURI = c.BaseURI
	}
	c.EventsURI = strings.TrimRight(c.EventsURI, "/")
	if c.EventsURI == "" {
		c.EventsURI = c.BaseURI
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.InitialReconnectDelay <= 0 {
		c.InitialReconnectDelay = d.InitialReconnectDelay
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.EventCapacity <= 0 {
		c.EventCapacity = d.EventCapacity
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = d.HTTPTimeout
	}
	return c
}

// newTransport returns a transport with its own connection pool, so a restarted
// client never reuses sockets opened by the previous one.
func newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = 4
	return t
}
