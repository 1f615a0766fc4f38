package jetstream

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/trickstertwo/jetbus"
)

// DefaultPort is the broker's well-known client port.
const DefaultPort = 4222

// Option keys recognized in the descriptor query string and in override maps.
const (
	optDelay           = "delay"               // float seconds between polls
	optConsumer        = "consumer"            // durable consumer name
	optBatching        = "batching"            // batch size per fetch
	optMaxBatchTimeout = "max_batch_timeout"   // float seconds; also the dial timeout
	optMaxAge          = "stream_max_age"      // int seconds, 0 = unlimited
	optMaxBytes        = "stream_max_bytes"    // int bytes, <= 0 = unlimited
	optMaxMessages     = "stream_max_messages" // int, <= 0 = unlimited
	optReplicas        = "stream_replicas"     // int
)

// Config is the immutable result of resolving a connection descriptor
// against explicit overrides. Build one with ParseURL; it is never
// re-merged after construction.
type Config struct {
	// Connection
	Host     string
	Port     int
	User     string
	Password string

	// Stream binding
	Stream  string
	Subject string

	// Consumer options
	PollDelay    time.Duration
	Consumer     string
	Batch        int
	MaxBatchWait time.Duration

	// Stream retention; zero values mean unlimited.
	MaxAge   time.Duration
	MaxBytes int64
	MaxMsgs  int64
	Replicas int
}

// URL reassembles the broker connection URL (without stream/subject path).
func (c Config) URL() string {
	host := fmt.Sprintf("%s:%d", c.Host, c.Port)
	if c.User != "" {
		return fmt.Sprintf("nats://%s:%s@%s", c.User, c.Password, host)
	}
	return "nats://" + host
}

// Validate checks Config for operational readiness.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("config: host required")
	}
	if c.Stream == "" {
		return fmt.Errorf("config: stream required")
	}
	if c.Subject == "" {
		return fmt.Errorf("config: subject required")
	}
	if c.Consumer == "" {
		return fmt.Errorf("config: consumer required")
	}
	if c.Batch < 1 {
		return fmt.Errorf("config: batching must be >= 1, got %d", c.Batch)
	}
	if c.MaxBatchWait <= 0 {
		return fmt.Errorf("config: max_batch_timeout must be > 0, got %v", c.MaxBatchWait)
	}
	if c.Replicas < 1 {
		return fmt.Errorf("config: stream_replicas must be >= 1, got %d", c.Replicas)
	}
	return nil
}

// ParseURL resolves a connection descriptor of the form
//
//	nats://[user:pass@]host[:port]/stream/subject[?opt=val&...]
//
// into a Config. Option precedence per key is overrides > query >
// defaults, resolved here exactly once.
func ParseURL(descriptor string, overrides map[string]any) (Config, error) {
	u, err := url.Parse(descriptor)
	if err != nil {
		return Config{}, &jetbus.ConfigError{Reason: jetbus.ConfigMalformed, Descriptor: descriptor, Err: err}
	}
	if u.Scheme == "" {
		return Config{}, &jetbus.ConfigError{Reason: jetbus.ConfigMalformed, Descriptor: descriptor}
	}
	if u.Hostname() == "" {
		return Config{}, &jetbus.ConfigError{Reason: jetbus.ConfigMissingHost, Descriptor: descriptor}
	}

	port := DefaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return Config{}, &jetbus.ConfigError{Reason: jetbus.ConfigMalformed, Descriptor: descriptor, Err: err}
		}
	}

	segs := pathSegments(u.Path)
	if len(segs) == 0 {
		return Config{}, &jetbus.ConfigError{Reason: jetbus.ConfigMissingStream, Descriptor: descriptor}
	}
	if len(segs) < 2 {
		return Config{}, &jetbus.ConfigError{Reason: jetbus.ConfigMissingSubject, Descriptor: descriptor}
	}

	opts := mergeOptions(u.Query(), overrides)

	var user, pass string
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}

	cfg := Config{
		Host:     u.Hostname(),
		Port:     port,
		User:     user,
		Password: pass,
		Stream:   segs[0],
		Subject:  segs[1],

		PollDelay:    getSeconds(opts, optDelay),
		Consumer:     getString(opts, optConsumer),
		Batch:        getInt(opts, optBatching),
		MaxBatchWait: getSeconds(opts, optMaxBatchTimeout),

		MaxAge:   getSeconds(opts, optMaxAge),
		MaxBytes: getInt64(opts, optMaxBytes),
		MaxMsgs:  getInt64(opts, optMaxMessages),
		Replicas: getInt(opts, optReplicas),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, &jetbus.ConfigError{Reason: jetbus.ConfigMalformed, Descriptor: descriptor, Err: err}
	}
	return cfg, nil
}

func pathSegments(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// defaultOptions is the built-in tier of the merge.
func defaultOptions() map[string]any {
	return map[string]any{
		optDelay:           0.0,
		optConsumer:        "client",
		optBatching:        1,
		optMaxBatchTimeout: 1.0,
		optMaxAge:          0,
		optMaxBytes:        0,
		optMaxMessages:     0,
		optReplicas:        1,
	}
}

// mergeOptions resolves the three option tiers into one map. Later
// sources win per key; the result is consumed by typed getters and then
// discarded, so precedence can never be re-applied differently later.
func mergeOptions(query url.Values, overrides map[string]any) map[string]any {
	merged := defaultOptions()
	for k := range query {
		merged[k] = query.Get(k)
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// Typed getters over the merged option map. Query parameters arrive as
// strings; overrides may already be typed.

func getString(m map[string]any, k string) string {
	switch v := m[k].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func getInt(m map[string]any, k string) int {
	switch v := m[k].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return 0
}

func getInt64(m map[string]any, k string) int64 {
	switch v := m[k].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return 0
}

// getSeconds reads a seconds-denominated option (int, float or string)
// as a duration.
func getSeconds(m map[string]any, k string) time.Duration {
	switch v := m[k].(type) {
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return 0
}
