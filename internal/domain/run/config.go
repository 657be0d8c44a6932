package run

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/khanhnv2901/poc-cli/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/poc-cli/internal/shared/errors"
)

// Mode selects which capability of a module is dispatched.
type Mode string

const (
	ModeVerify Mode = "verify"
	ModeAttack Mode = "attack"
)

// ParseMode accepts "verify" or "attack"; empty means verify.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeVerify:
		return ModeVerify, nil
	case ModeAttack:
		return ModeAttack, nil
	}
	return "", fmt.Errorf("%w: %q", sharedErrors.ErrInvalidMode, s)
}

func (m Mode) String() string { return string(m) }

// CancelPolicy decides what happens to in-flight units when a run is cancelled.
type CancelPolicy string

const (
	// CancelWait lets running units finish within their own timeout budget.
	CancelWait CancelPolicy = "wait"
	// CancelAbandon force-terminates running units as soon as the run is cancelled.
	CancelAbandon CancelPolicy = "abandon"
)

// ParseCancelPolicy accepts "wait" or "abandon"; empty means wait.
func ParseCancelPolicy(s string) (CancelPolicy, error) {
	switch CancelPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", CancelWait:
		return CancelWait, nil
	case CancelAbandon:
		return CancelAbandon, nil
	}
	return "", fmt.Errorf("unknown cancel policy %q", s)
}

// Config is the immutable snapshot shared read-only by every execution unit
// of a run. Build it with FromOptions; do not mutate it once dispatch starts.
type Config struct {
	Mode         Mode
	PocPath      string
	Recursive    bool
	URL          string
	URLFile      string
	Cookie       string
	Referer      string
	Agent        string
	RandomAgent  bool
	Proxy        *url.URL
	ProxyUser    string
	ProxyPass    string
	Headers      http.Header
	Timeout      time.Duration
	Threads      int
	RateLimit    int
	Report       string
	CancelPolicy CancelPolicy
}

// FromOptions validates the flat option mapping and builds a Config.
// Failures are returned as *errors.ConfigError.
func FromOptions(opts Options) (*Config, error) {
	mode, err := ParseMode(opts.Mode)
	if err != nil {
		return nil, sharedErrors.NewConfigError("mode", err)
	}

	if strings.TrimSpace(opts.PocFile) == "" {
		return nil, sharedErrors.NewConfigError("pocFile", sharedErrors.ErrMissingRequired)
	}

	policy, err := ParseCancelPolicy(opts.CancelPolicy)
	if err != nil {
		return nil, sharedErrors.NewConfigError("cancelPolicy", err)
	}

	cfg := &Config{
		Mode:         mode,
		PocPath:      strings.TrimSpace(opts.PocFile),
		Recursive:    opts.Recursive,
		URL:          strings.TrimSpace(opts.URL),
		URLFile:      strings.TrimSpace(opts.URLFile),
		Cookie:       opts.Cookie,
		Referer:      opts.Referer,
		Agent:        opts.Agent,
		RandomAgent:  opts.RandomAgent,
		Threads:      opts.Threads,
		RateLimit:    opts.Rate,
		Report:       strings.TrimSpace(opts.Report),
		CancelPolicy: policy,
	}

	if cfg.Threads <= 0 {
		cfg.Threads = constants.DefaultThreads
	}
	if cfg.RateLimit < 0 {
		cfg.RateLimit = 0
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultTimeoutSeconds
	}
	cfg.Timeout = time.Duration(timeout) * time.Second

	if opts.Proxy != "" {
		proxy, err := parseProxy(opts.Proxy)
		if err != nil {
			return nil, sharedErrors.NewConfigError("proxy", err)
		}
		cfg.Proxy = proxy
	}

	if opts.ProxyCred != "" {
		user, pass, ok := strings.Cut(opts.ProxyCred, ":")
		if !ok || user == "" {
			return nil, sharedErrors.NewConfigError("proxyCred", fmt.Errorf("expected name:password"))
		}
		cfg.ProxyUser, cfg.ProxyPass = user, pass
	}

	headers, err := ParseHeaders(opts.Headers)
	if err != nil {
		return nil, sharedErrors.NewConfigError("headers", err)
	}
	cfg.Headers = headers

	return cfg, nil
}

// Attack reports whether the run dispatches attack capabilities.
func (c *Config) Attack() bool { return c.Mode == ModeAttack }

// RequestHeaders returns a fresh copy of the operator headers plus cookie,
// referer and agent, suitable for mutation by a single request.
func (c *Config) RequestHeaders(agent string) http.Header {
	h := c.Headers.Clone()
	if h == nil {
		h = http.Header{}
	}
	if c.Cookie != "" {
		h.Set("Cookie", c.Cookie)
	}
	if c.Referer != "" {
		h.Set("Referer", c.Referer)
	}
	if agent != "" {
		h.Set("User-Agent", agent)
	}
	return h
}

func parseProxy(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy host is empty")
	}
	return u, nil
}

// ParseHeaders parses raw header text. Entries are separated by newlines
// (or the literal "\n" an operator types on a shell) and have the form
// "Name: value".
func ParseHeaders(raw string) (http.Header, error) {
	h := http.Header{}
	raw = strings.ReplaceAll(raw, `\n`, "\n")
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("malformed header %q", line)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}
