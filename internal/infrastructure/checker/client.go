package checker

import (
	"crypto/tls"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/khanhnv2901/poc-cli/internal/domain/run"
	"github.com/khanhnv2901/poc-cli/internal/shared/constants"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36 Edg/119.0.0.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
	"curl/8.4.0",
}

// UserAgent picks the agent for one request: a random one when the run asks
// for it, otherwise the configured agent or the default.
func UserAgent(cfg *run.Config) string {
	if cfg.RandomAgent {
		return userAgents[rand.Intn(len(userAgents))]
	}
	if cfg.Agent != "" {
		return cfg.Agent
	}
	return constants.DefaultUserAgent
}

// UserAgents returns the random agent pool.
func UserAgents() []string {
	return append([]string(nil), userAgents...)
}

// NewHTTPClient builds a client honoring the run's proxy, proxy credentials
// and timeout. Redirects are not followed so matchers see the raw response.
func NewHTTPClient(cfg *run.Config) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultTimeoutSeconds) * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		// #nosec G402 -- targets under test routinely present self-signed or expired certificates.
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout: timeout,
		MaxIdleConnsPerHost: max(cfg.Threads, 2),
		IdleConnTimeout:     90 * time.Second,
	}
	if proxy := ProxyURL(cfg); proxy != nil {
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// ProxyURL returns the configured proxy with credentials applied, or nil.
func ProxyURL(cfg *run.Config) *url.URL {
	if cfg.Proxy == nil {
		return nil
	}
	p := *cfg.Proxy
	if cfg.ProxyUser != "" {
		p.User = url.UserPassword(cfg.ProxyUser, cfg.ProxyPass)
	}
	return &p
}
