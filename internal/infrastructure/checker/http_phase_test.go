package checker

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/khanhnv2901/poc-cli/internal/domain/poc"
	"github.com/khanhnv2901/poc-cli/internal/domain/run"
	"github.com/khanhnv2901/poc-cli/internal/domain/target"
	sharedErrors "github.com/khanhnv2901/poc-cli/internal/shared/errors"
)

func testConfig() *run.Config {
	return &run.Config{Mode: run.ModeVerify, Timeout: 2 * time.Second, Threads: 1}
}

func TestHTTPPhaseMatchesVulnerableResponse(t *testing.T) {
	var gotAgent, gotCookie, gotCustom, gotID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		gotCookie = r.Header.Get("Cookie")
		gotCustom = r.Header.Get("X-Test")
		gotID = r.URL.Query().Get("id")
		w.Header().Set("Server", "nginx/1.18")
		_, _ = io.WriteString(w, "You have an error in your SQL syntax near '1''")
	}))
	defer server.Close()

	phase, err := NewHTTPPhase(HTTPSpec{
		Path:     "/index.php?id=1'",
		Headers:  map[string]string{"X-Test": "{{hostname}}"},
		Match:    `status == 200 && body contains "SQL syntax"`,
		Evidence: `header("Server")`,
	})
	if err != nil {
		t.Fatalf("NewHTTPPhase() error = %v", err)
	}

	cfg := testConfig()
	cfg.Agent = "poc-test-agent"
	cfg.Cookie = "session=abc"

	verdict, err := phase.Run(context.Background(), target.MustParse(server.URL), cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !verdict.Vulnerable {
		t.Fatal("expected vulnerable verdict")
	}
	if verdict.Evidence != "nginx/1.18" {
		t.Fatalf("unexpected evidence %v", verdict.Evidence)
	}
	if gotAgent != "poc-test-agent" || gotCookie != "session=abc" {
		t.Fatalf("operator headers not sent: agent=%q cookie=%q", gotAgent, gotCookie)
	}
	if gotCustom != "127.0.0.1" {
		t.Fatalf("placeholder not expanded in header: %q", gotCustom)
	}
	if gotID != "1'" {
		t.Fatalf("unexpected id parameter %q", gotID)
	}
}

func TestHTTPPhaseCleanResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer server.Close()

	phase, err := NewHTTPPhase(HTTPSpec{Path: "/", Match: `body contains "SQL syntax"`})
	if err != nil {
		t.Fatalf("NewHTTPPhase() error = %v", err)
	}
	verdict, err := phase.Run(context.Background(), target.MustParse(server.URL), testConfig())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if verdict.Vulnerable || verdict.Evidence != nil {
		t.Fatalf("expected clean verdict, got %+v", verdict)
	}
}

func TestHTTPPhaseDefaultEvidenceAndBody(t *testing.T) {
	var gotBody, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody, gotMethod = string(data), r.Method
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	phase, err := NewHTTPPhase(HTTPSpec{Method: "post", Path: "api", Body: "host={{host}}", Match: "status == 201"})
	if err != nil {
		t.Fatalf("NewHTTPPhase() error = %v", err)
	}
	tg := target.MustParse(server.URL + "/app")
	verdict, err := phase.Run(context.Background(), tg, testConfig())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if gotMethod != http.MethodPost || gotBody != "host="+tg.Host() {
		t.Fatalf("unexpected request %s %q", gotMethod, gotBody)
	}
	ev, ok := verdict.Evidence.(map[string]any)
	if !ok || ev["url"] != server.URL+"/app/api" || ev["status"] != http.StatusCreated {
		t.Fatalf("unexpected default evidence %#v", verdict.Evidence)
	}
}

func TestHTTPPhaseDoesNotFollowRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			http.Redirect(w, r, "/home", http.StatusFound)
			return
		}
		_, _ = io.WriteString(w, "home")
	}))
	defer server.Close()

	phase, err := NewHTTPPhase(HTTPSpec{Path: "/login", Match: `status == 302 && headers["location"] == "/home"`})
	if err != nil {
		t.Fatalf("NewHTTPPhase() error = %v", err)
	}
	verdict, err := phase.Run(context.Background(), target.MustParse(server.URL), testConfig())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !verdict.Vulnerable {
		t.Fatal("expected matcher to see the redirect response")
	}
}

func TestNewHTTPPhaseRejectsBadExpressions(t *testing.T) {
	tests := []HTTPSpec{
		{Path: "/"},
		{Path: "/", Match: "status =="},
		{Path: "/", Match: `"not a bool"`},
		{Path: "/", Match: "status == 200", Evidence: "unknown_fn()"},
	}
	for _, spec := range tests {
		if _, err := NewHTTPPhase(spec); err == nil {
			t.Errorf("NewHTTPPhase(%+v) expected error", spec)
		}
	}
}

func TestHTTPPhaseUsesProxyWithCredentials(t *testing.T) {
	var gotHost, gotAuth string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.URL.Host
		gotAuth = r.Header.Get("Proxy-Authorization")
		_, _ = io.WriteString(w, "proxied")
	}))
	defer proxy.Close()

	proxyURL, err := url.Parse(proxy.URL)
	if err != nil {
		t.Fatalf("parse proxy url: %v", err)
	}
	cfg := testConfig()
	cfg.Proxy = proxyURL
	cfg.ProxyUser, cfg.ProxyPass = "alice", "s3cret"

	phase, err := NewHTTPPhase(HTTPSpec{Path: "/", Match: `body == "proxied"`})
	if err != nil {
		t.Fatalf("NewHTTPPhase() error = %v", err)
	}
	verdict, err := phase.Run(context.Background(), target.MustParse("http://target.invalid"), cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !verdict.Vulnerable {
		t.Fatal("expected request to be served by the proxy")
	}
	if gotHost != "target.invalid" {
		t.Fatalf("proxy saw host %q", gotHost)
	}
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("alice:s3cret"))
	if gotAuth != want {
		t.Fatalf("Proxy-Authorization = %q, want %q", gotAuth, want)
	}
}

func TestHTTPPhaseHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	phase, err := NewHTTPPhase(HTTPSpec{Path: "/", Match: "status == 200"})
	if err != nil {
		t.Fatalf("NewHTTPPhase() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := phase.Run(ctx, target.MustParse(server.URL), testConfig()); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestUserAgentSelection(t *testing.T) {
	cfg := testConfig()
	if got := UserAgent(cfg); got == "" {
		t.Fatal("expected default agent")
	}
	cfg.Agent = "custom"
	if got := UserAgent(cfg); got != "custom" {
		t.Fatalf("UserAgent() = %q, want custom", got)
	}
	cfg.RandomAgent = true
	pool := UserAgents()
	for i := 0; i < 20; i++ {
		if got := UserAgent(cfg); !slices.Contains(pool, got) {
			t.Fatalf("random agent %q not from pool", got)
		}
	}
}

func TestTemplateCapabilities(t *testing.T) {
	verifyOnly := &Template{VerifyPhase: phaseFunc(func() (poc.Verdict, error) { return poc.Verdict{}, nil })}
	if verifyOnly.Capabilities() != poc.CapVerify {
		t.Fatalf("unexpected capabilities %s", verifyOnly.Capabilities())
	}
	if _, err := verifyOnly.Attack(context.Background(), target.MustParse("http://a.test"), testConfig()); err != sharedErrors.ErrModeUnsupported {
		t.Fatalf("expected ErrModeUnsupported, got %v", err)
	}

	both := &Template{VerifyPhase: verifyOnly.VerifyPhase, AttackPhase: verifyOnly.VerifyPhase}
	if both.Capabilities() != poc.CapVerify|poc.CapAttack {
		t.Fatalf("unexpected capabilities %s", both.Capabilities())
	}
}

type phaseFunc func() (poc.Verdict, error)

func (f phaseFunc) Run(context.Context, target.Target, *run.Config) (poc.Verdict, error) { return f() }

func TestCapEvidence(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'a'
	}
	if got := capEvidence(string(long)).(string); len(got) != 2048 {
		t.Fatalf("expected capped string, got %d bytes", len(got))
	}
	if got := capEvidence(long).(string); len(got) != 2048 {
		t.Fatalf("expected capped bytes, got %d bytes", len(got))
	}
	if got := capEvidence(42); got != 42 {
		t.Fatalf("non-string evidence must pass through, got %v", got)
	}
}

func TestCapEvidenceKeepsRunesWhole(t *testing.T) {
	// 3-byte runes put the limit in the middle of a sequence.
	long := strings.Repeat("€", 1000)

	got := capEvidence(long).(string)
	if !utf8.ValidString(got) {
		t.Fatalf("capped evidence is not valid UTF-8")
	}
	if len(got) > 2048 || len(got) < 2046 {
		t.Fatalf("expected evidence cut at the last whole rune, got %d bytes", len(got))
	}

	gotBytes := capEvidence([]byte(long)).(string)
	if gotBytes != got {
		t.Fatalf("byte evidence must be capped like string evidence")
	}
}
