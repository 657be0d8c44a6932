package checker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/khanhnv2901/poc-cli/internal/domain/poc"
	"github.com/khanhnv2901/poc-cli/internal/domain/run"
	"github.com/khanhnv2901/poc-cli/internal/domain/target"
	"github.com/khanhnv2901/poc-cli/internal/shared/constants"
)

// HTTPSpec is the declarative form of an HTTP phase.
//
// Path, Headers and Body may use the placeholders {{target}}, {{base}},
// {{host}} and {{hostname}}. Match is a boolean expression evaluated
// against the response; Evidence is an optional expression whose value is
// kept when Match is true.
type HTTPSpec struct {
	Method   string            `json:"method" yaml:"method"`
	Path     string            `json:"path" yaml:"path"`
	Headers  map[string]string `json:"headers,omitempty" yaml:"headers"`
	Body     string            `json:"body,omitempty" yaml:"body"`
	Match    string            `json:"match" yaml:"match"`
	Evidence string            `json:"evidence,omitempty" yaml:"evidence"`
}

// HTTPPhase sends one request per target and evaluates the compiled matcher.
// It holds no mutable state and is safe for concurrent use.
type HTTPPhase struct {
	spec      HTTPSpec
	method    string
	match     *vm.Program
	evidence  *vm.Program
	newClient func(*run.Config) *http.Client
}

// NewHTTPPhase compiles the matcher and evidence expressions.
func NewHTTPPhase(spec HTTPSpec) (*HTTPPhase, error) {
	if strings.TrimSpace(spec.Match) == "" {
		return nil, fmt.Errorf("http phase: match expression is required")
	}
	method := strings.ToUpper(strings.TrimSpace(spec.Method))
	if method == "" {
		method = http.MethodGet
	}

	env := responseEnv(target.Target{}, "", 0, "", http.Header{})
	match, err := expr.Compile(spec.Match, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile match: %w", err)
	}

	p := &HTTPPhase{
		spec:      spec,
		method:    method,
		match:     match,
		newClient: NewHTTPClient,
	}
	if strings.TrimSpace(spec.Evidence) != "" {
		p.evidence, err = expr.Compile(spec.Evidence, expr.Env(env))
		if err != nil {
			return nil, fmt.Errorf("compile evidence: %w", err)
		}
	}
	return p, nil
}

// Run performs the request against t and evaluates the matcher.
func (p *HTTPPhase) Run(ctx context.Context, t target.Target, cfg *run.Config) (poc.Verdict, error) {
	repl := placeholders(t)

	reqURL, err := t.Resolve(repl.Replace(p.spec.Path))
	if err != nil {
		return poc.Verdict{}, err
	}

	var body io.Reader
	if p.spec.Body != "" {
		body = strings.NewReader(repl.Replace(p.spec.Body))
	}
	req, err := http.NewRequestWithContext(ctx, p.method, reqURL.String(), body)
	if err != nil {
		return poc.Verdict{}, fmt.Errorf("create request: %w", err)
	}
	req.Header = cfg.RequestHeaders(UserAgent(cfg))
	for k, v := range p.spec.Headers {
		req.Header.Set(k, repl.Replace(v))
	}

	client := p.newClient(cfg)
	defer client.CloseIdleConnections()

	resp, err := client.Do(req)
	if err != nil {
		return poc.Verdict{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxResponseBodyBytes))
	if err != nil {
		return poc.Verdict{}, fmt.Errorf("read body: %w", err)
	}

	env := responseEnv(t, reqURL.String(), resp.StatusCode, string(raw), resp.Header)
	out, err := expr.Run(p.match, env)
	if err != nil {
		return poc.Verdict{}, fmt.Errorf("evaluate match: %w", err)
	}
	matched, _ := out.(bool)
	if !matched {
		return poc.Verdict{}, nil
	}

	verdict := poc.Verdict{Vulnerable: true}
	if p.evidence == nil {
		verdict.Evidence = map[string]any{"url": reqURL.String(), "status": resp.StatusCode}
		return verdict, nil
	}
	ev, err := expr.Run(p.evidence, env)
	if err != nil {
		return poc.Verdict{}, fmt.Errorf("evaluate evidence: %w", err)
	}
	verdict.Evidence = capEvidence(ev)
	return verdict, nil
}

func placeholders(t target.Target) *strings.Replacer {
	return strings.NewReplacer(
		"{{target}}", t.String(),
		"{{base}}", t.Base(),
		"{{host}}", t.Host(),
		"{{hostname}}", t.Hostname(),
	)
}

// responseEnv is the expression environment a matcher sees.
func responseEnv(t target.Target, reqURL string, status int, body string, h http.Header) map[string]any {
	headers := make(map[string]string, len(h))
	for k := range h {
		headers[strings.ToLower(k)] = h.Get(k)
	}
	return map[string]any{
		"status":  status,
		"body":    body,
		"headers": headers,
		"url":     reqURL,
		"target":  t.String(),
		"header": func(name string) string {
			return h.Get(name)
		},
	}
}
