package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"emailagent/pkg/circuitbreaker"
	"emailagent/pkg/metrics"
	"emailagent/pkg/otel"
	"emailagent/pkg/trace"
)

const generatePath = "/api/generate"

// Gateway sends a prompt to the classification model and returns its raw text.
type Gateway interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type GatewayConfig struct {
	Endpoint          string
	Model             string
	Timeout           time.Duration
	Temperature       float64
	TopP              float64
	RequestsPerSecond float64
	Burst             int
}

// DefaultGatewayConfig holds the fixed low-variance sampling options.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Endpoint:    "http://localhost:11434",
		Model:       "llama3.2",
		Timeout:     30 * time.Second,
		Temperature: 0.1,
		TopP:        0.9,
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// OllamaGateway talks to an Ollama compatible /api/generate endpoint.
// It makes exactly one HTTP attempt per Generate call.
type OllamaGateway struct {
	cfg        GatewayConfig
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
	limiter    *rate.Limiter
	logger     *zap.Logger
}

type GatewayOption func(*OllamaGateway)

// WithHTTPClient replaces the default client. Deadlines come from the call
// context, so the client should not set its own Timeout.
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *OllamaGateway) { g.httpClient = c }
}

// WithCircuitBreaker overrides the breaker settings.
func WithCircuitBreaker(cfg circuitbreaker.Config) GatewayOption {
	return func(g *OllamaGateway) { g.cb = g.newBreaker(cfg) }
}

func NewOllamaGateway(cfg GatewayConfig, logger *zap.Logger, opts ...GatewayOption) *OllamaGateway {
	defaults := DefaultGatewayConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaults.Temperature
	}
	if cfg.TopP == 0 {
		cfg.TopP = defaults.TopP
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	g := &OllamaGateway{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger,
	}
	g.cb = g.newBreaker(circuitbreaker.Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 2,
	})
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *OllamaGateway) newBreaker(cfg circuitbreaker.Config) *circuitbreaker.CircuitBreaker {
	cfg.IsFailure = IsGatewayError
	// anything else is the caller's context ending, which says nothing about the model
	cfg.IsIgnored = func(err error) bool { return !IsGatewayError(err) }
	cfg.OnStateChange = func(from, to circuitbreaker.State) {
		g.logger.Warn("Model circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return circuitbreaker.NewCircuitBreaker(cfg)
}

// Generate returns the model's response text. Failures are *GatewayError,
// except cancellation of ctx by the caller, which is returned as ctx.Err().
func (g *OllamaGateway) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ctx, span := otel.StartSpan(ctx, "model.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("model.name", g.cfg.Model),
		attribute.Int("model.prompt_bytes", len(prompt)),
	)

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	var text string
	err := g.cb.Execute(func() error {
		if g.limiter != nil {
			if err := g.limiter.Wait(callCtx); err != nil {
				return g.classify(ctx, err)
			}
		}
		t, err := g.do(callCtx, prompt)
		if err != nil {
			return g.classify(ctx, err)
		}
		text = t
		return nil
	})
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		err = &GatewayError{Kind: KindUnreachable, Err: err}
	}

	metrics.RecordModelCallLatency(generatePath, statusLabel(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}

func (g *OllamaGateway) do(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  g.cfg.Model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: g.cfg.Temperature,
			TopP:        g.cfg.TopP,
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint+generatePath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if traceID := trace.FromContext(ctx); traceID != "" {
		req.Header.Set(trace.HeaderName(), traceID)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &GatewayError{
			Kind:       KindRemoteError,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(snippet))),
		}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &GatewayError{Kind: KindRemoteError, StatusCode: resp.StatusCode, Err: fmt.Errorf("invalid response envelope: %w", err)}
	}
	if out.Error != "" {
		return "", &GatewayError{Kind: KindRemoteError, StatusCode: resp.StatusCode, Err: errors.New(out.Error)}
	}

	return out.Response, nil
}

// classify maps a raw transport error to a GatewayError. parent is the
// caller's context: if it is done, its error is returned unchanged.
func (g *OllamaGateway) classify(parent context.Context, err error) error {
	if IsGatewayError(err) {
		return err
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &GatewayError{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &GatewayError{Kind: KindTimeout, Err: err}
	}
	return &GatewayError{Kind: KindUnreachable, Err: err}
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRemoteError):
		return "remote_error"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	default:
		return "canceled"
	}
}
