// Package chatclient sends chat conversations to the first healthy endpoint
// of an ordered list, retrying transient network failures.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/intelletix/sudbury-directory/internal/adapter/observability"
	"github.com/intelletix/sudbury-directory/internal/config"
	"github.com/intelletix/sudbury-directory/internal/domain"
)

const maxResponseBytes = 1 << 20

// Defaults used when an option is not given.
const (
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 1500 * time.Millisecond
	DefaultAttemptTimeout = 30 * time.Second
)

// Dispatcher tries endpoints strictly in order, one attempt at a time.
type Dispatcher struct {
	endpoints      []string
	hc             *http.Client
	maxRetries     int
	delay          time.Duration
	attemptTimeout time.Duration
	conn           Connectivity
	logger         *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(d *Dispatcher) { d.hc = hc } }

// WithRetryPolicy sets attempts per endpoint and the fixed delay between them.
func WithRetryPolicy(maxRetries int, delay time.Duration) Option {
	return func(d *Dispatcher) {
		if maxRetries < 1 {
			maxRetries = 1
		}
		d.maxRetries, d.delay = maxRetries, delay
	}
}

// WithAttemptTimeout bounds each HTTP attempt.
func WithAttemptTimeout(t time.Duration) Option { return func(d *Dispatcher) { d.attemptTimeout = t } }

// WithConnectivity sets the check run before each send.
func WithConnectivity(c Connectivity) Option { return func(d *Dispatcher) { d.conn = c } }

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option { return func(d *Dispatcher) { d.logger = lg } }

// New builds a dispatcher over absolute endpoint URLs.
func New(endpoints []string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		endpoints:      append([]string(nil), endpoints...),
		hc:             &http.Client{Transport: observability.TracedTransport(http.DefaultTransport)},
		maxRetries:     DefaultMaxRetries,
		delay:          DefaultRetryDelay,
		attemptTimeout: DefaultAttemptTimeout,
		conn:           AlwaysOnline{},
		logger:         slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// NewFromConfig builds a dispatcher from the client environment.
func NewFromConfig(cfg config.ClientConfig, opts ...Option) (*Dispatcher, error) {
	eps, err := cfg.ResolvedEndpoints()
	if err != nil {
		return nil, err
	}
	retries, delay := cfg.GetRetryPolicy()
	base := []Option{WithRetryPolicy(retries, delay), WithAttemptTimeout(cfg.AttemptTimeout)}
	if cfg.ProbeAddr != "" {
		base = append(base, WithConnectivity(DialProbe{Addr: cfg.ProbeAddr, Timeout: cfg.ProbeTimeout}))
	}
	return New(eps, append(base, opts...)...), nil
}

// Endpoints returns the endpoint list in priority order.
func (d *Dispatcher) Endpoints() []string { return append([]string(nil), d.endpoints...) }

// attemptStep is one endpoint's share of a send.
type attemptStep func(ctx context.Context) (domain.ChatMessage, error)

// SendWithFallback returns the first successful endpoint's reply. Every
// endpoint gets at most maxRetries attempts, so a send makes at most
// len(endpoints)*maxRetries requests. On exhaustion the last error is returned.
func (d *Dispatcher) SendWithFallback(ctx context.Context, messages []domain.ChatMessage) (domain.ChatMessage, error) {
	sink := statusSinkFrom(ctx)
	defer sink.Clear()

	if len(d.endpoints) == 0 {
		return domain.ChatMessage{}, ErrNoEndpoints
	}
	if !d.conn.Online(ctx) {
		return domain.ChatMessage{}, ErrOffline
	}
	body, err := json.Marshal(map[string]any{"messages": messages})
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("op=chatclient.SendWithFallback: encode: %w", err)
	}

	steps := make([]attemptStep, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		steps = append(steps, d.endpointStep(ep, body, sink))
	}
	return d.fold(ctx, steps)
}

// fold runs steps left to right and stops at the first success or terminal error.
func (d *Dispatcher) fold(ctx context.Context, steps []attemptStep) (domain.ChatMessage, error) {
	var last error
	for i, step := range steps {
		msg, err := step(ctx)
		if err == nil {
			return msg, nil
		}
		last = err
		if Classify(ctx, err) == Terminal {
			return domain.ChatMessage{}, err
		}
		if i < len(steps)-1 {
			d.logger.Info("falling back to next endpoint", slog.String("failed", d.endpoints[i]), slog.Any("error", err))
		}
	}
	return domain.ChatMessage{}, last
}

func (d *Dispatcher) endpointStep(endpoint string, body []byte, sink StatusSink) attemptStep {
	return func(ctx context.Context) (domain.ChatMessage, error) {
		attempt := 0
		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(d.delay), uint64(d.maxRetries-1)), ctx)

		op := func() (domain.ChatMessage, error) {
			attempt++
			msg, err := d.post(ctx, endpoint, body)
			observability.DispatchAttemptsTotal.WithLabelValues(endpointLabel(endpoint), outcome(ctx, err)).Inc()
			if err != nil && Classify(ctx, err) != Retry {
				return msg, backoff.Permanent(err)
			}
			return msg, err
		}
		notify := func(err error, wait time.Duration) {
			d.logger.Warn("chat attempt failed, retrying",
				slog.String("endpoint", endpoint),
				slog.Int("attempt", attempt),
				slog.Duration("delay", wait),
				slog.Any("error", err))
			sink.Retrying(endpoint, attempt+1, wait)
		}
		return backoff.RetryNotifyWithData(op, policy, notify)
	}
}

type chatReply struct {
	Message *domain.ChatMessage `json:"message"`
}

type errorReply struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (d *Dispatcher) post(ctx context.Context, endpoint string, body []byte) (domain.ChatMessage, error) {
	if d.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.attemptTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("op=chatclient.post: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := d.hc.Do(req)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.ChatMessage{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Endpoint: endpoint, Status: resp.StatusCode}
		var er errorReply
		if json.Unmarshal(raw, &er) == nil {
			se.Code, se.Message = er.Code, er.Error
		}
		return domain.ChatMessage{}, se
	}
	var cr chatReply
	if err := json.Unmarshal(raw, &cr); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("%w: %s: %v", ErrBadPayload, endpoint, err)
	}
	if cr.Message == nil || strings.TrimSpace(cr.Message.Content) == "" {
		return domain.ChatMessage{}, fmt.Errorf("%w: %s: empty message", ErrBadPayload, endpoint)
	}
	if cr.Message.Role == "" {
		cr.Message.Role = domain.RoleAssistant
	}
	return *cr.Message, nil
}

func outcome(ctx context.Context, err error) string {
	if err == nil {
		return "ok"
	}
	return Classify(ctx, err).String()
}

// endpointLabel drops the query so label cardinality stays bounded.
func endpointLabel(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "invalid"
	}
	return u.Host + u.Path
}

// Probe posts a test message to every endpoint once and reports each result.
func (d *Dispatcher) Probe(ctx context.Context) []ProbeResult {
	body, _ := json.Marshal(map[string]any{"messages": []domain.ChatMessage{{Role: domain.RoleUser, Content: "test"}}})
	out := make([]ProbeResult, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		start := time.Now()
		_, err := d.post(ctx, ep, body)
		r := ProbeResult{Endpoint: ep, Elapsed: time.Since(start), Status: "OK"}
		var se *StatusError
		switch {
		case err == nil:
		case errors.As(err, &se):
			r.Status = fmt.Sprintf("error %d", se.Status)
		default:
			r.Status = "failed"
			r.Err = err
		}
		out = append(out, r)
	}
	return out
}

// ProbeResult is one endpoint's answer to Probe.
type ProbeResult struct {
	Endpoint string
	Status   string
	Elapsed  time.Duration
	Err      error
}
