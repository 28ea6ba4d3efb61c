package sched

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loadcast/internal/breaker"
	"loadcast/internal/metrics"
	"loadcast/internal/plan"
	"loadcast/internal/retry"
)

// outcomeKind classifies one attempt. The kind, not an error value,
// decides breaker accounting and retry eligibility.
type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	// outcomeHTTPFailure is a completed exchange with a status outside
	// [200,300): a breaker failure, never retried.
	outcomeHTTPFailure
	// outcomeTransport is a failure below HTTP: timeout, reset, refused.
	outcomeTransport
	// outcomeSetup is a render or request-building failure. Not a
	// statement about target health, so the breaker never sees it.
	outcomeSetup
)

type attemptOutcome struct {
	rec  metrics.ResponseRecord
	kind outcomeKind
	err  error
}

// HTTPExecutor drives a work item end to end: breaker gate, retry
// sequence, the HTTP exchange, outcome classification.
type HTTPExecutor struct {
	plan     *plan.TestPlan
	client   *http.Client
	breakers *breaker.Registry
	policy   retry.Policy
	tmpl     *plan.TemplateEngine
	logger   *zap.Logger
}

func NewHTTPExecutor(p *plan.TestPlan, breakers *breaker.Registry, policy retry.Policy, logger *zap.Logger) *HTTPExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPExecutor{
		plan:     p,
		client:   NewHTTPClient(p),
		breakers: breakers,
		policy:   policy,
		tmpl:     plan.NewTemplateEngine(),
		logger:   logger,
	}
}

// NewHTTPClient builds the tuned client shared by every virtual user.
// Pool limits sized for thousands of concurrent connections to one host.
func NewHTTPClient(p *plan.TestPlan) *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 2000
	t.MaxConnsPerHost = 2000
	t.MaxIdleConnsPerHost = 2000
	if p.Insecure {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{
		Timeout:   p.RequestTimeout,
		Transport: t,
	}
}

// Execute runs the full attempt pipeline for one work item and always
// returns a record; every failure mode ends up as record data.
func (e *HTTPExecutor) Execute(ctx context.Context, item plan.WorkItem, seq uint64) metrics.ResponseRecord {
	br := e.breakers.For(item.Target.Key())
	requestID := uuid.New().String()

	if err := br.Acquire(); err != nil {
		// Open circuit: fail fast, nothing is invoked.
		return metrics.ResponseRecord{
			Timestamp: time.Now(),
			TargetURI: item.Target.URI(),
			UserID:    userLabel(item.User),
			RequestID: requestID,
			Error:     err.Error(),
		}
	}

	policy := e.policy
	policy.Predicate = func(err error, attempt int) bool {
		if br.State() == breaker.Open {
			return false
		}
		return isTransient(err)
	}

	var rec metrics.ResponseRecord
	_ = policy.Do(ctx, func(ctx context.Context) error {
		out := e.attempt(ctx, item, seq, requestID)
		rec = out.rec
		switch out.kind {
		case outcomeSuccess:
			br.Success()
			return nil
		case outcomeHTTPFailure:
			br.Failure()
			return nil
		case outcomeTransport:
			br.Failure()
			return out.err
		default: // outcomeSetup
			return out.err
		}
	})
	return rec
}

// attempt performs a single HTTP exchange, bounded by RequestTimeout.
func (e *HTTPExecutor) attempt(ctx context.Context, item plan.WorkItem, seq uint64, requestID string) attemptOutcome {
	rec := metrics.ResponseRecord{
		Timestamp: time.Now(),
		TargetURI: item.Target.URI(),
		UserID:    userLabel(item.User),
		RequestID: requestID,
	}

	uri, form, err := e.tmpl.RenderTarget(item.Target, item.User, seq)
	if err != nil {
		rec.Error = err.Error()
		return attemptOutcome{rec: rec, kind: outcomeSetup, err: err}
	}
	rec.TargetURI = uri

	var body io.Reader
	if len(form) > 0 {
		values := url.Values{}
		for k, v := range form {
			values.Set(k, v)
		}
		body = strings.NewReader(values.Encode())
	}

	actx, cancel := context.WithTimeout(ctx, e.plan.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, item.Target.Method, uri, body)
	if err != nil {
		rec.Error = err.Error()
		return attemptOutcome{rec: rec, kind: outcomeSetup, err: err}
	}
	for k, vs := range e.plan.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	// Auth headers win over static plan headers.
	for k, vs := range item.User.AuthContext {
		req.Header[k] = append([]string(nil), vs...)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	rec.ResponseTimeMs = float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		rec.Error = err.Error()
		return attemptOutcome{rec: rec, kind: outcomeTransport, err: err}
	}

	written, _ := io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	rec.StatusCode = resp.StatusCode
	rec.SizeBytes = written
	if rec.Failed() {
		rec.Error = resp.Status
		return attemptOutcome{rec: rec, kind: outcomeHTTPFailure}
	}
	return attemptOutcome{rec: rec, kind: outcomeSuccess}
}

// isTransient reports whether err is a network failure worth retrying:
// timeouts, dial and read errors, abrupt closes. Render errors, canceled
// contexts, and malformed requests are not.
func isTransient(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func userLabel(u plan.VirtualUser) string {
	return "user-" + strconv.Itoa(u.Index)
}
