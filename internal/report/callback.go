package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/cfn"

	"catalogpolicy/internal/reconcile"
	dErrors "catalogpolicy/pkg/domain-errors"
)

const (
	DefaultCallbackTimeout = 10 * time.Second
	maxErrorBody           = 512
	defaultFailureReason   = "reconciliation failed"
)

// CallbackReporter PUTs the outcome to the orchestrator's presigned response
// URL. It sends exactly one request per Report call and never retries.
type CallbackReporter struct {
	target       Target
	client       *http.Client
	timeout      time.Duration
	allowedHosts []string
}

type CallbackOption func(*CallbackReporter)

func WithHTTPClient(client *http.Client) CallbackOption {
	return func(r *CallbackReporter) {
		r.client = client
	}
}

// WithTimeout bounds the whole PUT including reading the response.
func WithTimeout(d time.Duration) CallbackOption {
	return func(r *CallbackReporter) {
		r.timeout = d
	}
}

// WithAllowedHosts limits the response URL to the given hosts. A pattern is an
// exact host name, "*.suffix" for any subdomain of suffix, or "*" for any host.
// With no patterns every host is accepted.
func WithAllowedHosts(patterns ...string) CallbackOption {
	return func(r *CallbackReporter) {
		r.allowedHosts = patterns
	}
}

func NewCallbackReporter(target Target, opts ...CallbackOption) (*CallbackReporter, error) {
	if target.ResponseURL == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "callback response URL is required")
	}
	r := &CallbackReporter{
		target:  target,
		client:  http.DefaultClient,
		timeout: DefaultCallbackTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := checkResponseURL(target.ResponseURL, r.allowedHosts); err != nil {
		return nil, err
	}
	return r, nil
}

// checkResponseURL refuses to PUT anywhere but an http(s) URL on an allowed
// host. Event bodies can arrive over HTTP, so the URL is caller controlled.
func checkResponseURL(raw string, allowed []string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid callback response URL")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("callback scheme %q is not allowed", u.Scheme))
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return dErrors.New(dErrors.CodeValidation, "callback response URL has no host")
	}
	if len(allowed) == 0 || hostAllowed(host, allowed) {
		return nil
	}
	return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("callback host %q is not allowed", host))
}

func hostAllowed(host string, patterns []string) bool {
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		switch {
		case p == "*":
			return true
		case strings.HasPrefix(p, "*."):
			if strings.HasSuffix(host, p[1:]) {
				return true
			}
		case p == host:
			return true
		}
	}
	return false
}

// Response renders out in the orchestrator's callback shape.
func Response(target Target, out reconcile.Outcome) *cfn.Response {
	resp := cfn.NewResponse(&cfn.Event{
		RequestID:         target.RequestID,
		LogicalResourceID: target.LogicalResourceID,
		StackID:           target.StackID,
		ResponseURL:       target.ResponseURL,
	})
	resp.PhysicalResourceID = out.PhysicalResourceID
	if out.Success {
		resp.Status = cfn.StatusSuccess
		resp.Data = map[string]interface{}{
			"Attempts": out.Attempts,
			"Written":  out.Written,
		}
		return resp
	}
	resp.Status = cfn.StatusFailed
	resp.Reason = out.Reason
	if resp.Reason == "" {
		resp.Reason = defaultFailureReason
	}
	return resp
}

func (r *CallbackReporter) Report(ctx context.Context, out reconcile.Outcome) error {
	body, err := json.Marshal(Response(r.target, out))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode callback body")
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.target.ResponseURL, bytes.NewReader(body))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build callback request")
	}
	// Presigned S3 URLs are signed without a content type.
	req.Header.Del("Content-Type")

	res, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "send callback")
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "send callback")
	}
	defer res.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return dErrors.New(dErrors.CodeUnavailable,
			fmt.Sprintf("callback rejected with status %d: %s", res.StatusCode, bytes.TrimSpace(snippet)))
	}
	return nil
}
