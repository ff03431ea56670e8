package enforcer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"netqos/internal/core/domain"
	"netqos/pkg/validation"

	"github.com/go-resty/resty/v2"
)

// PolicyRecord is one entry of the pushed policy list.
type PolicyRecord struct {
	Name           string  `json:"name"`
	Priority       int     `json:"priority"`
	BandwidthLimit float64 `json:"bandwidth-limit"`
}

type PolicyContainer struct {
	Policy []PolicyRecord `json:"policy"`
}

// PolicyDocument is the body accepted by the switch control plane.
type PolicyDocument struct {
	QoSPolicies PolicyContainer `json:"qos-policies:qos-policies"`
}

// BuildDocument converts a decision into the wire document, video first.
func BuildDocument(d domain.PolicyDecision) PolicyDocument {
	doc := PolicyDocument{QoSPolicies: PolicyContainer{Policy: make([]PolicyRecord, 0, len(d.Policies))}}
	for _, p := range d.Policies {
		doc.QoSPolicies.Policy = append(doc.QoSPolicies.Policy, PolicyRecord{
			Name:           string(p.Name),
			Priority:       p.Priority,
			BandwidthLimit: p.BandwidthLimitMbps,
		})
	}
	return doc
}

// RESTEnforcer pushes decisions to the switch control plane over HTTP.
type RESTEnforcer struct {
	client    *resty.Client
	url       string
	method    string
	validator *validation.PolicyValidator
}

func NewRESTEnforcer(url, method string, timeout time.Duration, validator *validation.PolicyValidator) *RESTEnforcer {
	if method == "" {
		method = http.MethodPut
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &RESTEnforcer{
		client:    client,
		url:       url,
		method:    method,
		validator: validator,
	}
}

// ApplyPolicy sends one decision. It never retries; the outcome is reported
// as a typed result.
func (e *RESTEnforcer) ApplyPolicy(ctx context.Context, d domain.PolicyDecision) domain.PushResult {
	start := time.Now()
	result := domain.PushResult{DecisionID: d.ID, At: start}

	for _, p := range d.Policies {
		if err := validation.ValidateClassName(string(p.Name)); err != nil {
			return finish(result, domain.PushRejected, 0, fmt.Errorf("%w: %v", domain.ErrInvalidPolicy, err), start)
		}
	}

	body, err := json.Marshal(BuildDocument(d))
	if err != nil {
		return finish(result, domain.PushFailed, 0, fmt.Errorf("encode policy: %w", err), start)
	}
	if e.validator != nil {
		if err := e.validator.ValidateDocument(body); err != nil {
			return finish(result, domain.PushRejected, 0, fmt.Errorf("%w: %v", domain.ErrInvalidPolicy, err), start)
		}
	}

	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(body).
		Execute(e.method, e.url)
	if err != nil {
		if isTimeout(err) {
			return finish(result, domain.PushTimeout, 0, err, start)
		}
		return finish(result, domain.PushFailed, 0, fmt.Errorf("%w: %v", domain.ErrEnforcerUnavailable, err), start)
	}

	code := resp.StatusCode()
	if code == http.StatusOK || code == http.StatusNoContent {
		return finish(result, domain.PushSuccess, code, nil, start)
	}
	return finish(result, domain.PushRejected, code,
		fmt.Errorf("%w: status %d: %s", domain.ErrPolicyRejected, code, truncate(resp.String(), 200)), start)
}

func finish(r domain.PushResult, status domain.PushStatus, code int, err error, start time.Time) domain.PushResult {
	r.Status = status
	r.StatusCode = code
	r.Duration = time.Since(start)
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Disabled is used when no enforcer is configured. Every push is skipped.
type Disabled struct{}

func (Disabled) ApplyPolicy(ctx context.Context, d domain.PolicyDecision) domain.PushResult {
	return domain.PushResult{DecisionID: d.ID, Status: domain.PushSkipped, Error: "enforcer disabled", At: time.Now()}
}
