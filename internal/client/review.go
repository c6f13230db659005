package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Resource is an admin-reviewed marketplace record type.
type Resource string

const (
	ResourcePaymentRequest    Resource = "payment-requests"
	ResourceEscrowTransaction Resource = "escrow-transactions"
	ResourceServiceRequest    Resource = "service-requests"
	ResourceDocument          Resource = "documents"
)

// ParseResource maps a path segment to a Resource.
func ParseResource(s string) (Resource, bool) {
	switch r := Resource(strings.ToLower(s)); r {
	case ResourcePaymentRequest, ResourceEscrowTransaction, ResourceServiceRequest, ResourceDocument:
		return r, true
	}
	return "", false
}

// Decision is the outcome of an admin review.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Review approves or rejects a record. Rejections must carry a reason.
// Failures are returned to the caller and never retried.
func (c *APIClient) Review(ctx context.Context, resource Resource, id string, decision Decision, reason string) error {
	if _, ok := ParseResource(string(resource)); !ok {
		return fmt.Errorf("unknown resource %q", resource)
	}
	if err := validID(id); err != nil {
		return err
	}

	var body interface{}
	switch decision {
	case DecisionApprove:
		if reason != "" {
			body = map[string]string{"note": reason}
		}
	case DecisionReject:
		if strings.TrimSpace(reason) == "" {
			return fmt.Errorf("reject %s/%s: a reason is required", resource, id)
		}
		body = map[string]string{"reason": reason}
	default:
		return fmt.Errorf("unknown decision %q", decision)
	}

	path := fmt.Sprintf("/admin/%s/%s/%s", resource, url.PathEscape(id), decision)
	return c.do(ctx, http.MethodPost, path, body, nil)
}
