// Package payment wraps the hosted-checkout payment provider. The backend
// only initiates a checkout and later receives the provider's callback on
// the payment endpoint; nothing here blocks order creation.
package payment

import (
	"context"
	"fmt"

	"campus-eats/internal/apperr"
	"campus-eats/pkg/models"

	"github.com/google/uuid"
)

type Gateway interface {
	// Initiate starts a hosted checkout for the order and returns the
	// redirect URL and the provider's reference.
	Initiate(ctx context.Context, order *models.Order) (redirectURL string, providerRef string, err error)
}

// HostedCheckout is a stand-in provider used in development; it mints a
// reference and a redirect URL without talking to anyone.
type HostedCheckout struct {
	BaseURL string
}

func NewHostedCheckout(baseURL string) *HostedCheckout {
	return &HostedCheckout{BaseURL: baseURL}
}

func (g *HostedCheckout) Initiate(ctx context.Context, order *models.Order) (string, string, error) {
	if g.BaseURL == "" {
		return "", "", fmt.Errorf("payment gateway not configured: %w", apperr.ErrDependencyUnavailable)
	}
	ref := uuid.NewString()
	url := fmt.Sprintf("%s/checkout/%s?amount=%.2f", g.BaseURL, ref, order.Total)
	return url, ref, nil
}
