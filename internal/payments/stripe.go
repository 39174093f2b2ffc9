package payments

import (
	"context"
	"log/slog"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/phihocnguyen/ridemate-server/internal/ledger"
)

// StripeClient is a thin wrapper around stripe-go for the coin top-up
// flow: hold funds, capture, credit the ledger.
type StripeClient struct{}

// NewStripeClient initializes the stripe client with the STRIPE_API_KEY env var.
func NewStripeClient() *StripeClient {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &StripeClient{}
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds.
// It returns the PaymentIntent ID on success.
func (s *StripeClient) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, nil)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}

// TopUpService converts captured card payments into coin credits.
type TopUpService struct {
	Stripe *StripeClient
	Ledger *ledger.Ledger
	Logger *slog.Logger
}

func NewTopUpService(sc *StripeClient, l *ledger.Ledger, logger *slog.Logger) *TopUpService {
	return &TopUpService{Stripe: sc, Ledger: l, Logger: logger}
}

// Complete captures the held payment and credits the purchased coins.
// The capture happens first; coins are only granted for settled money.
func (t *TopUpService) Complete(ctx context.Context, userID, paymentIntentID string, coins int) (int, error) {
	if err := t.Stripe.Capture(ctx, paymentIntentID); err != nil {
		return 0, err
	}
	balance, err := t.Ledger.Credit(userID, coins)
	if err != nil {
		return 0, err
	}
	t.Logger.Info("top-up completed", "user_id", userID, "payment_intent", paymentIntentID, "coins", coins)
	return balance, nil
}
