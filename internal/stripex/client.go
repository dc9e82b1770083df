// Package stripex talks to Stripe: payment intents for checkout, refunds for
// staff, and the signing secret used to verify webhooks.
package stripex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/ariefcatur/go-order-ledger/internal/config"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

// Intent statuses the checkout flow reacts to.
const (
	IntentSucceeded             = string(stripe.PaymentIntentStatusSucceeded)
	IntentCanceled              = string(stripe.PaymentIntentStatusCanceled)
	IntentRequiresPaymentMethod = string(stripe.PaymentIntentStatusRequiresPaymentMethod)
)

// Refund statuses.
const (
	RefundSucceeded = string(stripe.RefundStatusSucceeded)
	RefundPending   = string(stripe.RefundStatusPending)
	RefundFailed    = string(stripe.RefundStatusFailed)
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

type Intent struct {
	ID             string
	ClientSecret   string
	Status         string
	FailureMessage string
}

type Refund struct {
	ID            string
	Status        string
	TransactionID string
}

// Client owns its own API key; it never touches the SDK's package-level key,
// so several clients can live in one process.
type Client struct {
	api           *stripe.Client
	environment   string
	signingSecret string
}

// NewClient validates cfg and builds the SDK client. opts are passed through
// to stripe.NewClient (tests point stripe.WithBackends at a local server).
func NewClient(ctx context.Context, cfg config.StripeConfig, log *logger.Logger, opts ...stripe.ClientOption) (*Client, error) {
	env, err := normalizeEnv(cfg.Env)
	if err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errSecretRequired
	}
	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	api := stripe.NewClient(apiKey, opts...)
	if log != nil {
		log.Info(ctx, fmt.Sprintf("stripe client initialized (%s)", env))
	}
	return &Client{api: api, environment: env, signingSecret: secret}, nil
}

func (c *Client) Environment() string { return c.environment }

func (c *Client) SigningSecret() string { return c.signingSecret }

// CreatePaymentIntent asks Stripe for an intent of amountMinor (cents).
func (c *Client) CreatePaymentIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (Intent, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(amountMinor),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := c.api.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return Intent{}, &orders.ProviderCommunicationError{Op: "create payment intent", Err: err}
	}
	return toIntent(pi), nil
}

func (c *Client) RetrievePaymentIntent(ctx context.Context, id string) (Intent, error) {
	pi, err := c.api.V1PaymentIntents.Retrieve(ctx, id, &stripe.PaymentIntentRetrieveParams{})
	if err != nil {
		return Intent{}, &orders.ProviderCommunicationError{Op: "retrieve payment intent", Err: err}
	}
	return toIntent(pi), nil
}

// CreateRefund refunds the full amount captured by a payment intent.
func (c *Client) CreateRefund(ctx context.Context, transactionID, reason string) (Refund, error) {
	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(transactionID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if reason != "" {
		params.AddMetadata("reason", reason)
	}

	r, err := c.api.V1Refunds.Create(ctx, params)
	if err != nil {
		return Refund{}, &orders.ProviderCommunicationError{Op: "create refund", Err: err}
	}
	out := Refund{ID: r.ID, Status: string(r.Status), TransactionID: transactionID}
	if r.PaymentIntent != nil && r.PaymentIntent.ID != "" {
		out.TransactionID = r.PaymentIntent.ID
	}
	return out, nil
}

func toIntent(pi *stripe.PaymentIntent) Intent {
	out := Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}
	if pi.LastPaymentError != nil {
		out.FailureMessage = pi.LastPaymentError.Msg
	}
	return out
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}
