package httpx

import (
	"fmt"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

const maxWebhookBytes = 65536

type webhookAck struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// StripeWebhook verifies the signature, drops event ids already processed
// and hands the event to events. A failed delivery forgets the id so the
// provider's retry is processed again.
func StripeWebhook(events EventHandler, secret SigningSecret, guard WebhookGuard, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if events == nil || secret == nil || guard == nil {
			writeError(ctx, log, w, &Error{Code: CodeInternal, Message: "webhook handling not configured"})
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
		if err != nil {
			writeError(ctx, log, w, &Error{Code: CodeValidation, Message: "read request body", Err: err})
			return
		}
		sig := r.Header.Get("Stripe-Signature")
		if sig == "" {
			writeError(ctx, log, w, &Error{Code: CodeValidation, Message: "stripe signature missing"})
			return
		}
		event, err := webhook.ConstructEvent(payload, sig, secret.SigningSecret())
		if err != nil {
			writeError(ctx, log, w, &Error{Code: CodeValidation, Message: "invalid stripe signature", Err: err})
			return
		}
		ctx = log.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": string(event.Type)})

		seen, err := guard.CheckAndMark(ctx, event.ID)
		if err != nil {
			writeError(ctx, log, w, fmt.Errorf("%w: check idempotency: %v", orders.ErrDependencyUnavailable, err))
			return
		}
		if seen {
			log.Debug(ctx, "duplicate stripe event")
			writeJSON(w, http.StatusOK, webhookAck{Received: true, Duplicate: true})
			return
		}

		if err := events.HandleEvent(ctx, &event); err != nil {
			if derr := guard.Delete(ctx, event.ID); derr != nil {
				log.Error(ctx, "forget failed stripe event", derr)
			}
			writeError(ctx, log, w, err)
			return
		}
		writeJSON(w, http.StatusOK, webhookAck{Received: true})
	}
}
