package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/omise/omise-go"

	"rental-payments-backend/internal/domain"
)

// envelope is the processor's event wrapper. Only the fields routed on are decoded.
type envelope struct {
	Object  string          `json:"object"`
	ID      string          `json:"id"`
	Key     string          `json:"key"`
	Created time.Time       `json:"created_at"`
	Data    json.RawMessage `json:"data"`
}

// platformObject covers recipients and the platform's own subscription and
// identity objects, which all carry the member in metadata
type platformObject struct {
	ID       string                 `json:"id"`
	Verified bool                   `json:"verified"`
	Active   bool                   `json:"active"`
	Metadata map[string]interface{} `json:"metadata"`
}

// ParseEvent normalizes a verified webhook body. Unknown keys yield EventUnhandled,
// never an error; only a body that cannot be understood is rejected.
func ParseEvent(body []byte) (*domain.WebhookEvent, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, domain.Validation("malformed webhook payload: %v", err)
	}
	if env.ID == "" || env.Key == "" {
		return nil, domain.Validation("webhook payload missing id or key")
	}

	ev := &domain.WebhookEvent{
		ID:           env.ID,
		Type:         domain.EventUnhandled,
		ProcessorKey: env.Key,
		OccurredAt:   env.Created,
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	switch env.Key {
	case "charge.create", "charge.complete", "charge.update", "charge.capture",
		"charge.reverse", "charge.expire":
		ch := &omise.Charge{}
		if err := json.Unmarshal(env.Data, ch); err != nil {
			return nil, domain.Validation("malformed charge in event %s: %v", env.ID, err)
		}
		applyCharge(ev, env.Key, ch)

	case "recipient.verify", "recipient.activate":
		obj, err := decodePlatformObject(env)
		if err != nil {
			return nil, err
		}
		if obj.Verified || obj.Active {
			ev.Type = domain.EventPayoutAccountVerified
			ev.AccountRef = obj.ID
			ev.UserID = metaString(obj.Metadata, MetaUserID)
		}

	case "subscription.paid", "subscription.canceled", "identity.verified":
		obj, err := decodePlatformObject(env)
		if err != nil {
			return nil, err
		}
		ev.UserID = metaString(obj.Metadata, MetaUserID)
		switch env.Key {
		case "subscription.paid":
			ev.Type = domain.EventSubscriptionPaid
		case "subscription.canceled":
			ev.Type = domain.EventSubscriptionCanceled
		default:
			ev.Type = domain.EventIdentityVerified
		}
	}

	return ev, nil
}

func applyCharge(ev *domain.WebhookEvent, key string, ch *omise.Charge) {
	ev.PaymentRef = ch.ID
	ev.AmountCents = ch.Amount
	ev.TransactionID = metaString(ch.Metadata, MetaTransactionID)

	if key == "charge.reverse" || key == "charge.expire" {
		ev.Type = domain.EventPaymentCanceled
		return
	}

	switch chargeState(ch) {
	case AuthStateAuthorized:
		ev.Type = domain.EventAuthorizationCapturable
	case AuthStateCaptured:
		ev.Type = domain.EventPaymentSucceeded
	case AuthStateFailed:
		ev.Type = domain.EventPaymentFailed
		if ch.FailureMessage != nil {
			ev.FailureReason = *ch.FailureMessage
		} else if ch.FailureCode != nil {
			ev.FailureReason = *ch.FailureCode
		}
	case AuthStateReversed:
		ev.Type = domain.EventPaymentCanceled
	}
}

func decodePlatformObject(env envelope) (*platformObject, error) {
	obj := &platformObject{}
	if err := json.Unmarshal(env.Data, obj); err != nil {
		return nil, domain.Validation("malformed %s object in event %s: %v", env.Key, env.ID, err)
	}
	return obj, nil
}

func metaString(meta map[string]interface{}, key string) string {
	if meta == nil {
		return ""
	}
	switch v := meta[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
