// Package billing contains the webhook reconciliation core: the event
// taxonomy for provider webhook payloads, price-to-plan resolution, and the
// reconciler that applies each event to the record store.
package billing

import (
	"encoding/json"

	"clinicbill/internal/types"
)

// EventKind enumerates the webhook event types this service acts on.
// Everything else is EventUnknown and is acknowledged without side effects.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventCheckoutCompleted
	EventSubscriptionUpdated
	EventSubscriptionDeleted
	EventPaymentFailed
)

// Provider event type strings, matched exactly.
const (
	typeCheckoutCompleted   = "checkout.session.completed"
	typeSubscriptionUpdated = "customer.subscription.updated"
	typeSubscriptionDeleted = "customer.subscription.deleted"
	typePaymentFailed       = "invoice.payment_failed"
)

// Event is a parsed webhook event. Exactly one of the payload pointers is
// non-nil, selected by Kind; RawType preserves the provider's type string for
// logging unknown events.
type Event struct {
	Kind    EventKind
	RawType string
	ID      string

	CheckoutCompleted   *CheckoutSession
	SubscriptionUpdated *SubscriptionChange
	SubscriptionDeleted *SubscriptionChange
	PaymentFailed       *PaymentFailure
}

// CheckoutSession is the data.object payload of checkout.session.completed.
// Metadata carries the tenantId and planId set when the session was created.
type CheckoutSession struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Created      int64             `json:"created"`
	Metadata     map[string]string `json:"metadata"`
}

// SubscriptionChange is the data.object payload of both
// customer.subscription.updated and customer.subscription.deleted.
type SubscriptionChange struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Items              subscriptionItems `json:"items"`
}

type subscriptionItems struct {
	Data []subscriptionItem `json:"data"`
}

type subscriptionItem struct {
	Price struct {
		ID string `json:"id"`
	} `json:"price"`
}

// PriceID returns the first line item's price identifier, or "" when the
// event carries no items.
func (s *SubscriptionChange) PriceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

// PaymentFailure is the data.object payload of invoice.payment_failed.
// Subscription may be absent when the invoice is not subscription-backed.
type PaymentFailure struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	AttemptCount int    `json:"attempt_count"`
	AmountDue    int64  `json:"amount_due"`
}

// eventEnvelope is the outer shape shared by all provider events.
type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes a verified webhook body into an Event.
//
// A JSON error here is fatal for the request: the body already passed
// signature verification, so a malformed payload indicates a bug or a
// provider contract change, not an attack. An unrecognized event type is NOT
// an error; it parses to Kind == EventUnknown so the caller can acknowledge
// it without acting.
func ParseEvent(raw []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"webhook payload is not valid JSON",
			err,
		)
	}

	evt := Event{Kind: EventUnknown, RawType: env.Type, ID: env.ID}

	switch env.Type {
	case typeCheckoutCompleted:
		var obj CheckoutSession
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return Event{}, parseObjectError(env.Type, err)
		}
		evt.Kind = EventCheckoutCompleted
		evt.CheckoutCompleted = &obj

	case typeSubscriptionUpdated:
		var obj SubscriptionChange
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return Event{}, parseObjectError(env.Type, err)
		}
		evt.Kind = EventSubscriptionUpdated
		evt.SubscriptionUpdated = &obj

	case typeSubscriptionDeleted:
		var obj SubscriptionChange
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return Event{}, parseObjectError(env.Type, err)
		}
		evt.Kind = EventSubscriptionDeleted
		evt.SubscriptionDeleted = &obj

	case typePaymentFailed:
		var obj PaymentFailure
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return Event{}, parseObjectError(env.Type, err)
		}
		evt.Kind = EventPaymentFailed
		evt.PaymentFailed = &obj
	}

	return evt, nil
}

func parseObjectError(eventType string, err error) error {
	return types.NewAppError(
		types.ErrCodeValidationInvalidJSON,
		"webhook event object does not match the "+eventType+" shape",
		err,
	)
}
