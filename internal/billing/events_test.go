package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent_CheckoutCompleted(t *testing.T) {
	raw := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_123",
			"customer": "cus_123",
			"subscription": "sub_123",
			"created": 1700000000,
			"metadata": {"tenantId": "ten_1", "planId": "pro"}
		}}
	}`)

	evt, err := ParseEvent(raw)
	require.NoError(t, err)
	require.Equal(t, EventCheckoutCompleted, evt.Kind)

	cs := evt.CheckoutCompleted
	require.NotNil(t, cs)
	assert.Equal(t, "cs_123", cs.ID)
	assert.Equal(t, "cus_123", cs.Customer)
	assert.Equal(t, "sub_123", cs.Subscription)
	assert.Equal(t, "ten_1", cs.Metadata["tenantId"])
	assert.Equal(t, "pro", cs.Metadata["planId"])
	assert.Equal(t, int64(1700000000), cs.Created)
}

func TestParseEvent_SubscriptionUpdated(t *testing.T) {
	raw := []byte(`{
		"id": "evt_2",
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_123",
			"customer": "cus_123",
			"status": "past_due",
			"current_period_start": 1700000000,
			"current_period_end": 1702592000,
			"items": {"data": [{"price": {"id": "price_pro"}}]}
		}}
	}`)

	evt, err := ParseEvent(raw)
	require.NoError(t, err)
	require.Equal(t, EventSubscriptionUpdated, evt.Kind)

	sc := evt.SubscriptionUpdated
	require.NotNil(t, sc)
	assert.Equal(t, "past_due", sc.Status)
	assert.Equal(t, "price_pro", sc.PriceID())
}

func TestParseEvent_SubscriptionUpdated_NoItems(t *testing.T) {
	raw := []byte(`{
		"id": "evt_3",
		"type": "customer.subscription.updated",
		"data": {"object": {"id": "sub_1", "customer": "cus_1", "status": "active"}}
	}`)

	evt, err := ParseEvent(raw)
	require.NoError(t, err)
	assert.Empty(t, evt.SubscriptionUpdated.PriceID())
}

func TestParseEvent_PaymentFailed(t *testing.T) {
	raw := []byte(`{
		"id": "evt_4",
		"type": "invoice.payment_failed",
		"data": {"object": {
			"id": "in_123",
			"customer": "cus_123",
			"subscription": "sub_123",
			"attempt_count": 3,
			"amount_due": 4900
		}}
	}`)

	evt, err := ParseEvent(raw)
	require.NoError(t, err)
	require.Equal(t, EventPaymentFailed, evt.Kind)

	pf := evt.PaymentFailed
	require.NotNil(t, pf)
	assert.Equal(t, 3, pf.AttemptCount)
	assert.Equal(t, int64(4900), pf.AmountDue)
}

func TestParseEvent_UnknownType(t *testing.T) {
	raw := []byte(`{"id": "evt_5", "type": "invoice.paid", "data": {"object": {}}}`)

	evt, err := ParseEvent(raw)
	require.NoError(t, err, "unknown type must not be an error")
	assert.Equal(t, EventUnknown, evt.Kind)
	assert.Equal(t, "invoice.paid", evt.RawType, "raw type should be preserved for logging")
}

func TestParseEvent_InvalidJSON(t *testing.T) {
	_, err := ParseEvent([]byte(`{not json`))
	require.Error(t, err)
}

func TestParseEvent_MissingMetadata(t *testing.T) {
	raw := []byte(`{
		"id": "evt_6",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "customer": "cus_1"}}
	}`)

	evt, err := ParseEvent(raw)
	require.NoError(t, err)
	assert.Empty(t, evt.CheckoutCompleted.Metadata["tenantId"])
}
