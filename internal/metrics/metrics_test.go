package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordPayout(t *testing.T) {
	before := testutil.ToFloat64(PayoutsTotal.WithLabelValues("manual", "completed"))
	RecordPayout("manual", "completed")
	after := testutil.ToFloat64(PayoutsTotal.WithLabelValues("manual", "completed"))
	assert.Equal(t, before+1, after)
}

func TestRecordPayoutAmount(t *testing.T) {
	before := testutil.ToFloat64(PayoutAmountMinorTotal.WithLabelValues("USD"))
	RecordPayoutAmount("USD", 8000)
	after := testutil.ToFloat64(PayoutAmountMinorTotal.WithLabelValues("USD"))
	assert.Equal(t, before+8000, after)
}

func TestRecordWebhookEvent(t *testing.T) {
	before := testutil.ToFloat64(WebhookEventsTotal.WithLabelValues("stripe", "processed"))
	RecordWebhookEvent("stripe", "processed")
	after := testutil.ToFloat64(WebhookEventsTotal.WithLabelValues("stripe", "processed"))
	assert.Equal(t, before+1, after)
}
