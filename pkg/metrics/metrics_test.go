package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/wingfox/pkg/metrics"
)

func TestRecordRound(t *testing.T) {
	before := testutil.ToFloat64(metrics.ConversationRoundsTotal.WithLabelValues("committed"))
	metrics.RecordRound("committed")
	metrics.RecordRound("committed")
	after := testutil.ToFloat64(metrics.ConversationRoundsTotal.WithLabelValues("committed"))
	assert.Equal(t, before+2, after)
}

func TestRecordDLQEntry(t *testing.T) {
	before := testutil.ToFloat64(metrics.DLQEntriesTotal.WithLabelValues("invalid_message"))
	metrics.RecordDLQEntry("invalid_message")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.DLQEntriesTotal.WithLabelValues("invalid_message")))
}
