package observability

import (
	"testing"
	"time"

	"github.com/danmuck/wsframe/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("node-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordReceive()
	RecordDecodeError()
	RecordAdmissionRejected()
}

func TestSendOutcomesAreCountedByResult(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(messagesSent.WithLabelValues(SendCanceled))
	RecordSend(SendCanceled, 0)
	RecordSend(SendCanceled, 0)
	after := testutil.ToFloat64(messagesSent.WithLabelValues(SendCanceled))
	if after-before != 2 {
		t.Fatalf("expected two canceled sends, got delta=%v", after-before)
	}
}

func TestQueuedBytesGaugeMovesByDelta(t *testing.T) {
	testlog.Start(t)
	base := testutil.ToFloat64(queuedBytes)
	AddQueuedBytes(128)
	AddQueuedBytes(-28)
	if got := testutil.ToFloat64(queuedBytes) - base; got != 100 {
		t.Fatalf("unexpected gauge delta: %v", got)
	}
	AddQueuedBytes(-100)
}

func TestConnectionGauge(t *testing.T) {
	testlog.Start(t)
	base := testutil.ToFloat64(connectionsActive)
	RecordConnectionOpened()
	RecordConnectionOpened()
	RecordConnectionClosed()
	if got := testutil.ToFloat64(connectionsActive) - base; got != 1 {
		t.Fatalf("unexpected active delta: %v", got)
	}
	RecordConnectionClosed()
}
