package observability

import (
	"testing"
	"time"

	"github.com/danmuck/trictl/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("trictl-0", "GET", "/health", 200, 12*time.Millisecond)
	RecordTransfer("trictl-0", "sender", 10, 3*time.Millisecond, true)
	RecordTransfer("trictl-1", "receiver", 0, 3*time.Millisecond, false)
	RecordBarrier("trictl-0")
}
