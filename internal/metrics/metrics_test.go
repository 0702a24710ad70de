package metrics

import (
	"testing"
	"time"

	"github.com/iurnickita/profitsync/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSyncCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSync(reg)

	m.RunStarted()
	require.Equal(t, 1.0, testutil.ToFloat64(m.inProgress))

	m.PageFetched("orders")
	m.PageFetched("orders")
	m.RateLimited("payouts")
	m.RecordsSynced(KindOrder, 3)
	m.RecordsSynced(KindFeeLine, 0)

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	finish := start.Add(42 * time.Second)
	m.RunFinished(model.SyncRun{StartedAt: start, FinishedAt: &finish, Status: model.SyncStatusSuccess})

	require.Equal(t, 0.0, testutil.ToFloat64(m.inProgress))
	require.Equal(t, 2.0, testutil.ToFloat64(m.pagesFetched.WithLabelValues("orders")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited.WithLabelValues("payouts")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.recordsSynced.WithLabelValues(KindOrder)))
	require.Equal(t, 0.0, testutil.ToFloat64(m.recordsSynced.WithLabelValues(KindFeeLine)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("SUCCESS")))
	require.Equal(t, 1, testutil.CollectAndCount(m.runDuration))
}

func TestNilSyncIsNoop(t *testing.T) {
	var m *Sync
	require.NotPanics(t, func() {
		m.RunStarted()
		m.PageFetched("orders")
		m.RateLimited("orders")
		m.RecordsSynced(KindOrder, 1)
		m.RunFinished(model.SyncRun{Status: model.SyncStatusFailed})
	})
}
