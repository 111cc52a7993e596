package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())

	m.Login("ok")
	m.Login("ok")
	m.Refresh("replayed")
	m.Reset("request", "sent")
	m.SessionsRevoked(3)
	m.SessionsRevoked(0)
	m.Purged("refresh", 5)
	m.MailFailed()

	require.Equal(t, 2.0, testutil.ToFloat64(m.logins.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.refresh.WithLabelValues("replayed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.resets.WithLabelValues("request", "sent")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.revoked))
	require.Equal(t, 5.0, testutil.ToFloat64(m.purged.WithLabelValues("refresh")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.mailFail))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	require.NotPanics(t, func() {
		m.Login("ok")
		m.Refresh("rotated")
		m.Reset("consume", "ok")
		m.SessionsRevoked(1)
		m.Purged("reset", 1)
		m.MailFailed()
	})
}
