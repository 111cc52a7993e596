// metrics — счётчики Prometheus для исходов операций аутентификации.
// Nil *Metrics допустим: все методы становятся no-op.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "auth"

// Metrics агрегирует счётчики сервиса.
type Metrics struct {
	logins   *prometheus.CounterVec
	refresh  *prometheus.CounterVec
	resets   *prometheus.CounterVec
	revoked  prometheus.Counter
	purged   *prometheus.CounterVec
	mailFail prometheus.Counter
}

// New создаёт и регистрирует счётчики в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Refresh token rotations by result (rotated, invalid, expired, revoked, replayed).",
		}, []string{"result"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_resets_total",
			Help:      "Password reset flow events by stage and result.",
		}, []string{"stage", "result"}),
		revoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_revoked_total",
			Help:      "Refresh tokens revoked by logout, password change or revoke-all.",
		}),
		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_purged_total",
			Help:      "Expired tokens removed by the janitor.",
		}, []string{"kind"}),
		mailFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mail_failures_total",
			Help:      "Failed outbound mail deliveries.",
		}),
	}

	reg.MustRegister(m.logins, m.refresh, m.resets, m.revoked, m.purged, m.mailFail)

	return m
}

// Login учитывает попытку входа.
func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

// Refresh учитывает исход ротации.
func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.refresh.WithLabelValues(result).Inc()
}

// Reset учитывает событие сброса пароля.
func (m *Metrics) Reset(stage, result string) {
	if m == nil {
		return
	}
	m.resets.WithLabelValues(stage, result).Inc()
}

// SessionsRevoked добавляет число отозванных сессий.
func (m *Metrics) SessionsRevoked(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.revoked.Add(float64(n))
}

// Purged добавляет число удалённых записей вида kind.
func (m *Metrics) Purged(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.purged.WithLabelValues(kind).Add(float64(n))
}

// MailFailed учитывает неудачную отправку письма.
func (m *Metrics) MailFailed() {
	if m == nil {
		return
	}
	m.mailFail.Inc()
}
