package login

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts flow outcomes. Labels never carry identifiers.
type Metrics struct {
	otpRequests     *prometheus.CounterVec
	otpVerification *prometheus.CounterVec
	logins          *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	deliveryFailed  *prometheus.CounterVec
}

// NewMetrics registers the counters on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		otpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fintrack", Subsystem: "auth", Name: "otp_requests_total",
			Help: "OTP issue attempts by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
		otpVerification: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fintrack", Subsystem: "auth", Name: "otp_verifications_total",
			Help: "OTP verification attempts by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fintrack", Subsystem: "auth", Name: "logins_total",
			Help: "Password login attempts by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fintrack", Subsystem: "auth", Name: "refreshes_total",
			Help: "Refresh token rotations by outcome.",
		}, []string{"outcome"}),
		deliveryFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fintrack", Subsystem: "auth", Name: "otp_delivery_failures_total",
			Help: "OTP deliveries that failed, by channel and purpose.",
		}, []string{"channel", "purpose"}),
	}
	if reg != nil {
		reg.MustRegister(m.otpRequests, m.otpVerification, m.logins, m.refreshes, m.deliveryFailed)
	}
	return m
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(KindOf(err))
}
