package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	ReportsReceived      *prometheus.CounterVec
	ReportDecodeFailures *prometheus.CounterVec
	SetupsTriggered      prometheus.Counter
	PublishFailures      *prometheus.CounterVec
	CorrelationOutcomes  *prometheus.CounterVec
	CorrelationSeconds   *prometheus.HistogramVec
	TankLevel            *prometheus.GaugeVec
	SwitchState          *prometheus.GaugeVec
	DeviceOnline         *prometheus.GaugeVec
	RequestDuration      *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReportsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tanklink_reports_received_total",
				Help: "Inbound device reports by kind.",
			},
			[]string{"kind"}),
		ReportDecodeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tanklink_report_decode_failures_total",
				Help: "Inbound reports dropped because the payload would not decode.",
			},
			[]string{"kind"}),
		SetupsTriggered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tanklink_setups_triggered_total",
				Help: "Automation setups whose condition matched a state change.",
			}),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tanklink_publish_failures_total",
				Help: "Outbound commands the broker did not accept, by command kind.",
			},
			[]string{"command"}),
		CorrelationOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tanklink_correlation_outcomes_total",
				Help: "Response waits ending in a hit or a timeout, by report kind.",
			},
			[]string{"kind", "outcome"}),
		CorrelationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tanklink_correlation_wait_seconds",
				Help:    "Time spent waiting for a device response.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 15},
			},
			[]string{"kind"}),
		TankLevel: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tanklink_tank_level_percent",
				Help: "Last reported tank fill level.",
			},
			[]string{"device_id"}),
		SwitchState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tanklink_switch_state",
				Help: "Last reported switch state, 1 for on.",
			},
			[]string{"device_id", "switch_no"}),
		DeviceOnline: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tanklink_device_online",
				Help: "Device liveness as last observed, 1 for online.",
			},
			[]string{"device_id"}),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tanklink_http_request_duration_seconds",
				Help:    "HTTP request latency by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "code"}),
	}
	reg.MustRegister(m.ReportsReceived)
	reg.MustRegister(m.ReportDecodeFailures)
	reg.MustRegister(m.SetupsTriggered)
	reg.MustRegister(m.PublishFailures)
	reg.MustRegister(m.CorrelationOutcomes)
	reg.MustRegister(m.CorrelationSeconds)
	reg.MustRegister(m.TankLevel)
	reg.MustRegister(m.SwitchState)
	reg.MustRegister(m.DeviceOnline)
	reg.MustRegister(m.RequestDuration)
	return m
}
