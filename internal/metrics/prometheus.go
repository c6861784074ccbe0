package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements the Collector interface using Prometheus metrics.
type PrometheusCollector struct {
	// Connection metrics
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge

	// Authentication metrics
	authAttemptsTotal *prometheus.CounterVec

	// POP3 command metrics
	commandsTotal *prometheus.CounterVec

	// SMTP command metrics
	smtpCommandsTotal *prometheus.CounterVec

	// Message metrics (POP3)
	messagesRetrievedTotal *prometheus.CounterVec
	messagesDeletedTotal   *prometheus.CounterVec
	messagesListedTotal    *prometheus.CounterVec
	messagesSizeBytes      prometheus.Histogram

	// Delivery metrics (SMTP)
	messagesDeliveredTotal prometheus.Counter
	deliveryFailuresTotal  *prometheus.CounterVec
	deliverySizeBytes      prometheus.Histogram
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridgemail_connections_total",
			Help: "Total number of connections opened, across both protocols.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridgemail_connections_active",
			Help: "Number of currently active connections, across both protocols.",
		}),

		authAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgemail_auth_attempts_total",
			Help: "Total number of POP3 authentication attempts.",
		}, []string{"mailbox", "result"}),

		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgemail_pop3_commands_total",
			Help: "Total number of POP3 commands processed.",
		}, []string{"command"}),

		smtpCommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgemail_smtp_commands_total",
			Help: "Total number of SMTP commands processed.",
		}, []string{"verb"}),

		messagesRetrievedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgemail_messages_retrieved_total",
			Help: "Total number of messages retrieved via RETR.",
		}, []string{"mailbox"}),
		messagesDeletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgemail_messages_deleted_total",
			Help: "Total number of messages marked for deletion via DELE.",
		}, []string{"mailbox"}),
		messagesListedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgemail_messages_listed_total",
			Help: "Total number of LIST operations.",
		}, []string{"mailbox"}),
		messagesSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridgemail_messages_retrieved_size_bytes",
			Help:    "Size of retrieved messages in bytes.",
			Buckets: []float64{256, 1024, 10240, 102400, 1048576, 10485760},
		}),

		messagesDeliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridgemail_messages_delivered_total",
			Help: "Total number of messages successfully delivered via SMTP DATA.",
		}),
		deliveryFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgemail_delivery_failures_total",
			Help: "Total number of failed SMTP deliveries.",
		}, []string{"reason"}),
		deliverySizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridgemail_delivered_size_bytes",
			Help:    "Size of delivered message bodies in bytes.",
			Buckets: []float64{256, 1024, 10240, 102400, 1048576, 10485760},
		}),
	}

	reg.MustRegister(
		c.connectionsTotal,
		c.connectionsActive,
		c.authAttemptsTotal,
		c.commandsTotal,
		c.smtpCommandsTotal,
		c.messagesRetrievedTotal,
		c.messagesDeletedTotal,
		c.messagesListedTotal,
		c.messagesSizeBytes,
		c.messagesDeliveredTotal,
		c.deliveryFailuresTotal,
		c.deliverySizeBytes,
	)

	return c
}

// ConnectionOpened increments the connection counter and active gauge.
func (c *PrometheusCollector) ConnectionOpened() {
	c.connectionsTotal.Inc()
	c.connectionsActive.Inc()
}

// ConnectionClosed decrements the active connections gauge.
func (c *PrometheusCollector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

// AuthAttempt increments the authentication attempts counter.
func (c *PrometheusCollector) AuthAttempt(mailbox string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.authAttemptsTotal.WithLabelValues(mailbox, result).Inc()
}

// CommandProcessed increments the POP3 command counter.
func (c *PrometheusCollector) CommandProcessed(command string) {
	c.commandsTotal.WithLabelValues(command).Inc()
}

// SMTPCommandProcessed increments the SMTP command counter.
func (c *PrometheusCollector) SMTPCommandProcessed(verb string) {
	c.smtpCommandsTotal.WithLabelValues(verb).Inc()
}

// MessageRetrieved increments the message retrieved counter and observes message size.
func (c *PrometheusCollector) MessageRetrieved(mailbox string, sizeBytes int64) {
	c.messagesRetrievedTotal.WithLabelValues(mailbox).Inc()
	c.messagesSizeBytes.Observe(float64(sizeBytes))
}

// MessageDeleted increments the message deleted counter.
func (c *PrometheusCollector) MessageDeleted(mailbox string) {
	c.messagesDeletedTotal.WithLabelValues(mailbox).Inc()
}

// MessageListed increments the message listed counter.
func (c *PrometheusCollector) MessageListed(mailbox string) {
	c.messagesListedTotal.WithLabelValues(mailbox).Inc()
}

// MessageDelivered increments the delivered-message counter and
// observes the delivered body size, once per successful delivery
// regardless of recipient count.
func (c *PrometheusCollector) MessageDelivered(recipients int, sizeBytes int64) {
	c.messagesDeliveredTotal.Inc()
	c.deliverySizeBytes.Observe(float64(sizeBytes))
}

// DeliveryFailed increments the delivery failure counter.
func (c *PrometheusCollector) DeliveryFailed(reason string) {
	c.deliveryFailuresTotal.WithLabelValues(reason).Inc()
}
