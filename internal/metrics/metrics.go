// Package metrics exposes Prometheus counters for decoding and delivery.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zhangyunhao116/zmail/internal/mail"
	"github.com/zhangyunhao116/zmail/internal/parser"
)

var (
	metricDecode = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zmail_decode_total",
			Help: "Number of messages decoded, by result.",
		},
		[]string{"result"}, // ok, error, toodeep
	)
	metricWarning = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zmail_decode_warning_total",
			Help: "Number of soft decode failures, by kind.",
		},
		[]string{"kind"},
	)
	metricAttachment = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zmail_attachment_total",
			Help: "Number of attachments extracted from decoded messages.",
		},
	)
	metricDelivery = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zmail_delivery_total",
			Help: "Number of messages handed to a sink, by sink and result.",
		},
		[]string{"sink", "result"},
	)
)

// ObserveDecode records the outcome of one Decode call. m may be nil when
// err is set.
func ObserveDecode(m *mail.ParsedMail, err error) {
	switch {
	case errors.Is(err, parser.ErrTooDeep):
		metricDecode.WithLabelValues("toodeep").Inc()
		return
	case err != nil:
		metricDecode.WithLabelValues("error").Inc()
		return
	}
	metricDecode.WithLabelValues("ok").Inc()
	for _, w := range m.Warnings {
		metricWarning.WithLabelValues(w.Kind).Inc()
	}
	metricAttachment.Add(float64(len(m.Attachments)))
}

// ObserveDelivery records the outcome of handing a message to sink.
func ObserveDelivery(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metricDelivery.WithLabelValues(sink, result).Inc()
}
