package reporting

import (
	"context"
	"log/slog"
)

// Publisher is the subset of messaging.RabbitMQ used by AMQPSink
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, payload any) error
}

// AMQPSink publishes each violation under "csp.<directive>"
type AMQPSink struct {
	pub    Publisher
	prefix string
}

func NewAMQPSink(pub Publisher, routingPrefix string) *AMQPSink {
	return &AMQPSink{pub: pub, prefix: routingPrefix}
}

func (s *AMQPSink) Publish(ctx context.Context, v Violation) error {
	directive := v.EffectiveDirective
	if directive == "" {
		directive = "unknown"
	}
	return s.pub.PublishJSON(ctx, s.prefix+directive, v)
}

// MultiSink fans a violation out to every sink. A failing sink is logged and
// does not stop delivery to the others; the first error is returned.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, v Violation) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, v); err != nil {
			slog.ErrorContext(ctx, "csp report sink failed", slog.Any("error", err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}
