package alerting

import (
	"context"
	"fmt"

	"github.com/chrisdamba/trafficdatasim/internal/models"
	"go.uber.org/zap"
)

// Dispatcher delivers an alert to every sink and e-mails critical ones. A failing sink
// is logged and skipped so the remaining sinks still run.
type Dispatcher struct {
	sinks    []Sink
	notifier Notifier
	logger   *zap.Logger
}

func NewDispatcher(logger *zap.Logger, notifier Notifier, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Dispatcher{sinks: sinks, notifier: notifier, logger: logger}
}

// AddSink registers another sink after construction, e.g. once a database connects.
func (d *Dispatcher) AddSink(sink Sink) {
	d.sinks = append(d.sinks, sink)
}

func (d *Dispatcher) SetNotifier(notifier Notifier) {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	d.notifier = notifier
}

// Dispatch returns the number of sinks that failed.
func (d *Dispatcher) Dispatch(ctx context.Context, alert models.AlertRecord) int {
	failed := 0
	for _, sink := range d.sinks {
		if err := sink.Save(ctx, alert); err != nil {
			failed++
			d.logger.Warn("alert sink failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.String("alertId", alert.ID),
				zap.Error(err),
			)
		}
	}

	if alert.IsCritical() {
		subject, body := RenderMessage(alert)
		if err := d.notifier.Notify(ctx, subject, body); err != nil {
			failed++
			d.logger.Warn("alert notification failed",
				zap.String("location", alert.LocationName),
				zap.Error(err),
			)
		}
	}
	return failed
}
