package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"docket/internal/config"
	"docket/internal/events"
	"docket/internal/logging"
)

// Observer bridges the event bus to the notification service. Delivery
// failures are logged at debug level and never block or fail the pipeline.
type Observer struct {
	svc    Service
	bus    events.Bus
	logger *slog.Logger
	topics []events.Topic

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	sub     *events.Subscription
	wg      sync.WaitGroup
}

// NewObserver selects the bus topics to watch from the notification toggles.
func NewObserver(cfg *config.Config, svc Service, bus events.Bus, logger *slog.Logger) *Observer {
	if svc == nil {
		svc = noopService{}
	}
	if bus == nil {
		bus = events.NewNopBus()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	topics := make([]events.Topic, 0, 4)
	if cfg.Notifications.PipelineCompleted {
		topics = append(topics, events.TopicPipelineCompleted, events.TopicPipelineFailed)
	}
	if cfg.Notifications.StageFailures {
		topics = append(topics, events.TopicStageFailed)
	}
	if cfg.Notifications.Alerts {
		topics = append(topics, events.TopicAlertRaised)
	}

	return &Observer{
		svc:    svc,
		bus:    bus,
		logger: logger.With(logging.String(logging.FieldComponent, "notify-observer")),
		topics: topics,
	}
}

// Start subscribes and begins forwarding events. A Start with every toggle
// disabled succeeds and does nothing.
func (o *Observer) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return errors.New("notify observer already running")
	}
	if len(o.topics) == 0 {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.sub = o.bus.Subscribe(64, o.topics...)
	o.running = true
	o.wg.Add(1)
	go o.run(runCtx, o.sub)
	return nil
}

// Stop halts forwarding and waits for the drain goroutine to exit.
func (o *Observer) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel := o.cancel
	sub := o.sub
	o.cancel = nil
	o.sub = nil
	o.mu.Unlock()

	sub.Close()
	cancel()
	o.wg.Wait()
}

func (o *Observer) run(ctx context.Context, sub *events.Subscription) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			if err := o.svc.Publish(ctx, evt.Topic, evt.Payload); err != nil {
				o.logger.Debug("notification delivery failed",
					logging.String("topic", string(evt.Topic)),
					logging.Error(err))
			}
		}
	}
}
