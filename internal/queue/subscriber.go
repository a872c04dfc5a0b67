package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/auction-ingest/internal/metrics"
)

// ErrSubscriberClosed is returned by Subscribe after Shutdown.
var ErrSubscriberClosed = errors.New("subscriber is shut down")

// Subscriber runs polling loops against a Source. Messages from one read are
// handled one at a time, in order.
type Subscriber struct {
	src    Source
	logger *zap.Logger

	mu      sync.Mutex
	stops   []context.CancelFunc
	closing bool
	wg      sync.WaitGroup
}

// NewSubscriber builds a Subscriber over src.
func NewSubscriber(src Source, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{src: src, logger: logger.Named("subscriber")}
}

// Subscribe starts a polling loop for queue and returns immediately. The loop
// ends when ctx is canceled or Shutdown is called. Handlers run on a context
// detached from ctx so an in-flight job is never cut short by shutdown.
func (s *Subscriber) Subscribe(ctx context.Context, queue string, h Handler, opts Options) error {
	if h == nil {
		return fmt.Errorf("handler is required")
	}
	opts = opts.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return ErrSubscriberClosed
	}
	loopCtx, stop := context.WithCancel(ctx)
	s.stops = append(s.stops, stop)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(loopCtx, context.WithoutCancel(ctx), queue, h, opts)
	}()
	s.logger.Info("subscribed",
		zap.String("queue", queue),
		zap.Duration("poll_interval", opts.PollInterval),
		zap.Int("batch_size", opts.BatchSize),
		zap.Duration("visibility_timeout", opts.VisibilityTimeout),
	)
	return nil
}

func (s *Subscriber) loop(loopCtx, handlerCtx context.Context, queue string, h Handler, opts Options) {
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	for {
		s.poll(loopCtx, handlerCtx, queue, h, opts)
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Subscriber) poll(loopCtx, handlerCtx context.Context, queue string, h Handler, opts Options) {
	msgs, err := s.src.Read(loopCtx, queue, opts.VisibilityTimeout, opts.BatchSize)
	if err != nil {
		if loopCtx.Err() != nil {
			return
		}
		metrics.ObservePollError(queue)
		s.logger.Error("poll failed", zap.String("queue", queue), zap.Error(err))
		return
	}
	for _, msg := range msgs {
		if loopCtx.Err() != nil {
			// Unhandled messages resurface after their visibility timeout.
			return
		}
		s.handle(handlerCtx, queue, h, msg)
	}
}

func (s *Subscriber) handle(ctx context.Context, queue string, h Handler, msg Message) {
	logger := s.logger.With(zap.String("queue", queue), zap.Int64("msg_id", msg.ID), zap.Int64("read_ct", msg.ReadCount))
	result, err := s.invoke(ctx, h, msg)
	if err != nil {
		logger.Error("handler failed", zap.Stringer("result", result), zap.Error(err))
	}
	metrics.ObserveQueueMessage(queue, result.String())
	if result != Ack {
		logger.Warn("message left for redelivery")
		return
	}
	deleted, err := s.src.Delete(ctx, queue, msg.ID)
	if err != nil {
		logger.Error("delete message failed", zap.Error(err))
		return
	}
	if !deleted {
		logger.Warn("message already deleted")
	}
}

// invoke runs h, turning a panic into Retry so one bad job cannot stop polling.
func (s *Subscriber) invoke(ctx context.Context, h Handler, msg Message) (result Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result, err = Retry, fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, msg)
}

// Shutdown stops all polling loops and waits for in-flight handlers, bounded
// by ctx.
func (s *Subscriber) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	for _, stop := range s.stops {
		stop()
	}
	s.stops = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("subscriber drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("await in-flight handlers: %w", ctx.Err())
	}
}
