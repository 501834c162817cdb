package cache

import (
	"context"
	stderrors "errors"

	"github.com/tiercache/tiercache/pkg/errors"
)

// QueueOfflineOperation executes op immediately (fire-and-forget) when the
// client reports connectivity, and otherwise appends it to the offline
// queue for later replay. The queue lives as long as the service instance
// and is not persisted across restarts.
func (s *Service) QueueOfflineOperation(op func(ctx context.Context) error) {
	if s.Online() {
		go func() {
			if err := op(context.Background()); err != nil {
				s.log.Warn("immediate operation failed", "error", err)
			}
		}()
		return
	}

	s.queueMu.Lock()
	s.queue = append(s.queue, op)
	depth := len(s.queue)
	s.queueMu.Unlock()

	s.log.Info("operation queued while offline", "queue_depth", depth)
	s.recordQueueDepth(depth)
}

// DrainOfflineQueue replays queued operations in FIFO order. The host is
// responsible for calling it when connectivity returns; the service does
// not listen for reconnection itself. Each operation is retried with
// backoff; operations that still fail with a retryable error are re-queued
// for the next drain, as is everything not yet attempted when ctx is
// canceled.
func (s *Service) DrainOfflineQueue(ctx context.Context) error {
	s.queueMu.Lock()
	ops := s.queue
	s.queue = nil
	s.queueMu.Unlock()

	if len(ops) == 0 {
		return nil
	}
	s.log.Info("draining offline queue", "operations", len(ops))

	var errs []error
	for i, op := range ops {
		if ctx.Err() != nil {
			s.requeue(ops[i:])
			errs = append(errs, ctx.Err())
			break
		}

		if err := s.retryer.Do(ctx, op); err != nil {
			if errors.IsRetryable(err) {
				s.requeue(ops[i : i+1])
			}
			errs = append(errs, err)
		}
	}

	s.recordQueueDepth(s.OfflineQueueLen())
	return stderrors.Join(errs...)
}

// OfflineQueueLen returns the number of queued operations.
func (s *Service) OfflineQueueLen() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return len(s.queue)
}

func (s *Service) requeue(ops []func(ctx context.Context) error) {
	s.queueMu.Lock()
	s.queue = append(s.queue, ops...)
	s.queueMu.Unlock()
}

func (s *Service) recordQueueDepth(depth int) {
	if s.rec != nil {
		s.rec.QueueDepth(depth)
	}
}
