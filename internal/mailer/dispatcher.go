package mailer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/revpass/passkeeper/internal/logging"
)

// ErrDispatcherClosed is returned by Enqueue after Close.
var ErrDispatcherClosed = errors.New("mail dispatcher closed")

// ErrQueueFull is returned by Enqueue when the buffer has no room.
var ErrQueueFull = errors.New("mail queue full")

// Dispatcher sends messages on a fixed pool of goroutines. Failures are
// logged and never reach the code that enqueued the message.
type Dispatcher struct {
	sender      Sender
	logger      logging.Logger
	queue       chan Message
	sendTimeout time.Duration

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts workers goroutines reading from a queue of queueSize.
func NewDispatcher(sender Sender, logger logging.Logger, workers, queueSize int, sendTimeout time.Duration) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}

	d := &Dispatcher{
		sender:      sender,
		logger:      logger.With("module", "mailer"),
		queue:       make(chan Message, queueSize),
		sendTimeout: sendTimeout,
	}

	d.wg.Add(workers)
	for range workers {
		go d.worker()
	}
	return d
}

// Enqueue hands msg to a worker without waiting for delivery.
func (d *Dispatcher) Enqueue(ctx context.Context, msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- msg:
		return nil
	default:
		d.logger.Warn(ctx, "mail queue full, dropping message", "tag", msg.Tag)
		return ErrQueueFull
	}
}

// Close stops accepting messages and waits until the queue drains.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for msg := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		if err := d.sender.Send(ctx, msg); err != nil {
			d.logger.Error(ctx, "failed to send email", "tag", msg.Tag, "error", err)
		} else {
			d.logger.Debug(ctx, "email sent", "tag", msg.Tag)
		}
		cancel()
	}
}
