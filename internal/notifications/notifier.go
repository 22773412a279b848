// Package notifications sends customer email without blocking the caller.
package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/muzafey/storefront-backend/pkg/logger"
	"github.com/muzafey/storefront-backend/pkg/mailer"
)

const defaultSendTimeout = 15 * time.Second

// Notifier hands messages to a mailer on a background goroutine. Delivery failures are
// logged and never reach the caller.
type Notifier struct {
	sender  mailer.Sender
	logg    *logger.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewNotifier(sender mailer.Sender, logg *logger.Logger, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Notifier{sender: sender, logg: logg, timeout: timeout}
}

// Send returns immediately. The delivery outlives ctx cancellation but keeps its values,
// so request ids still show up in the logs.
func (n *Notifier) Send(ctx context.Context, msg mailer.Message) {
	if n == nil || n.sender == nil {
		return
	}
	if msg.To == "" {
		n.logg.Warn(ctx, "notification skipped: no recipient")
		return
	}

	detached := context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				n.logg.Warn(n.logg.WithField(detached, "panic", rec), "notification sender panicked")
			}
		}()

		sendCtx, cancel := context.WithTimeout(detached, n.timeout)
		defer cancel()

		if err := n.sender.Send(sendCtx, msg); err != nil {
			n.logg.Error(n.logg.WithField(detached, "subject", msg.Subject), "email delivery failed", err)
			return
		}
		n.logg.Debug(n.logg.WithField(detached, "subject", msg.Subject), "email delivered")
	}()
}

// Wait blocks until in-flight sends finish. Used on shutdown.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}
