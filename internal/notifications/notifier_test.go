package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muzafey/storefront-backend/pkg/db/models"
	"github.com/muzafey/storefront-backend/pkg/enums"
	"github.com/muzafey/storefront-backend/pkg/logger"
	"github.com/muzafey/storefront-backend/pkg/mailer"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []mailer.Message
	err   error
	block chan struct{}
}

func (r *recordingSender) Send(ctx context.Context, msg mailer.Message) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return r.err
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestNotifierSendDoesNotBlock(t *testing.T) {
	sender := &recordingSender{block: make(chan struct{})}
	n := NewNotifier(sender, logger.Nop(), time.Second)

	start := time.Now()
	n.Send(context.Background(), mailer.Message{To: "a@example.com", Subject: "s", Text: "t"})
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(sender.block)
	n.Wait()
	assert.Equal(t, 1, sender.count())
}

func TestNotifierSwallowsErrors(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	n := NewNotifier(sender, logger.Nop(), time.Second)

	n.Send(context.Background(), mailer.Message{To: "a@example.com", Subject: "s", Text: "t"})
	n.Wait()
	assert.Equal(t, 1, sender.count())
}

func TestNotifierSurvivesCallerCancellation(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender, logger.Nop(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.Send(ctx, mailer.Message{To: "a@example.com", Subject: "s", Text: "t"})
	n.Wait()
	assert.Equal(t, 1, sender.count())
}

func TestNotifierSkipsMissingRecipient(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender, logger.Nop(), time.Second)
	n.Send(context.Background(), mailer.Message{Subject: "s"})
	n.Wait()
	assert.Zero(t, sender.count())
}

func TestReminderTemplates(t *testing.T) {
	order := &models.Order{
		ID:            uuid.MustParse("6f1c2a9e-4a43-4c39-9d3f-0b1f4b8c2e11"),
		CustomerEmail: "amina@example.com",
		Status:        enums.OrderStatusPending,
		TotalPrice:    decimal.RequireFromString("2500"),
		FinalAmount:   decimal.RequireFromString("2250.5"),
	}

	assert.Equal(t, "Payment reminder sent for order 6f1c2a9e-4a43-4c39-9d3f-0b1f4b8c2e11 - Amount due: KES 2250.50", ReminderText(order))

	url := PayURL("https://muzafey.online", order)
	assert.Equal(t, "https://muzafey.online/pay?orderId=6f1c2a9e-4a43-4c39-9d3f-0b1f4b8c2e11", url)

	msg := PaymentReminder(order, url)
	require.Equal(t, "amina@example.com", msg.To)
	assert.Contains(t, msg.HTML, url)

	confirmation := OrderConfirmation(order)
	assert.Contains(t, confirmation.HTML, "KES 2250.50")
}
