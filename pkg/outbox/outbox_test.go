package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/muzafey/storefront-backend/pkg/db/dbtest"
	"github.com/muzafey/storefront-backend/pkg/db/models"
	"github.com/muzafey/storefront-backend/pkg/enums"
	"github.com/muzafey/storefront-backend/pkg/logger"
)

func TestEmitStoresEnvelopeInTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, logger.Nop())
	orderID := uuid.New()
	actor := &ActorRef{UserID: uuid.New(), Role: "admin"}

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         actor,
			Data:          map[string]string{"order_id": orderID.String()},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventOrderPaid, rows[0].EventType)

	env, err := DecodeEnvelope(rows[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Version)
	assert.NotEmpty(t, env.EventID)
	require.NotNil(t, env.Actor)
	assert.Equal(t, actor.UserID, env.Actor.UserID)
	assert.JSONEq(t, `{"order_id":"`+orderID.String()+`"}`, string(env.Data))

	msg := MessageFor(rows[0])
	assert.Equal(t, orderID.String(), msg.Key)
	assert.Equal(t, env.EventID, msg.Attributes["event_id"])
	assert.Equal(t, "order.paid", msg.Attributes["event_type"])
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), logger.Nop())

	_ = conn.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
		}))
		return errors.New("abort")
	})

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitRejectsUnknownEventType(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), logger.Nop())
	err := svc.Emit(context.Background(), conn, DomainEvent{EventType: "order.teleported", AggregateType: enums.AggregateOrder})
	assert.Error(t, err)
	assert.Error(t, svc.Emit(context.Background(), nil, DomainEvent{}))
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, logger.Nop())

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Emit(context.Background(), conn, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
		}))
	}

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 2)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.NoError(t, repo.MarkPublishedTx(conn, rows[0].ID))
	require.NoError(t, repo.MarkFailedTx(conn, rows[1].ID, errors.New("broker down")))
	require.NoError(t, repo.MarkFailedTx(conn, rows[1].ID, errors.New("broker down")))

	pending, err := repo.FetchUnpublishedForPublish(conn, 10, 2)
	require.NoError(t, err)
	require.Len(t, pending, 1, "published and exhausted rows are skipped")
	assert.Equal(t, rows[2].ID, pending[0].ID)

	var failed models.OutboxEvent
	require.NoError(t, conn.First(&failed, "id = ?", rows[1].ID).Error)
	assert.Equal(t, 2, failed.AttemptCount)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "broker down", *failed.LastError)

	deleted, err := repo.DeletePublishedBefore(conn, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
