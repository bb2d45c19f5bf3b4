package audit

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/turtacn/lct/internal/config"
	"github.com/turtacn/lct/internal/domain/models"
	"github.com/turtacn/lct/internal/domain/service/mocks"
	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/errors"
	"github.com/turtacn/lct/pkg/logger"
)

func sampleEvent() *models.AuditEvent {
	ev := models.NewAuditEvent(constants.AuditEventKeyRotated, "a1b2c3d4e5f60718", true, "key rotated")
	ev.Timestamp = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return ev.WithMetadata("new_version", 2).WithMetadata("reason", "scheduled")
}

func TestSigner_SignVerify(t *testing.T) {
	signer, err := NewSigner("s3cret")
	require.NoError(t, err)

	ev := sampleEvent()
	sig, err := signer.Sign(ev)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	ev.Signature = sig
	assert.True(t, signer.Verify(ev))

	again, err := signer.Sign(ev)
	require.NoError(t, err)
	assert.Equal(t, sig, again, "the signature field is not covered")

	ev.Message = "key revoked"
	assert.False(t, signer.Verify(ev))

	other, err := NewSigner("different")
	require.NoError(t, err)
	ev.Message = "key rotated"
	assert.False(t, other.Verify(ev))

	_, err = NewSigner("")
	assert.True(t, errors.IsCode(err, constants.ErrCodeInvalidArgument))
}

func TestSigningSink(t *testing.T) {
	signer, err := NewSigner("s3cret")
	require.NoError(t, err)
	next := &mocks.MockAuditService{}
	next.On("LogEvent", mock.Anything, mock.MatchedBy(func(ev *models.AuditEvent) bool {
		return signer.Verify(ev)
	})).Return(nil).Once()

	require.NoError(t, NewSigningSink(signer, next).LogEvent(context.Background(), sampleEvent()))
	next.AssertExpectations(t)
}

func TestFanOut_DeliversToAll(t *testing.T) {
	ctx := context.Background()
	ev := sampleEvent()

	failing := &mocks.MockAuditService{}
	failing.On("LogEvent", ctx, ev).Return(stderrors.New("broker down")).Once()
	ok := &mocks.MockAuditService{}
	ok.On("LogEvent", ctx, ev).Return(nil).Once()

	f := NewFanOut(failing, nil, ok)
	assert.Equal(t, 2, f.Len())

	err := f.LogEvent(ctx, ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	failing.AssertExpectations(t)
	ok.AssertExpectations(t)

	assert.NoError(t, NewFanOut().LogEvent(ctx, ev))
}

func TestLogSink(t *testing.T) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	core, logs := observer.New(level)
	sink := NewLogSink(logger.NewZapLogger(zap.New(core), level))

	require.NoError(t, sink.LogEvent(context.Background(), sampleEvent().WithActor("ops")))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "key rotated", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "key.rotated", fields["event_type"])
	assert.Equal(t, "ops", fields["actor_id"])
	assert.Equal(t, "scheduled", fields["meta.reason"])
}

func TestGormAuditService(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "audit.db")), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)

	svc, err := NewGormAuditService(ctx, db)
	require.NoError(t, err)

	first := sampleEvent()
	second := sampleEvent()
	second.Timestamp = first.Timestamp.Add(time.Hour)
	second.Signature = "sig"
	require.NoError(t, svc.LogEvent(ctx, first))
	require.NoError(t, svc.LogEvent(ctx, second))
	require.NoError(t, svc.LogEvent(ctx, models.NewAuditEvent(constants.AuditEventKeyRevoked, "other", true, "x")))

	events, err := svc.ListByEntity(ctx, "a1b2c3d4e5f60718", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, second.EventID, events[0].EventID)
	assert.Equal(t, "sig", events[0].Signature)
	assert.Equal(t, "scheduled", events[1].Metadata["reason"])
	assert.Equal(t, float64(2), events[1].Metadata["new_version"])

	// Event ids are unique.
	assert.Error(t, svc.LogEvent(ctx, first))
}

type stubWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *stubWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaProducer(t *testing.T) {
	ctx := context.Background()
	w := &stubWriter{}
	p := newKafkaProducer(w, logger.NewNoopLogger())

	require.NoError(t, p.LogEvent(ctx, sampleEvent()))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "a1b2c3d4e5f60718", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, "key.rotated", string(msg.Headers[0].Value))
	assert.Contains(t, string(msg.Value), `"event_type":"key.rotated"`)

	w.err = stderrors.New("no leader")
	err := p.LogEvent(ctx, sampleEvent())
	assert.True(t, errors.IsCode(err, constants.ErrCodePersistenceFailure))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaProducer_Validation(t *testing.T) {
	_, err := NewKafkaProducer(&config.KafkaConfig{Topic: "audit"}, logger.NewNoopLogger())
	assert.Error(t, err)

	p, err := NewKafkaProducer(&config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "audit"}, logger.NewNoopLogger())
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
