package events_test

import (
	"context"
	"errors"
	"testing"

	"github.com/X-ChenD-Hai/xclogger-server/internal/events"
	eventmocks "github.com/X-ChenD-Hai/xclogger-server/internal/mocks/events"
	"github.com/X-ChenD-Hai/xclogger-server/pkg/models"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func sampleRecord() *models.Record {
	return &models.Record{
		Role:      "worker",
		Label:     "boot",
		File:      "main.cpp",
		Function:  "main",
		Time:      1700000000,
		ProcessID: 42,
		ThreadID:  7,
		Line:      12,
		Level:     3,
		Messages:  []string{"hello", "world"},
	}
}

func TestNewMessageReceived(t *testing.T) {
	ev := events.NewMessageReceived(9, sampleRecord(), 0xabc)

	assert.Equal(t, events.TypeMessageReceived, ev.Type)
	assert.Equal(t, uint64(9), ev.ID)
	assert.Equal(t, "0000000000000abc", ev.Fingerprint)
	assert.NotEmpty(t, ev.EventID)
	assert.False(t, ev.ReceivedAt.IsZero())

	other := events.NewMessageReceived(9, sampleRecord(), 0xabc)
	assert.NotEqual(t, ev.EventID, other.EventID)
}

func TestEventMarshalFlattensRecord(t *testing.T) {
	ev := events.NewMessageReceived(3, sampleRecord(), 1)
	data, err := ev.Marshal()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "message-received", m["type"])
	assert.Equal(t, float64(3), m["id"])
	assert.Equal(t, "worker", m["role"])
	assert.Equal(t, "main.cpp", m["file"])
	assert.Equal(t, []any{"hello", "world"}, m["messages"])
	assert.NotContains(t, m, "Record")
}

func TestMultiPublishesToAll(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ev := events.NewMessageReceived(1, sampleRecord(), 1)
	a := eventmocks.NewMockPublisher(ctrl)
	b := eventmocks.NewMockPublisher(ctrl)
	a.EXPECT().Publish(gomock.Any(), ev).Return(nil)
	b.EXPECT().Publish(gomock.Any(), ev).Return(nil)

	require.NoError(t, events.Multi{a, b}.Publish(context.Background(), ev))
}

func TestMultiReturnsError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	boom := errors.New("broker down")
	a := eventmocks.NewMockPublisher(ctrl)
	b := eventmocks.NewMockPublisher(ctrl)
	a.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(boom)
	b.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	err := events.Multi{a, b}.Publish(context.Background(), events.Event{})
	assert.ErrorIs(t, err, boom)
}

func TestMultiCloseJoinsErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	e1 := errors.New("first")
	e2 := errors.New("second")
	a := eventmocks.NewMockPublisher(ctrl)
	b := eventmocks.NewMockPublisher(ctrl)
	c := eventmocks.NewMockPublisher(ctrl)
	a.EXPECT().Close().Return(e1)
	b.EXPECT().Close().Return(nil)
	c.EXPECT().Close().Return(e2)

	err := events.Multi{a, b, c}.Close()
	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)
}

func TestNop(t *testing.T) {
	var p events.Publisher = events.Nop{}
	assert.NoError(t, p.Publish(context.Background(), events.Event{}))
	assert.NoError(t, p.Close())
}
