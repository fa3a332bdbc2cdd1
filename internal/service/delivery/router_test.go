package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketnotify/internal/model"
)

type stubChannel struct {
	name  model.Channel
	send  func(ctx context.Context, n *model.Notification) error
	calls int
}

func (s *stubChannel) Name() model.Channel { return s.name }

func (s *stubChannel) Send(ctx context.Context, n *model.Notification) error {
	s.calls++
	if s.send == nil {
		return nil
	}
	return s.send(ctx, n)
}

type MockStatusRecorder struct {
	mock.Mock
}

func (m *MockStatusRecorder) UpdateDeliveryChannels(ctx context.Context, id int64, statuses []model.DeliveryStatus) error {
	args := m.Called(ctx, id, statuses)
	return args.Error(0)
}

func testNotification() *model.Notification {
	return &model.Notification{
		ID:       42,
		UserID:   "u1",
		Title:    "Toys price up 8%",
		Message:  "Average price moved from 10.00 to 10.80",
		Category: model.CategoryMarketTrend,
		Priority: model.PriorityHigh,
	}
}

func TestRouter_Deliver(t *testing.T) {
	inApp := &stubChannel{name: model.ChannelInApp}
	email := &stubChannel{name: model.ChannelEmail, send: func(context.Context, *model.Notification) error {
		return errors.New("mailbox full")
	}}

	expected := []model.DeliveryStatus{
		{Channel: model.ChannelInApp, Status: model.DeliveryDelivered},
		{Channel: model.ChannelEmail, Status: model.DeliveryFailed, Error: "mailbox full"},
		{Channel: model.ChannelPush, Status: model.DeliverySkipped, Error: ErrChannelNotConfigured.Error()},
	}
	recorder := new(MockStatusRecorder)
	recorder.On("UpdateDeliveryChannels", mock.Anything, int64(42), expected).Return(nil)

	router := NewRouter(recorder, []Channel{inApp, email})
	statuses := router.Deliver(context.Background(), testNotification(),
		[]model.Channel{model.ChannelInApp, model.ChannelEmail, model.ChannelPush, model.ChannelInApp})

	assert.Equal(t, expected, statuses)
	assert.Equal(t, 1, inApp.calls)
	assert.Equal(t, 1, email.calls)
	recorder.AssertExpectations(t)
}

func TestRouter_NoChannelsNothingRecorded(t *testing.T) {
	recorder := new(MockStatusRecorder)
	router := NewRouter(recorder, nil)

	statuses := router.Deliver(context.Background(), testNotification(), nil)
	assert.Empty(t, statuses)
	recorder.AssertNotCalled(t, "UpdateDeliveryChannels", mock.Anything, mock.Anything, mock.Anything)
}

func TestRouter_RecorderFailureIsNotFatal(t *testing.T) {
	recorder := new(MockStatusRecorder)
	recorder.On("UpdateDeliveryChannels", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db down"))

	router := NewRouter(recorder, []Channel{&stubChannel{name: model.ChannelInApp}})
	statuses := router.Deliver(context.Background(), testNotification(), []model.Channel{model.ChannelInApp})

	require.Len(t, statuses, 1)
	assert.Equal(t, model.DeliveryDelivered, statuses[0].Status)
}

func TestRouter_Timeout(t *testing.T) {
	slow := &stubChannel{name: model.ChannelPush, send: func(ctx context.Context, _ *model.Notification) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	router := NewRouter(nil, []Channel{slow}, WithTimeout(20*time.Millisecond))

	start := time.Now()
	statuses := router.Deliver(context.Background(), testNotification(), []model.Channel{model.ChannelPush})
	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, statuses, 1)
	assert.Equal(t, model.DeliveryFailed, statuses[0].Status)
	assert.Contains(t, statuses[0].Error, "deadline exceeded")
}

func TestRouter_RateLimited(t *testing.T) {
	email := &stubChannel{name: model.ChannelEmail}
	router := NewRouter(nil, []Channel{email},
		WithTimeout(20*time.Millisecond),
		WithRateLimit(model.ChannelEmail, 0.01, 1),
	)

	first := router.Deliver(context.Background(), testNotification(), []model.Channel{model.ChannelEmail})
	second := router.Deliver(context.Background(), testNotification(), []model.Channel{model.ChannelEmail})

	assert.Equal(t, model.DeliveryDelivered, first[0].Status)
	assert.Equal(t, model.DeliveryFailed, second[0].Status)
	assert.Contains(t, second[0].Error, "rate limited")
	assert.Equal(t, 1, email.calls)
}

func TestRouter_CancelledContextStillRecords(t *testing.T) {
	recorder := new(MockStatusRecorder)
	recorder.On("UpdateDeliveryChannels", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), int64(42), mock.Anything).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := &stubChannel{name: model.ChannelInApp, send: func(ctx context.Context, _ *model.Notification) error {
		return ctx.Err()
	}}
	statuses := NewRouter(recorder, []Channel{ch}).Deliver(ctx, testNotification(), []model.Channel{model.ChannelInApp})

	assert.Equal(t, model.DeliveryFailed, statuses[0].Status)
	recorder.AssertExpectations(t)
}

func TestRouter_Channels(t *testing.T) {
	router := NewRouter(nil, []Channel{&stubChannel{name: model.ChannelInApp}, &stubChannel{name: model.ChannelPush}})
	assert.ElementsMatch(t, []model.Channel{model.ChannelInApp, model.ChannelPush}, router.Channels())
}
