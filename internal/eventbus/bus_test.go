package eventbus

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case event := <-sub.Events():
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestSubscribeEchoesCurrentStatus(t *testing.T) {
	bus := New(zerolog.Nop())
	bus.SetStatus("run1", "running")

	sub := bus.Subscribe("run1")
	defer sub.Close()

	echo := recvEvent(t, sub)
	require.Equal(t, EventRunStatus, echo.Event)
	require.Equal(t, "run1", echo.RunID)
	require.Equal(t, "running", echo.Status)
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := New(zerolog.Nop())

	first := bus.Subscribe("run1")
	defer first.Close()
	second := bus.Subscribe("run1")
	defer second.Close()

	// drain the status echoes
	recvEvent(t, first)
	recvEvent(t, second)

	bus.Publish(Event{Event: EventModelStarted, RunID: "run1", ProblemID: "p1", ModelID: "m1"})

	for _, sub := range []*Subscription{first, second} {
		event := recvEvent(t, sub)
		require.Equal(t, EventModelStarted, event.Event)
		require.Equal(t, "p1", event.ProblemID)
	}
}

func TestPublishDoesNotCrossRuns(t *testing.T) {
	bus := New(zerolog.Nop())

	sub := bus.Subscribe("run2")
	defer sub.Close()
	recvEvent(t, sub)

	bus.Publish(Event{Event: EventModelStarted, RunID: "run1"})

	select {
	case event := <-sub.Events():
		t.Fatalf("unexpected event for other run: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNoHistoryForLateSubscribers(t *testing.T) {
	bus := New(zerolog.Nop())

	bus.Publish(Event{Event: EventRunStatus, RunID: "run1", Status: "running"})
	bus.Publish(Event{Event: EventModelStarted, RunID: "run1", ProblemID: "p1"})

	sub := bus.Subscribe("run1")
	defer sub.Close()

	echo := recvEvent(t, sub)
	require.Equal(t, EventRunStatus, echo.Event)
	require.Equal(t, "running", echo.Status)

	select {
	case event := <-sub.Events():
		t.Fatalf("late subscriber received replayed event: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsButOthersDeliver(t *testing.T) {
	bus := New(zerolog.Nop())

	slow := bus.Subscribe("run1")
	defer slow.Close()
	fast := bus.Subscribe("run1")
	defer fast.Close()

	recvEvent(t, fast)

	// the slow subscriber never reads: its mailbox holds the echo plus
	// mailboxSize-1 more events, everything past that is dropped.
	total := mailboxSize + 10
	for i := 0; i < total; i++ {
		bus.Publish(Event{Event: EventCandidateToken, RunID: "run1", Delta: "x"})
		recvEvent(t, fast)
	}

	require.Len(t, slow.ch, mailboxSize)
}

func TestOrderPreservedPerSubscriber(t *testing.T) {
	bus := New(zerolog.Nop())

	sub := bus.Subscribe("run1")
	defer sub.Close()
	recvEvent(t, sub)

	deltas := []string{"a", "b", "c", "d"}
	for _, delta := range deltas {
		bus.Publish(Event{Event: EventCandidateToken, RunID: "run1", Delta: delta})
	}

	for _, want := range deltas {
		require.Equal(t, want, recvEvent(t, sub).Delta)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(zerolog.Nop())

	sub := bus.Subscribe("run1")
	recvEvent(t, sub)
	sub.Close()

	bus.Publish(Event{Event: EventCandidateToken, RunID: "run1", Delta: "x"})

	require.Empty(t, sub.ch)
}
