package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribePublishOrdering(t *testing.T) {
	b := New()
	sub := b.Subscribe("t1")

	for i := 1; i <= 3; i++ {
		b.Publish(Event{Kind: KindProgress, TaskID: "t1", Percent: i * 10, Phase: "read"})
	}
	b.Publish(Event{Kind: KindStatus, TaskID: "t1", State: "completed"})

	var percents []int
	var sawTerminal bool
	timeout := time.After(time.Second)
	for i := 0; i < 4; i++ {
		select {
		case e := <-sub.Events:
			if e.Kind == KindProgress {
				percents = append(percents, e.Percent)
			} else if e.IsTerminal() {
				sawTerminal = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}

	assert.Equal(t, []int{10, 20, 30}, percents)
	assert.True(t, sawTerminal)
}

func TestLateSubscriberGetsLastEvent(t *testing.T) {
	b := New()
	b.Publish(Event{Kind: KindProgress, TaskID: "t2", Percent: 50, Phase: "write"})

	sub := b.Subscribe("t2")
	select {
	case e := <-sub.Events:
		assert.Equal(t, 50, e.Percent)
	case <-time.After(time.Second):
		t.Fatal("expected replay of last event")
	}
}

func TestSlowSubscriberDropsProgressButKeepsTerminal(t *testing.T) {
	b := New()
	sub := b.Subscribe("t3")

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(Event{Kind: KindProgress, TaskID: "t3", Percent: i})
	}
	b.Publish(Event{Kind: KindStatus, TaskID: "t3", State: "failed"})

	var sawTerminal bool
	deadline := time.After(2 * time.Second)
drain:
	for {
		select {
		case e := <-sub.Events:
			if e.IsTerminal() {
				sawTerminal = true
				break drain
			}
		case <-deadline:
			break drain
		}
	}
	require.True(t, sawTerminal, "terminal status must never be dropped")
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe("t4")
	sub.Unsubscribe()

	_, ok := <-sub.Events
	assert.False(t, ok)
}

func TestConnectionState(t *testing.T) {
	b := New()
	assert.Equal(t, "closed", b.GetConnectionState("missing"))

	sub := b.Subscribe("t5")
	assert.Equal(t, "open", b.GetConnectionState("t5"))

	sub.Unsubscribe()
	assert.Equal(t, "closed", b.GetConnectionState("t5"))
}
