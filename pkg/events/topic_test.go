package events

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicDeliversInOrder(t *testing.T) {
	topic := NewTopic[int]("numbers")
	var got []string

	topic.Subscribe(func(_ context.Context, n int) { got = append(got, "first") })
	topic.Subscribe(func(_ context.Context, n int) { got = append(got, "second") })

	topic.Publish(context.Background(), 1)
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestTopicUnsubscribe(t *testing.T) {
	topic := NewTopic[string]("s")
	calls := 0
	unsub := topic.Subscribe(func(context.Context, string) { calls++ })

	topic.Publish(context.Background(), "x")
	unsub()
	unsub()
	topic.Publish(context.Background(), "y")

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, topic.Len())
}

func TestTopicRecoversPanickingHandler(t *testing.T) {
	topic := NewTopic[int]("p")
	reached := false
	topic.Subscribe(func(context.Context, int) { panic("boom") })
	topic.Subscribe(func(context.Context, int) { reached = true })

	require.NotPanics(t, func() { topic.Publish(context.Background(), 1) })
	assert.True(t, reached)
}

func TestTopicConcurrentPublish(t *testing.T) {
	topic := NewTopic[int]("c")
	var mu sync.Mutex
	sum := 0
	topic.Subscribe(func(_ context.Context, n int) {
		mu.Lock()
		sum += n
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			topic.Publish(context.Background(), 2)
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, sum)
}

func TestBusTopicsAreInitialised(t *testing.T) {
	bus := NewBus()
	var seen ProofAppended
	bus.ProofAppended.Subscribe(func(_ context.Context, e ProofAppended) { seen = e })
	bus.ProofAppended.Publish(context.Background(), ProofAppended{})
	assert.Equal(t, ProofAppended{}, seen)
	assert.Equal(t, "friction.changed", bus.FrictionPhaseChanged.Name())
}
