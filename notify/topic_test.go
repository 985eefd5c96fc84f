package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicDeliversInOrder(t *testing.T) {
	topic := NewTopic[int]()
	ch, cancel := topic.Subscribe(8)
	defer cancel()

	for i := 1; i <= 5; i++ {
		topic.Publish(i)
	}
	for want := 1; want <= 5; want++ {
		assert.Equal(t, want, <-ch)
	}
}

func TestTopicDropsOldestWhenFull(t *testing.T) {
	topic := NewTopic[int]()
	ch, cancel := topic.Subscribe(2)
	defer cancel()

	for i := 1; i <= 10; i++ {
		topic.Publish(i)
	}
	assert.Equal(t, 9, <-ch)
	assert.Equal(t, 10, <-ch)
}

func TestTopicLateSubscriberGetsLatest(t *testing.T) {
	topic := NewTopic[string]()
	topic.Publish("a")
	topic.Publish("b")

	ch, cancel := topic.Subscribe(1)
	defer cancel()
	assert.Equal(t, "b", <-ch)

	v, ok := topic.Latest()
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestTopicCancelAndClose(t *testing.T) {
	topic := NewTopic[int]()
	a, cancelA := topic.Subscribe(1)
	b, _ := topic.Subscribe(1)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)

	topic.Close()
	_, open = <-b
	assert.False(t, open)

	topic.Publish(1) // no panic after close
	c, _ := topic.Subscribe(1)
	_, open = <-c
	assert.False(t, open)
}
