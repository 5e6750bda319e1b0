package eventbus

import (
	"testing"
)

func TestTopic_PublishInOrder(t *testing.T) {
	topic := NewTopic[int]("numbers", testLogger())

	var got []string
	topic.Subscribe(func(v int) { got = append(got, "a") })
	topic.Subscribe(func(v int) { got = append(got, "b") })

	topic.Publish(1)

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("subscribers should run synchronously in order, got %v", got)
	}
}

func TestTopic_Unsubscribe(t *testing.T) {
	topic := NewTopic[string]("strings", nil)

	calls := 0
	unsub := topic.Subscribe(func(string) { calls++ })
	if topic.Len() != 1 {
		t.Fatalf("Len: %d", topic.Len())
	}

	unsub()
	unsub()
	topic.Publish("x")

	if calls != 0 {
		t.Errorf("unsubscribed fn called %d times", calls)
	}
	if topic.Len() != 0 {
		t.Errorf("Len after unsubscribe: %d", topic.Len())
	}
}

func TestTopic_UnsubscribeDuringPublish(t *testing.T) {
	topic := NewTopic[int]("reentrant", testLogger())

	calls := 0
	var unsub func()
	unsub = topic.Subscribe(func(int) {
		calls++
		unsub()
	})

	topic.Publish(1)
	topic.Publish(2)

	if calls != 1 {
		t.Errorf("self-unsubscribing fn should run once, ran %d times", calls)
	}
}

func TestTopic_PanicIsolated(t *testing.T) {
	topic := NewTopic[int]("panics", testLogger())

	reached := false
	topic.Subscribe(func(int) { panic("boom") })
	topic.Subscribe(func(int) { reached = true })

	topic.Publish(1)

	if !reached {
		t.Error("subscriber after a panicking one should still run")
	}
	if topic.Name() != "panics" {
		t.Errorf("Name: %q", topic.Name())
	}
}
