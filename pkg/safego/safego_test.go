package safego

import (
	"sync"
	"testing"

	"go.uber.org/zap"
)

func TestCall_RecoversPanic(t *testing.T) {
	ok := Call(zap.NewNop(), "panicky", func() {
		panic("boom")
	})
	if ok {
		t.Error("Call should report false after a panic")
	}

	ran := false
	if !Call(nil, "fine", func() { ran = true }) {
		t.Error("Call should report true when fn returns normally")
	}
	if !ran {
		t.Error("fn was not executed")
	}
}

func TestGo_RunsAndSurvivesPanic(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)

	Go(zap.NewNop(), "panics", func() {
		defer wg.Done()
		panic("boom")
	})

	done := false
	Go(zap.NewNop(), "works", func() {
		defer wg.Done()
		done = true
	})

	wg.Wait()
	if !done {
		t.Error("second goroutine did not run")
	}
}
