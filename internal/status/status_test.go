package status

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestNotifier_DeliversInOrder(t *testing.T) {
	n := NewNotifier(4)
	n.Emit(MsgListening, TagListening)
	n.Emit(MsgRecording, TagRecording)

	for _, want := range []Tag{TagListening, TagRecording} {
		select {
		case ev := <-n.Events():
			if ev.Tag != want {
				t.Errorf("tag = %q, want %q", ev.Tag, want)
			}
		default:
			t.Fatalf("missing event %q", want)
		}
	}
}

func TestNotifier_DropsOldestWhenFull(t *testing.T) {
	n := NewNotifier(3)
	for i := range 5 {
		n.Emit(fmt.Sprintf("msg %d", i), TagProcessing)
	}

	if got := n.Dropped(); got != 2 {
		t.Errorf("Dropped = %d, want 2", got)
	}
	for _, want := range []string{"msg 2", "msg 3", "msg 4"} {
		ev := <-n.Events()
		if ev.Message != want {
			t.Errorf("message = %q, want %q", ev.Message, want)
		}
	}
}

func TestNotifier_EmitNeverBlocks(t *testing.T) {
	n := NewNotifier(1)
	done := make(chan struct{})
	go func() {
		for range 1000 {
			n.Emit(MsgSpeaking, TagSpeaking)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked with no consumer")
	}
}

func TestNotifier_Latest(t *testing.T) {
	n := NewNotifier(0)
	if _, ok := n.Latest(); ok {
		t.Fatal("Latest on empty notifier reported an event")
	}
	n.Emit(MsgActive, TagActive)
	n.Emit(MsgNoResponse, TagError)

	ev, ok := n.Latest()
	if !ok || ev.Tag != TagError || ev.Message != MsgNoResponse {
		t.Errorf("Latest = %+v, %v", ev, ok)
	}
}

func TestNotifier_ConcurrentProducers(t *testing.T) {
	n := NewNotifier(DefaultBufferSize)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				n.Emit(MsgListening, TagListening)
			}
		}()
	}
	received := 0
	stop := make(chan struct{})
	go func() { wg.Wait(); close(stop) }()
loop:
	for {
		select {
		case <-n.Events():
			received++
		case <-stop:
			break loop
		}
	}
	for len(n.Events()) > 0 {
		<-n.Events()
		received++
	}
	if total := int64(received) + n.Dropped(); total != 800 {
		t.Errorf("received+dropped = %d, want 800", total)
	}
}

func TestMultiAndRecorder(t *testing.T) {
	var a, b Recorder
	e := Multi(&a, &b, Discard)
	e.Emit(MsgProcessing, TagProcessing)

	if got := a.Tags(); len(got) != 1 || got[0] != TagProcessing {
		t.Errorf("a = %v", got)
	}
	if got := b.Events(); len(got) != 1 || got[0].Message != MsgProcessing {
		t.Errorf("b = %v", got)
	}
}
