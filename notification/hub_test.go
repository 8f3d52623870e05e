package notification

import (
	"fmt"
	"testing"

	"github.com/jyothri/detach/detach"
)

func TestPublishReachesRunAndAll(t *testing.T) {
	h := NewHub()
	run, cancelRun := h.Subscribe("r1")
	defer cancelRun()
	all, cancelAll := h.Subscribe(All)
	defer cancelAll()
	other, cancelOther := h.Subscribe("r2")
	defer cancelOther()

	h.Observer("r1")(detach.Event{Stage: detach.StageSearch, Remaining: 4})

	for name, ch := range map[string]<-chan Progress{"run": run, "all": all} {
		select {
		case p := <-ch:
			if p.RunId != "r1" || p.Remaining != 4 || p.Time.IsZero() {
				t.Errorf("%s got %+v", name, p)
			}
		default:
			t.Errorf("%s subscriber got nothing", name)
		}
	}
	select {
	case p := <-other:
		t.Errorf("unrelated subscriber got %+v", p)
	default:
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("r1")
	for i := 0; i < 100; i++ {
		h.Publish(Progress{RunId: "r1", Event: detach.Event{Rows: i}})
	}
	first := <-ch
	if first.Rows != 0 {
		t.Errorf("first event = %+v", first)
	}
	cancel()
	cancel()
	for range ch {
	}
	h.Publish(Progress{RunId: "r1"})
	if len(h.subscribers) != 0 {
		t.Errorf("subscribers left: %v", h.subscribers)
	}
}

func TestFinishedRemembersFinalEvent(t *testing.T) {
	h := NewHub()
	obs := h.Observer("r1")
	obs(detach.Event{Stage: detach.StageSearch, Remaining: 2})
	if _, ok := h.Finished("r1"); ok {
		t.Fatal("run reported finished before its final event")
	}
	obs(detach.Event{Stage: detach.StageSearch, Rows: 3, Done: true})
	p, ok := h.Finished("r1")
	if !ok || p.Rows != 3 || p.RunId != "r1" {
		t.Errorf("Finished = %+v, %v", p, ok)
	}

	for i := 0; i < finishedLimit; i++ {
		h.Publish(Progress{RunId: fmt.Sprintf("run-%d", i), Event: detach.Event{Done: true}})
	}
	if _, ok := h.Finished("r1"); ok {
		t.Error("oldest run not evicted")
	}
	if len(h.finished) != finishedLimit || len(h.order) != finishedLimit {
		t.Errorf("kept %d runs, order %d", len(h.finished), len(h.order))
	}
}
