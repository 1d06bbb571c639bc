package events

import (
	"testing"
	"time"
)

func TestPublishDeviceStatusFanOut(t *testing.T) {
	b := New()
	sub1 := b.SubscribeDeviceStatus()
	sub2 := b.SubscribeDeviceStatus()

	e := DeviceStatusChanged{DeviceID: "d1", Old: "up", New: "down", Timestamp: time.Now()}
	b.PublishDeviceStatus(e)

	select {
	case got := <-sub1:
		if got.DeviceID != "d1" {
			t.Errorf("sub1 got %+v", got)
		}
	default:
		t.Fatal("sub1 did not receive event")
	}

	select {
	case got := <-sub2:
		if got.DeviceID != "d1" {
			t.Errorf("sub2 got %+v", got)
		}
	default:
		t.Fatal("sub2 did not receive event")
	}
}

func TestPublishDropsWhenSubscriberBufferFull(t *testing.T) {
	b := New()
	sub := b.SubscribeProblems()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.PublishProblem(ProblemChanged{ProblemID: "p", Event: "opened"})
	}

	count := 0
	for {
		select {
		case <-sub:
			count++
		default:
			if count != subscriberBuffer {
				t.Errorf("expected exactly %d buffered events, got %d", subscriberBuffer, count)
			}
			return
		}
	}
}
