package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wdudokvanheel/care-chords/internal/events"
)

func TestMessageRoundTrip(t *testing.T) {
	data, err := marshalMessage(events.EventFailoverSwitched, events.Payload{"to": "silence"}, "node-a")
	if err != nil {
		t.Fatal(err)
	}
	msg, err := unmarshalMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if msg.EventType != events.EventFailoverSwitched || msg.NodeID != "node-a" {
		t.Fatalf("unexpected envelope %+v", msg)
	}
	if msg.Payload["to"] != "silence" {
		t.Fatalf("unexpected payload %v", msg.Payload)
	}
	if msg.MessageID == "" {
		t.Fatal("expected message id")
	}
}

func TestUnmarshalRejectsInvalid(t *testing.T) {
	for _, in := range []string{"not json", `{"payload":{}}`} {
		if _, err := unmarshalMessage([]byte(in)); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestDeliverLocalMarksOrigin(t *testing.T) {
	local := events.NewBus()
	sub := local.Subscribe(events.EventPlaybackInfo)

	deliverLocal(local, &message{
		EventType: events.EventPlaybackInfo,
		Payload:   events.Payload{"status": "Playing"},
		NodeID:    "node-b",
	})

	select {
	case p := <-sub:
		if !p.Remote() || p[events.OriginKey] != "node-b" {
			t.Fatalf("expected origin marker, got %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("no local delivery")
	}
}

func TestForwardLocalSkipsRemotePayloads(t *testing.T) {
	local := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	sent := make(chan events.Payload, 4)
	done := make(chan struct{})
	go func() {
		forwardLocal(ctx, local, func(_ events.EventType, p events.Payload) { sent <- p })
		close(done)
	}()

	// Give the forwarder time to subscribe.
	time.Sleep(20 * time.Millisecond)

	local.Publish(events.EventBridgeEOS, events.Payload{events.OriginKey: "peer"})
	local.Publish(events.EventBridgeEOS, events.Payload{"reason": "shutdown"})

	select {
	case p := <-sent:
		if p["reason"] != "shutdown" {
			t.Fatalf("forwarded the wrong payload: %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("local payload not forwarded")
	}

	cancel()
	<-done

	if len(sent) != 0 {
		t.Fatalf("remote payload was forwarded: %v", <-sent)
	}
}

func TestRedisBusFallsBackWhenUnreachable(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 200 * time.Millisecond
	cfg.CheckInterval = time.Hour

	rb := NewRedisBus(cfg, events.NewBus(), "node-a", zerolog.Nop())
	if !rb.inFallback() {
		t.Fatal("expected fallback mode when Redis is unreachable")
	}

	// Publishing in fallback must not touch the network.
	rb.publish(context.Background(), events.EventSleepArmed, events.Payload{"seconds": 60})

	if err := rb.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewNodeID(t *testing.T) {
	if got := NewNodeID("kitchen"); got != "kitchen" {
		t.Fatalf("expected configured id, got %q", got)
	}
	a, b := NewNodeID(""), NewNodeID("")
	if a == b {
		t.Fatal("generated node ids must differ")
	}
}
