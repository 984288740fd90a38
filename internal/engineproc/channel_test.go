package engineproc

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tradebridge/internal/events"
)

// cat echoes stdin back on stdout, which makes it a convenient stand-in
// engine: whatever line we send comes back as engine output.
func startCat(t *testing.T) *Channel {
	t.Helper()
	c, err := Start(zerolog.Nop(), "cat")
	if err != nil {
		t.Skipf("cannot start cat: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func TestStartFailsForMissingBinary(t *testing.T) {
	_, err := Start(zerolog.Nop(), "definitely-not-a-real-binary-1234")
	if err == nil {
		t.Fatal("expected spawn error for missing binary")
	}
}

func TestRoundTripParsesJSONLines(t *testing.T) {
	c := startCat(t)

	if err := c.SendLine(`{"type":"market","symbol":"BTCUSDT","price":50000}`); err != nil {
		t.Fatalf("SendLine: %v", err)
	}

	select {
	case ev := <-c.Events():
		if ev.Type != events.KindMarket || ev.Symbol != "BTCUSDT" || ev.Price != 50000 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed event")
	}
}

func TestMalformedLinesAreDropped(t *testing.T) {
	c := startCat(t)

	if err := c.SendLine(`this is not json`); err != nil {
		t.Fatalf("SendLine: %v", err)
	}
	if err := c.SendLine(`{"no_type_field":true}`); err != nil {
		t.Fatalf("SendLine: %v", err)
	}
	// Engine-internal event types stay out of the normalized stream.
	if err := c.SendLine(`{"type":"engine_heartbeat","uptime":12}`); err != nil {
		t.Fatalf("SendLine: %v", err)
	}
	if err := c.SendLine(`{"type":"fill","client_order_id":"c1","qty":0.5,"price":10}`); err != nil {
		t.Fatalf("SendLine: %v", err)
	}

	// Only the well-formed event should surface.
	select {
	case ev := <-c.Events():
		if ev.Type != events.KindFill || ev.ClientOrderID != "c1" {
			t.Fatalf("expected the fill event, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fill event")
	}
}

func TestSendAfterStopReturnsChannelClosed(t *testing.T) {
	c := startCat(t)
	c.Stop()

	err := c.SendLine("ORDER BUY BTCUSDT 1 100 c1")
	if err == nil {
		t.Fatal("expected error writing to stopped channel")
	}
}

func TestEventsChannelClosesOnProcessExit(t *testing.T) {
	c := startCat(t)
	c.Stop()

	select {
	case _, ok := <-c.Events():
		if ok {
			// A buffered event may still arrive; drain until close.
			for range c.Events() {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel did not close after process exit")
	}
}
