package events

import (
	"strings"
	"testing"
)

func TestChannelSink_EmitAndDrain(t *testing.T) {
	s := NewChannelSink(2)
	s.Emit("agent:status:s1", "waiting")
	s.Emit("agent:tool_output:s1", "ok")
	s.Close()

	var got []Event
	for ev := range s.Events() {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Key != "agent:status:s1" || got[0].Payload != "waiting" {
		t.Errorf("unexpected first event: %+v", got[0])
	}
}

func TestChannelSink_DropsWhenFull(t *testing.T) {
	s := NewChannelSink(1)
	s.Emit("a", 1)
	s.Emit("b", 2) // dropped, buffer of 1 already full
	s.Close()

	var count int
	for range s.Events() {
		count++
	}
	if count != 1 {
		t.Errorf("expected exactly 1 delivered event, got %d", count)
	}
}

func TestMultiSink_FansOutToAll(t *testing.T) {
	a := NewChannelSink(4)
	b := NewChannelSink(4)
	m := NewMultiSink(a, b)

	m.Emit("k", "v")
	a.Close()
	b.Close()

	for _, sink := range []*ChannelSink{a, b} {
		ev, ok := <-sink.Events()
		if !ok || ev.Key != "k" {
			t.Errorf("expected event delivered to every member sink")
		}
	}
}

func TestMultiSink_SkipsNilMembers(t *testing.T) {
	m := NewMultiSink(nil, nil)
	m.Emit("k", "v") // must not panic
}

func TestRenderEvent(t *testing.T) {
	cases := []struct {
		key  string
		want string
	}{
		{"agent:status:s1", "[status]"},
		{"agent:tool_start:s1", "→ tool:"},
		{"agent:debug:role:s1", "[role]"},
		{"agent:error:s1", "[error]"},
		{"terminal:output:s1", ""},
	}
	for _, c := range cases {
		out := renderEvent(Event{Key: c.key, Payload: "x"})
		if c.want != "" && !strings.Contains(out, c.want) {
			t.Errorf("renderEvent(%q) = %q, want substring %q", c.key, out, c.want)
		}
	}
}
