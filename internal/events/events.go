// Package events implements the UI-boundary event sink: string-keyed,
// JSON-serialisable payloads emitted by the agent loop and the PTY fan-out.
// Two sink implementations are provided here — a headless logging sink and
// a buffered channel sink a terminal renderer can consume — matching the
// teacher's plain log.Printf debug path and its channel-fed bubbletea model
// respectively — plus a MultiSink that fans out to several sinks.
package events

import (
	"log"
)

// Event is one emitted (key, payload) pair, queued for a channel-backed
// Sink's consumer.
type Event struct {
	Key     string
	Payload interface{}
}

// LogSink writes every event to the standard logger, prefixed with its key,
// when Verbose is set; otherwise it discards them. Used by the run command.
type LogSink struct {
	Verbose bool
}

func NewLogSink(verbose bool) *LogSink {
	return &LogSink{Verbose: verbose}
}

func (s *LogSink) Emit(key string, payload interface{}) {
	if !s.Verbose {
		return
	}
	log.Printf("[event] %s: %v", key, payload)
}

// ChannelSink fans events out over a buffered channel for a live renderer
// (the run command's --live TUI, or any other consumer) to drain. Emit never
// blocks: once the channel is full, newly emitted events are dropped (the
// already-queued ones stay) rather than stalling the agent loop.
type ChannelSink struct {
	ch chan Event
}

// NewChannelSink returns a ChannelSink with room for depth queued events.
func NewChannelSink(depth int) *ChannelSink {
	if depth <= 0 {
		depth = 256
	}
	return &ChannelSink{ch: make(chan Event, depth)}
}

func (s *ChannelSink) Emit(key string, payload interface{}) {
	select {
	case s.ch <- Event{Key: key, Payload: payload}:
	default:
		// Consumer not keeping up; drop rather than block the loop.
	}
}

// Events returns the receive side of the sink's channel, for a renderer to
// range over.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Close signals no further events will be sent, unblocking any range loop
// over Events(). Callers must not call Emit after Close.
func (s *ChannelSink) Close() {
	close(s.ch)
}

// MultiSink fans every Emit call out to each of its members, letting a
// session log to stdout and drive a live TUI simultaneously.
type MultiSink struct {
	sinks []Sink
}

// Sink is the interface MultiSink members satisfy. The agent and ptysession
// packages declare Sink interfaces with the same method, so these sinks can
// be passed to them.
type Sink interface {
	Emit(key string, payload interface{})
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Emit(key string, payload interface{}) {
	for _, s := range m.sinks {
		if s != nil {
			s.Emit(key, payload)
		}
	}
}
