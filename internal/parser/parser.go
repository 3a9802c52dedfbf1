// Package parser implements a resumable streaming scanner over an
// OpenAI-style chat completion stream's text content, splitting plain
// assistant text from embedded <tool_code><tool name="...">...</tool></tool_code>
// blocks. It survives arbitrary chunk boundaries: a tag, an argument, or
// even a multi-byte UTF-8 rune may be split across two calls to Feed.
package parser

import (
	"strings"
	"unicode/utf8"
)

// EventType identifies the kind of Event emitted by the parser.
type EventType int

const (
	Token EventType = iota
	ToolStart
	ToolArg
	ToolEnd
	Error
	Done
)

// Event is one unit of parsed output. For ToolArg, Key/Value both apply;
// for Token/Error, Text applies; for ToolStart, Text carries the tool name.
type Event struct {
	Type  EventType
	Text  string
	Key   string
	Value string
}

type state int

const (
	stateText state = iota
	stateInTag
	stateInToolArg
)

const (
	openToolCode  = "<tool_code>"
	closeToolCode = "</tool_code>"
	toolTagOpen   = "<tool"
	toolCloseTag  = "</tool>"
	nameAttr      = `name="`
)

// Parser holds the accumulated carry-over buffer and current scan state
// across successive Feed calls.
type Parser struct {
	buffer      string
	state       state
	currentTool string
}

// New returns a fresh Parser ready to scan from plain text state.
func New() *Parser {
	return &Parser{state: stateText}
}

// Feed appends chunk to the internal buffer and returns any events that can
// be resolved without further input. Incomplete tags/args/runes are held
// back in the buffer for the next call.
func (p *Parser) Feed(chunk string) []Event {
	p.buffer += chunk
	var events []Event

	for {
		switch p.state {
		case stateText:
			ev, cont := p.scanText()
			events = append(events, ev...)
			if !cont {
				return events
			}
		case stateInTag:
			ev, cont := p.scanInTag()
			events = append(events, ev...)
			if !cont {
				return events
			}
		case stateInToolArg:
			ev, cont := p.scanInToolArg()
			events = append(events, ev...)
			if !cont {
				return events
			}
		}
	}
}

func (p *Parser) scanText() ([]Event, bool) {
	if idx := strings.Index(p.buffer, openToolCode); idx != -1 {
		var events []Event
		if idx > 0 {
			events = append(events, Event{Type: Token, Text: unescapeEntities(p.buffer[:idx])})
		}
		p.buffer = p.buffer[idx+len(openToolCode):]
		p.state = stateInTag
		return events, true
	}

	// No full open tag yet. If the buffer ends with a partial "<...", hold
	// it back (it might be the start of <tool_code>).
	if lt := strings.LastIndexByte(p.buffer, '<'); lt != -1 && strings.HasPrefix(openToolCode, p.buffer[lt:]) {
		safe := lt
		if safe > 0 {
			text, pending := splitSafeUTF8(p.buffer[:safe])
			events := flushIfNonEmpty(text)
			p.buffer = pending + p.buffer[safe:]
			return events, false
		}
		return nil, false
	}

	if p.buffer != "" {
		text, pending := splitSafeUTF8(p.buffer)
		events := flushIfNonEmpty(text)
		p.buffer = pending
		return events, false
	}
	return nil, false
}

func flushIfNonEmpty(text string) []Event {
	if text == "" {
		return nil
	}
	return []Event{{Type: Token, Text: unescapeEntities(text)}}
}

func (p *Parser) scanInTag() ([]Event, bool) {
	closeIdx := strings.Index(p.buffer, closeToolCode)
	toolStart := strings.Index(p.buffer, toolTagOpen)
	if closeIdx != -1 && (toolStart == -1 || closeIdx < toolStart) {
		p.buffer = p.buffer[closeIdx+len(closeToolCode):]
		p.state = stateText
		return nil, true
	}

	if toolStart != -1 {
		rest := p.buffer[toolStart:]
		tagClose := strings.IndexByte(rest, '>')
		if tagClose == -1 {
			return nil, false // wait for more input
		}
		tagContent := rest[:tagClose+1]
		nIdx := strings.Index(tagContent, nameAttr)
		if nIdx == -1 {
			return nil, false
		}
		afterName := tagContent[nIdx+len(nameAttr):]
		qIdx := strings.IndexByte(afterName, '"')
		if qIdx == -1 {
			return nil, false
		}
		name := afterName[:qIdx]
		p.currentTool = name
		p.buffer = p.buffer[toolStart+tagClose+1:]
		p.state = stateInToolArg
		return []Event{{Type: ToolStart, Text: name}}, true
	}

	return nil, false
}

func (p *Parser) scanInToolArg() ([]Event, bool) {
	startTag := strings.IndexByte(p.buffer, '<')
	if startTag == -1 {
		return nil, false
	}
	if strings.HasPrefix(p.buffer[startTag:], toolCloseTag) {
		p.buffer = p.buffer[startTag+len(toolCloseTag):]
		p.currentTool = ""
		p.state = stateInTag
		return []Event{{Type: ToolEnd}}, true
	}
	rest := p.buffer[startTag:]
	endTag := strings.IndexByte(rest, '>')
	if endTag == -1 {
		return nil, false
	}
	tagFull := rest[:endTag+1]
	if strings.HasPrefix(tagFull, "</") {
		// Not the arg-closing tag we expect here and not </tool> either
		// (checked above); wait for more input rather than misparsing.
		return nil, false
	}
	argName := strings.Trim(tagFull, "<>")
	closing := "</" + argName + ">"
	closingIdx := strings.Index(p.buffer, closing)
	if closingIdx == -1 {
		return nil, false
	}
	val := p.buffer[startTag+endTag+1 : closingIdx]
	p.buffer = p.buffer[closingIdx+len(closing):]
	return []Event{{Type: ToolArg, Key: argName, Value: unescapeEntities(val)}}, true
}

// splitSafeUTF8 splits s into a rune-boundary-safe prefix and a trailing
// remainder that may be the first bytes of a rune split across chunks.
func splitSafeUTF8(s string) (safe, pending string) {
	if utf8.ValidString(s) {
		return s, ""
	}
	for i := len(s); i > 0 && i > len(s)-4; i-- {
		if utf8.ValidString(s[:i]) {
			return s[:i], s[i:]
		}
	}
	return "", s
}

var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

// unescapeEntities decodes the handful of XML entities that model output
// commonly uses inside text and tool-argument values.
func unescapeEntities(s string) string {
	return entityReplacer.Replace(s)
}
