// Package gateway sends chat requests to an OpenAI-compatible completions
// endpoint and streams the response through the tool-call parser, so callers
// see parser.Event values instead of raw SSE chunks.
package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/babybirdprd/irongraph/internal/parser"
)

// Message is one turn in a chat completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config carries everything a single chat call needs, normally produced by
// config.ResolveRun.
type Config struct {
	APIKey      string
	APIBase     string
	Model       string
	Temperature *float64
	Seed        int
	MaxTokens   int
	SiteURL     string
	AppName     string
	ExtraBody   map[string]interface{}
	Timeout     time.Duration
	Verbose     bool
}

// ToolCall is one fully-assembled tool invocation reconstructed from the
// parser's ToolStart/ToolArg/ToolEnd event sequence.
type ToolCall struct {
	Name      string
	Arguments map[string]string
}

// Response is the settled result of a non-streaming chat call.
type Response struct {
	Role      string
	Content   string
	ToolCalls []ToolCall
}

const mockResponseText = "Checking filesystem... \n" +
	`<tool_code><tool name="run_command"><program>ls</program><args>-la</args></tool></tool_code>`

// resolveAPI fills in api key/base from the environment when the caller
// didn't supply one explicitly, mirroring the precedence a shell user expects:
// an explicit config/flag value wins over OPENAI_API_KEY/OPENAI_API_BASE.
func resolveAPI(cfg Config) (apiKey, apiBase string) {
	apiKey = cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	apiBase = cfg.APIBase
	if apiBase == "" {
		apiBase = os.Getenv("OPENAI_API_BASE")
	}
	apiBase = strings.TrimSuffix(apiBase, "/")
	return apiKey, apiBase
}

func urlJoin(base, rel string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	relURL, err := url.Parse(rel)
	if err != nil {
		return "", err
	}
	if relURL.Scheme != "" && relURL.Host != "" {
		return rel, nil
	}
	joined := &url.URL{
		Scheme: baseURL.Scheme,
		User:   baseURL.User,
		Host:   baseURL.Host,
		Path:   path.Join(baseURL.Path, relURL.Path),
	}
	return joined.String(), nil
}

func buildBody(messages []Message, cfg Config) ([]byte, error) {
	base := map[string]interface{}{
		"model":    cfg.Model,
		"messages": messages,
		"stream":   true,
	}
	if cfg.Temperature != nil {
		base["temperature"] = *cfg.Temperature
	}
	if cfg.Seed != 0 {
		base["seed"] = cfg.Seed
	}
	if cfg.MaxTokens != 0 {
		base["max_tokens"] = cfg.MaxTokens
	}
	for k, v := range cfg.ExtraBody {
		base[k] = v
	}
	return json.Marshal(base)
}

func buildHeaders(cfg Config, apiKey string, streaming bool) http.Header {
	h := http.Header{
		"Authorization": {"Bearer " + apiKey},
		"Content-Type":  {"application/json"},
	}
	if streaming {
		h.Set("Accept", "text/event-stream")
	}
	// OpenRouter-style site attribution, carried through when configured.
	if cfg.SiteURL != "" {
		h.Set("HTTP-Referer", cfg.SiteURL)
	}
	if cfg.AppName != "" {
		h.Set("X-Title", cfg.AppName)
	}
	return h
}

func httpClient(cfg Config) *http.Client {
	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.Verbose {
		client.Transport = &loggingTransport{}
	}
	return client
}

// collectToolCalls replays events emitted by a parser.Parser and assembles
// any ToolStart/ToolArg/ToolEnd sequences into ToolCall values.
func collectToolCalls(events []parser.Event) []ToolCall {
	var calls []ToolCall
	var name string
	var args map[string]string

	for _, e := range events {
		switch e.Type {
		case parser.ToolStart:
			name = e.Text
			args = map[string]string{}
		case parser.ToolArg:
			if args != nil {
				args[e.Key] = e.Value
			}
		case parser.ToolEnd:
			if name != "" {
				calls = append(calls, ToolCall{Name: name, Arguments: args})
				name = ""
				args = nil
			}
		}
	}
	return calls
}

// mockStream replays the deterministic mock chat response in 5-character
// chunks, used for local development and tests without a live endpoint.
func mockStream(ctx context.Context) <-chan parser.Event {
	ch := make(chan parser.Event)
	go func() {
		defer close(ch)
		p := parser.New()
		const chunkSize = 5
		runes := []rune(mockResponseText)
		for i := 0; i < len(runes); i += chunkSize {
			end := i + chunkSize
			if end > len(runes) {
				end = len(runes)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			for _, ev := range p.Feed(string(runes[i:end])) {
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
		select {
		case ch <- parser.Event{Type: parser.Done}:
		case <-ctx.Done():
		}
	}()
	return ch
}

// StreamChat opens a streaming chat completion and returns a channel of
// parser events, closed once the stream ends (a Done event precedes the
// close on success; an Error event may appear without a following Done).
func StreamChat(ctx context.Context, messages []Message, cfg Config) (<-chan parser.Event, error) {
	apiKey, apiBase := resolveAPI(cfg)

	if strings.Contains(apiBase, "mock") {
		return mockStream(ctx), nil
	}

	body, err := buildBody(messages, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Verbose {
		fmt.Printf("REQ: %s\n", body)
	}

	chatURL, err := urlJoin(apiBase, "/chat/completions")
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, chatURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header = buildHeaders(cfg, apiKey, true)

	resp, err := httpClient(cfg).Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(errBody))
	}

	ch := make(chan parser.Event)
	go streamSSE(ctx, resp.Body, ch)
	return ch, nil
}

type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func streamSSE(ctx context.Context, body io.ReadCloser, ch chan<- parser.Event) {
	defer close(ch)
	defer body.Close()

	p := parser.New()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	emit := func(e parser.Event) bool {
		select {
		case ch <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		dataStr := strings.TrimSpace(line[len("data: "):])
		if dataStr == "[DONE]" {
			emit(parser.Event{Type: parser.Done})
			return
		}

		var chunk sseChunk
		if err := json.Unmarshal([]byte(dataStr), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		for _, ev := range p.Feed(chunk.Choices[0].Delta.Content) {
			if !emit(ev) {
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		emit(parser.Event{Type: parser.Error, Text: err.Error()})
	}
}

// Chat performs a non-streaming chat completion and returns the fully
// assembled response, including any tool calls found in the content.
func Chat(ctx context.Context, messages []Message, cfg Config) (Response, error) {
	apiKey, apiBase := resolveAPI(cfg)

	var content string
	if strings.Contains(apiBase, "mock") {
		content = mockResponseText
	} else {
		body, err := buildBody(messages, cfg)
		if err != nil {
			return Response{}, err
		}
		// buildBody always asks for streaming; this call switches it off and
		// reads the body as a single non-chunked JSON response.
		var raw map[string]interface{}
		if err := json.Unmarshal(body, &raw); err != nil {
			return Response{}, err
		}
		raw["stream"] = false
		body, err = json.Marshal(raw)
		if err != nil {
			return Response{}, err
		}

		if cfg.Verbose {
			fmt.Printf("REQ: %s\n", body)
		}

		chatURL, err := urlJoin(apiBase, "/chat/completions")
		if err != nil {
			return Response{}, err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, chatURL, bytes.NewBuffer(body))
		if err != nil {
			return Response{}, err
		}
		httpReq.Header = buildHeaders(cfg, apiKey, false)

		resp, err := httpClient(cfg).Do(httpReq)
		if err != nil {
			return Response{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errBody, _ := io.ReadAll(resp.Body)
			return Response{}, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(errBody))
		}

		var respBody struct {
			Choices []struct {
				Message Message `json:"message"`
			} `json:"choices"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
			return Response{}, err
		}
		if len(respBody.Choices) == 0 {
			return Response{}, fmt.Errorf("no choices returned from API")
		}
		content = respBody.Choices[0].Message.Content
	}

	p := parser.New()
	events := p.Feed(content)
	return Response{
		Role:      "assistant",
		Content:   content,
		ToolCalls: collectToolCalls(events),
	}, nil
}

// loggingTransport dumps request/response JSON to stdout when Config.Verbose
// is set, matching the teacher's debug-mode HTTP tracing.
type loggingTransport struct{}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	fmt.Printf(">>> %s %s %s\n", req.Method, req.URL, req.Proto)
	for k, v := range req.Header {
		fmt.Printf(">>> %s: %s\n", k, v)
	}

	if req.Body != nil {
		reqBody, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewBuffer(reqBody))
		dumpJSON(">>>", reqBody)
	}

	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	fmt.Printf("<<< %s %s\n", resp.Status, resp.Proto)
	for k, v := range resp.Header {
		fmt.Printf("<<< %s: %s\n", k, v)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewBuffer(respBody))
	dumpJSON("<<<", respBody)

	return resp, nil
}

func dumpJSON(prefix string, raw []byte) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err == nil {
		pretty, _ := json.MarshalIndent(v, "", "  ")
		fmt.Printf("%s %s\n", prefix, pretty)
		return
	}
	fmt.Printf("%s %s\n", prefix, raw)
}
