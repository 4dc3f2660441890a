package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
)

// maxRetries is the number of extra attempts allowed after a refreshed credential.
const maxRetries = 1

// CredentialSource supplies credentials for each attempt.
type CredentialSource interface {
	AccessToken() string
	RefreshToken() string
	APIKey(provider string) string
	SetAccessToken(token string) error
}

// TokenRefresher exchanges a refresh token for a new access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// Snapshot is the last known state of a turn when it finishes.
type Snapshot struct {
	Content   string
	Thinking  string
	ToolCalls []FunctionCall
	Error     string // set when the done event carried an error descriptor
}

// Handlers receive the observations of one turn. Nil handlers are skipped.
type Handlers struct {
	OnThinking  func(thinking string)
	OnContent   func(content string)
	OnToolCalls func(calls []FunctionCall)
	OnFinal     func(content string, meta MessageMetadata)
	OnDone      func(snap Snapshot)
}

// StreamClient sends turns to the relay and reduces the NDJSON event stream.
type StreamClient struct {
	endpoint   string
	httpClient *http.Client
	creds      CredentialSource
	refresher  TokenRefresher
	logger     *slog.Logger
	debug      *DebugLogger
	userAgent  string
}

// ClientOption configures a StreamClient.
type ClientOption func(*StreamClient)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(s *StreamClient) { s.httpClient = c }
}

func WithRefresher(r TokenRefresher) ClientOption {
	return func(s *StreamClient) { s.refresher = r }
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(s *StreamClient) { s.logger = l }
}

func WithDebugLogger(d *DebugLogger) ClientOption {
	return func(s *StreamClient) { s.debug = d }
}

func WithUserAgent(ua string) ClientOption {
	return func(s *StreamClient) { s.userAgent = ua }
}

// NewStreamClient creates a client for the relay at endpoint.
func NewStreamClient(endpoint string, creds CredentialSource, opts ...ClientOption) *StreamClient {
	c := &StreamClient{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		// No overall timeout: streams stay open for as long as the model talks.
		httpClient: &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 2 * time.Minute,
		}},
		creds:     creds,
		logger:    slog.Default(),
		userAgent: "term-relay",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send runs one turn. It returns nil after OnDone fired, ctx.Err() when the
// turn was cancelled, or a *StreamError for every other failure.
func (c *StreamClient) Send(ctx context.Context, req ChatRequest, h Handlers) error {
	return c.send(ctx, req, h, 0)
}

func (c *StreamClient) send(ctx context.Context, req ChatRequest, h Handlers, retryCount int) error {
	for attempt := retryCount; ; attempt++ {
		if attempt > maxRetries {
			return &StreamError{Kind: ErrAuth, Message: "Maximum retry attempts reached. Please re-authenticate."}
		}
		retry, err := c.attempt(ctx, req, h, attempt)
		if retry {
			continue
		}
		return err
	}
}

// attempt issues one request. retry is true when the credential was refreshed
// and the request should be issued again.
func (c *StreamClient) attempt(ctx context.Context, req ChatRequest, h Handlers, attempt int) (retry bool, err error) {
	token := c.creds.AccessToken()
	if token == "" {
		return false, &StreamError{Kind: ErrAuth, Message: "Not logged in. Run 'term-relay config set auth.access_token <token>' or log in first."}
	}
	if req.APIKey == "" {
		req.APIKey = c.creds.APIKey(req.Provider)
	}

	body, err := json.Marshal(chatEnvelope{Chat: req})
	if err != nil {
		return false, &StreamError{Kind: ErrUnknown, Message: "failed to encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat/stream", bytes.NewReader(body))
	if err != nil {
		return false, &StreamError{Kind: ErrUnknown, Message: "failed to create request", Err: err}
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("X-Request-ID", requestID)
	httpReq.Header.Set("User-Agent", c.userAgent)

	c.debug.LogRequest(requestID, attempt, req)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		err = classifyTransport(err)
		c.debug.LogError(requestID, err)
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		serr := httpError(resp.StatusCode, data)
		// The refreshed token is only worth fetching while a retry remains.
		if body, ok := parseErrorBody(data); ok && serr.Kind == ErrAuth && body.hasProviderError() && attempt < maxRetries {
			rerr := c.refresh(ctx)
			if rerr == nil {
				c.logger.Debug("access token refreshed, retrying", "attempt", attempt+1)
				return true, nil
			}
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			c.logger.Warn("token refresh failed", "error", rerr)
			serr.Err = rerr
		}
		c.debug.LogError(requestID, serr)
		return false, serr
	}

	err = c.consume(ctx, requestID, resp.Body, h)
	if err != nil && ctx.Err() == nil {
		c.debug.LogError(requestID, err)
	}
	return false, err
}

func (c *StreamClient) refresh(ctx context.Context) error {
	if c.refresher == nil {
		return errors.New("no token refresher configured")
	}
	refreshToken := c.creds.RefreshToken()
	if refreshToken == "" {
		return errors.New("no refresh token available")
	}
	token, err := c.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("refresh returned no access token")
	}
	if err := c.creds.SetAccessToken(token); err != nil {
		// The in-memory token is already updated; only persistence failed.
		c.logger.Warn("failed to persist refreshed access token", "error", err)
	}
	return nil
}

// streamEvent is one NDJSON line.
type streamEvent struct {
	Type          string          `json:"type"`
	Content       json.RawMessage `json:"content"`
	Thinking      string          `json:"thinking"`
	ToolCall      json.RawMessage `json:"toolCall"`
	ToolCallSnake json.RawMessage `json:"tool_call"`
	Message       json.RawMessage `json:"message"`
	Summary       *finalSummary   `json:"summary"`
	Error         json.RawMessage `json:"error"`
}

// consume reads the body line by line and applies each event.
func (c *StreamClient) consume(ctx context.Context, requestID string, body io.Reader, h Handlers) error {
	r := &reducer{h: h, logger: c.logger}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return &StreamError{Kind: ErrUnknown, Message: "malformed stream event", Err: err}
		}
		c.debug.LogEvent(requestID, ev.Type, line)

		done, err := r.apply(ev)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return &StreamError{Kind: ErrUnknown, Message: "stream event exceeds 1MB", Err: err}
		}
		return &StreamError{Kind: ErrNetwork, Message: "Connection lost while streaming the response.", Err: err}
	}

	// The body ended without a done event; the turn still finishes exactly once.
	r.finish("")
	return nil
}

// reducer folds stream events into the turn's running state.
type reducer struct {
	h      Handlers
	logger *slog.Logger

	raw       strings.Builder
	content   string
	thinking  string
	calls     []FunctionCall
	finalSent bool
	doneSent  bool
}

func (r *reducer) apply(ev streamEvent) (done bool, err error) {
	switch ev.Type {
	case "thinking":
		text := ev.Thinking
		if text == "" {
			text = rawString(ev.Content)
		}
		r.thinking = text
		if r.h.OnThinking != nil {
			r.h.OnThinking(r.thinking)
		}

	case "content":
		r.raw.WriteString(rawString(ev.Content))
		r.content = interpretContent(r.raw.String())
		if r.h.OnContent != nil {
			r.h.OnContent(r.content)
		}

	case "tool_call":
		payload := firstObject(ev.ToolCall, ev.ToolCallSnake, ev.Content)
		if payload == nil {
			r.logger.Debug("tool_call event without payload")
			return false, nil
		}
		call, err := DecodeFunctionCall(payload)
		if err != nil {
			return false, &StreamError{Kind: ErrUnknown, Message: "malformed tool call", Err: err}
		}
		r.calls = append(r.calls, call)
		if r.h.OnToolCalls != nil {
			r.h.OnToolCalls(append([]FunctionCall(nil), r.calls...))
		}

	case "final":
		if r.finalSent {
			r.logger.Debug("ignoring duplicate final event")
			return false, nil
		}
		content, meta, err := r.buildFinal(ev)
		if err != nil {
			return false, err
		}
		r.finalSent = true
		r.content = content
		r.calls = meta.ToolCalls
		if meta.ThinkingContent != "" {
			r.thinking = meta.ThinkingContent
		}
		if r.h.OnFinal != nil {
			r.h.OnFinal(content, meta)
		}

	case "done":
		r.finish(errorText(ev.Error))
		return true, nil

	case "error":
		msg := errorText(ev.Error)
		if msg == "" {
			msg = rawString(ev.Message)
		}
		if msg == "" {
			msg = "the server reported an error"
		}
		return false, &StreamError{Kind: ErrUnknown, Message: msg}

	default:
		r.logger.Debug("ignoring unknown stream event", "type", ev.Type)
	}
	return false, nil
}

func (r *reducer) finish(errText string) {
	if r.doneSent {
		return
	}
	r.doneSent = true
	if r.h.OnDone != nil {
		r.h.OnDone(Snapshot{
			Content:   r.content,
			Thinking:  r.thinking,
			ToolCalls: append([]FunctionCall(nil), r.calls...),
			Error:     errText,
		})
	}
}

// buildFinal prefers the full message content blocks and falls back to the summary.
func (r *reducer) buildFinal(ev streamEvent) (string, MessageMetadata, error) {
	if present(ev.Message) {
		var msg anthropic.Message
		if err := json.Unmarshal(ev.Message, &msg); err == nil && len(msg.Content) > 0 {
			content, meta := fromContentBlocks(msg)
			return content, meta, nil
		}
	}
	if ev.Summary != nil {
		return r.fromSummary(*ev.Summary)
	}
	meta := MessageMetadata{
		ThinkingContent: r.thinking,
		ToolCalls:       DedupeCalls(r.calls),
	}
	return r.content, meta, nil
}

func fromContentBlocks(msg anthropic.Message) (string, MessageMetadata) {
	var (
		text     strings.Builder
		thinking strings.Builder
		meta     MessageMetadata
	)
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "thinking":
			thinking.WriteString(block.Thinking)
			if meta.ThinkingSignature == "" {
				meta.ThinkingSignature = block.Signature
			}
		case "tool_use":
			meta.ToolCalls = append(meta.ToolCalls, FunctionCall{
				ID:       block.ID,
				Name:     block.Name,
				Args:     parseArgs(block.Input),
				Provider: ProviderAnthropic,
			})
		}
	}
	meta.ThinkingContent = thinking.String()
	meta.ToolCalls = DedupeCalls(meta.ToolCalls)
	meta.FinishReason = string(msg.StopReason)
	if msg.Usage.InputTokens > 0 || msg.Usage.OutputTokens > 0 {
		meta.UsageMetadata = &Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		}
	}
	return text.String(), meta
}

// finalSummary is the provider-neutral final payload.
type finalSummary struct {
	Text              string            `json:"text"`
	Response          string            `json:"response"`
	Content           json.RawMessage   `json:"content"` // string or []summaryPart
	Thinking          string            `json:"thinking"`
	ThinkingContent   string            `json:"thinkingContent"`
	ThinkingSignature string            `json:"thinkingSignature"`
	ToolCalls         []json.RawMessage `json:"toolCalls"`
	FinishReason      string            `json:"finishReason"`
	Usage             *summaryUsage     `json:"usage"`
	UsageMetadata     *summaryUsage     `json:"usageMetadata"`
}

type summaryPart struct {
	Text             string `json:"text"`
	Thought          bool   `json:"thought"`
	ThoughtSignature string `json:"thoughtSignature"`
}

type summaryUsage struct {
	InputTokens          int `json:"inputTokens"`
	OutputTokens         int `json:"outputTokens"`
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

func (u *summaryUsage) toUsage() *Usage {
	if u == nil {
		return nil
	}
	out := &Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}
	if out.InputTokens == 0 {
		out.InputTokens = u.PromptTokenCount
	}
	if out.OutputTokens == 0 {
		out.OutputTokens = u.CandidatesTokenCount
	}
	return out
}

func (r *reducer) fromSummary(s finalSummary) (string, MessageMetadata, error) {
	var meta MessageMetadata

	content, parts := summaryContent(s.Content)
	var thoughts strings.Builder
	for _, p := range parts {
		if p.Thought {
			thoughts.WriteString(p.Text)
		}
	}
	if content == "" {
		content = firstNonEmpty(s.Text, s.Response, r.content)
	}

	meta.ThinkingContent = firstNonEmpty(s.ThinkingContent, s.Thinking, thoughts.String(), r.thinking)

	for _, raw := range s.ToolCalls {
		call, err := DecodeFunctionCall(raw)
		if err != nil {
			return "", MessageMetadata{}, &StreamError{Kind: ErrUnknown, Message: "malformed tool call in final summary", Err: err}
		}
		meta.ToolCalls = append(meta.ToolCalls, call)
	}
	if len(meta.ToolCalls) == 0 {
		meta.ToolCalls = r.calls
	}
	meta.ToolCalls = DedupeCalls(meta.ToolCalls)

	// Signature precedence: first summary tool call, first content part, explicit field.
	if len(s.ToolCalls) > 0 && len(meta.ToolCalls) > 0 {
		meta.ThinkingSignature = meta.ToolCalls[0].ThoughtSignature
	}
	if meta.ThinkingSignature == "" && len(parts) > 0 {
		meta.ThinkingSignature = parts[0].ThoughtSignature
	}
	if meta.ThinkingSignature == "" {
		meta.ThinkingSignature = s.ThinkingSignature
	}

	meta.FinishReason = s.FinishReason
	meta.UsageMetadata = s.Usage.toUsage()
	if meta.UsageMetadata == nil {
		meta.UsageMetadata = s.UsageMetadata.toUsage()
	}
	return content, meta, nil
}

// summaryContent reads summary.content as either a string or a list of parts.
func summaryContent(raw json.RawMessage) (string, []summaryPart) {
	if !present(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []summaryPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", nil
	}
	var text strings.Builder
	for _, p := range parts {
		if !p.Thought {
			text.WriteString(p.Text)
		}
	}
	return text.String(), parts
}

// interpretContent unwraps a {"response": ...} or {"text": ...} envelope,
// returning the raw accumulator when it is not (yet) one.
func interpretContent(raw string) string {
	var env struct {
		Response *string `json:"response"`
		Text     *string `json:"text"`
	}
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return raw
	}
	if env.Response != nil {
		return *env.Response
	}
	if env.Text != nil {
		return *env.Text
	}
	return raw
}

// rawString returns a JSON string value, or the raw JSON for non-strings.
func rawString(raw json.RawMessage) string {
	if !present(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func errorText(raw json.RawMessage) string {
	if !present(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func firstObject(raws ...json.RawMessage) json.RawMessage {
	for _, raw := range raws {
		if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
			return trimmed
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
