// Package chat drives a conversation: it owns the message log, runs one
// streaming turn at a time, gates tool calls behind confirmation, and hands
// every log change to the session saver.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/samsaffron/term-relay/internal/llm"
	"github.com/samsaffron/term-relay/internal/session"
)

var (
	// ErrCommand is returned for sigil-prefixed input, which belongs to the caller's command handling.
	ErrCommand = errors.New("commands are not conversation content")
	// ErrNoPendingToolCall is returned by ConfirmPending when nothing awaits confirmation.
	ErrNoPendingToolCall = errors.New("no pending tool call")
	// ErrSessionNotFound is returned by LoadSession for unknown ids.
	ErrSessionNotFound = errors.New("session not found")
)

// CommandSigil marks input the conversation refuses.
const CommandSigil = "/"

// Fixed content of synthetic tool messages.
const (
	RejectedMessage   = "Tool call rejected by user."
	toolFailurePrefix = "Tool execution failed: "
)

// Streamer runs a single turn against the relay.
type Streamer interface {
	Send(ctx context.Context, req llm.ChatRequest, h llm.Handlers) error
}

// Executor runs a tool call on the host.
type Executor interface {
	Execute(ctx context.Context, call llm.FunctionCall) (any, error)
}

// Settings is the slice of local configuration the conversation reads.
type Settings interface {
	AcceptAllToolCalls() bool
	SetAcceptAllToolCalls(bool) error
	// ChatDefaults returns the request template (sdk, provider, model, plan...) without messages.
	ChatDefaults() llm.ChatRequest
}

// Decision answers a pending tool call.
type Decision int

const (
	Accept Decision = iota
	AcceptAll
	Reject
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case AcceptAll:
		return "accept_all"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// PendingToolCall is a call waiting for the user.
type PendingToolCall struct {
	Call              llm.FunctionCall
	ThinkingSignature string
}

// State is a point-in-time copy of everything a UI needs to draw.
type State struct {
	// Version increases with every notification; a lower value is an older snapshot.
	Version     uint64
	SessionID   string
	Messages    []llm.Message
	Thinking    string
	Content     string
	ToolCalls   []llm.FunctionCall // observed during the current stream
	Pending     *PendingToolCall
	RunningTool *llm.FunctionCall
	Processing  bool
	ToolHistory []llm.ToolCallStatus
}

// Options configures a Conversation.
type Options struct {
	Client    Streamer
	Executor  Executor
	Store     session.Store
	Settings  Settings
	Directory string
	SessionID string // empty starts a new session
	Logger    *slog.Logger
	// OnChange is called after every state transition, outside the lock.
	// Calls may come from several goroutines.
	OnChange func(State)
}

// Conversation owns the message log. All fields below mu are guarded by it.
type Conversation struct {
	client    Streamer
	executor  Executor
	settings  Settings
	store     session.Store
	saver     *session.Saver
	directory string
	logger    *slog.Logger
	onChange  func(State)

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu          sync.Mutex
	gen         uint64 // bumped whenever the in-flight turn is superseded or cancelled
	cancels     []context.CancelFunc
	messages    []llm.Message
	sessionID   string
	thinking    string
	content     string
	streamCalls []llm.FunctionCall
	finalSeen   bool
	pending     *PendingToolCall
	running     *llm.FunctionCall
	processing  bool
	history     *llm.ToolCallHistory
	version     uint64
}

// New creates a Conversation. Close must be called to flush pending saves.
func New(opts Options) *Conversation {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := opts.Store
	if store == nil {
		store = &session.NoopStore{}
	}
	id := opts.SessionID
	if id == "" {
		id = session.NewID()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Conversation{
		client:     opts.Client,
		executor:   opts.Executor,
		settings:   opts.Settings,
		store:      store,
		saver:      session.NewSaver(store, logger),
		directory:  opts.Directory,
		logger:     logger,
		onChange:   opts.OnChange,
		baseCtx:    ctx,
		baseCancel: cancel,
		sessionID:  id,
		history:    llm.NewToolCallHistory(),
	}
}

// State returns a snapshot of the conversation.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Conversation) stateLocked() State {
	s := State{
		Version:     c.version,
		SessionID:   c.sessionID,
		Messages:    llm.Append(c.messages),
		Thinking:    c.thinking,
		Content:     c.content,
		ToolCalls:   append([]llm.FunctionCall(nil), c.streamCalls...),
		Processing:  c.processing,
		ToolHistory: c.history.Entries(),
	}
	if c.pending != nil {
		p := *c.pending
		s.Pending = &p
	}
	if c.running != nil {
		r := *c.running
		s.RunningTool = &r
	}
	return s
}

func (c *Conversation) notify() {
	if c.onChange == nil {
		return
	}
	c.mu.Lock()
	c.version++
	s := c.stateLocked()
	c.mu.Unlock()
	c.onChange(s)
}

// persistLocked schedules a save of the current log. It never blocks.
func (c *Conversation) persistLocked() {
	c.saver.Enqueue(c.messages, c.directory, c.sessionID)
}

// SubmitUserMessage appends text as a user message and starts a turn.
// Attachment paths are listed in a manifest after the text.
func (c *Conversation) SubmitUserMessage(text string, attachments []string) error {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, CommandSigil) {
		return ErrCommand
	}
	if trimmed == "" && len(attachments) == 0 {
		return nil
	}

	c.mu.Lock()
	c.messages = llm.Append(c.messages, llm.UserText(text+attachmentManifest(attachments)))
	c.persistLocked()
	c.startTurnLocked()
	c.mu.Unlock()
	c.notify()
	return nil
}

func attachmentManifest(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nAttached files:")
	for _, p := range paths {
		b.WriteString("\n- ")
		b.WriteString(p)
	}
	return b.String()
}

// SubmitTurn replaces the log with messages and starts a turn for it.
// Any in-flight turn is cancelled first.
func (c *Conversation) SubmitTurn(messages []llm.Message) {
	c.mu.Lock()
	c.messages = llm.Append(messages)
	c.startTurnLocked()
	c.mu.Unlock()
	c.notify()
}

// cancelLocked invalidates every callback of the current turn.
func (c *Conversation) cancelLocked() {
	c.gen++
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
	c.thinking = ""
	c.content = ""
	c.streamCalls = nil
	c.finalSeen = false
	c.pending = nil
	c.running = nil
	c.processing = false
}

func (c *Conversation) startTurnLocked() {
	c.cancelLocked()
	gen := c.gen
	ctx, cancel := context.WithCancel(c.baseCtx)
	c.cancels = append(c.cancels, cancel)
	c.processing = true

	req := c.settings.ChatDefaults()
	req.Messages = llm.ForLLM(c.messages)

	c.wg.Add(1)
	go c.runTurn(ctx, gen, req)
}

func (c *Conversation) runTurn(ctx context.Context, gen uint64, req llm.ChatRequest) {
	defer c.wg.Done()

	h := llm.Handlers{
		OnThinking: func(thinking string) {
			c.update(gen, func() { c.thinking = thinking })
		},
		OnContent: func(content string) {
			c.update(gen, func() { c.content = content })
		},
		OnToolCalls: func(calls []llm.FunctionCall) {
			c.update(gen, func() { c.streamCalls = append([]llm.FunctionCall(nil), calls...) })
		},
		OnFinal: func(content string, meta llm.MessageMetadata) {
			c.handleFinal(gen, content, meta)
		},
		OnDone: func(snap llm.Snapshot) {
			c.handleDone(gen, snap)
		},
	}

	if err := c.client.Send(ctx, req, h); err != nil {
		c.handleFailure(gen, err)
	}
}

// update applies fn if gen is still the live turn.
func (c *Conversation) update(gen uint64, fn func()) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	fn()
	c.mu.Unlock()
	c.notify()
}

func (c *Conversation) handleFinal(gen uint64, content string, meta llm.MessageMetadata) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	m := meta
	m.ToolCalls = llm.DedupeCalls(meta.ToolCalls)
	c.messages = llm.Append(c.messages, llm.AssistantText(content, &m))
	c.finalSeen = true
	c.thinking = ""
	c.content = ""
	c.streamCalls = nil
	c.persistLocked()
	call, hasCall := m.FirstToolCall()
	c.mu.Unlock()
	c.notify()

	if hasCall {
		c.handleToolCall(gen, call, m.ThinkingSignature)
	}
}

func (c *Conversation) handleDone(gen uint64, snap llm.Snapshot) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	// A stream that ended without a final still produced text worth keeping
	if !c.finalSeen && strings.TrimSpace(snap.Content) != "" {
		c.messages = llm.Append(c.messages, llm.AssistantText(snap.Content, &llm.MessageMetadata{
			ThinkingContent: snap.Thinking,
		}))
		c.persistLocked()
	}
	if snap.Error != "" {
		c.messages = llm.Append(c.messages, llm.SystemError("Error: "+snap.Error))
		c.persistLocked()
	}
	c.thinking = ""
	c.content = ""
	c.streamCalls = nil
	c.processing = c.running != nil
	c.mu.Unlock()
	c.notify()
}

func (c *Conversation) handleFailure(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if errors.Is(err, context.Canceled) {
		c.processing = c.running != nil
		c.mu.Unlock()
		c.notify()
		return
	}

	c.logger.Warn("turn failed", "session", c.sessionID, "kind", llm.KindOf(err), "error", err)
	c.messages = llm.Append(c.messages, llm.SystemError(describeError(err)))
	c.persistLocked()
	c.thinking = ""
	c.content = ""
	c.streamCalls = nil
	c.processing = c.running != nil
	c.mu.Unlock()
	c.notify()
}

func describeError(err error) string {
	var se *llm.StreamError
	if !errors.As(err, &se) {
		return "Error: " + err.Error()
	}
	switch se.Kind {
	case llm.ErrRateLimit:
		return "Rate limit exceeded: " + se.Message
	case llm.ErrAuth:
		return "Authentication error: " + se.Message
	case llm.ErrNetwork:
		return "Network error: " + se.Message
	case llm.ErrAPI:
		return "Server error: " + se.Message
	default:
		return "Error: " + se.Message
	}
}

// handleToolCall executes call now when auto-accept is on, otherwise parks it for ConfirmPending.
func (c *Conversation) handleToolCall(gen uint64, call llm.FunctionCall, signature string) {
	if c.settings.AcceptAllToolCalls() {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.executeTool(gen, call, signature)
		}()
		return
	}
	c.update(gen, func() {
		c.pending = &PendingToolCall{Call: call, ThinkingSignature: signature}
	})
}

// ConfirmPending resolves the pending tool call. The slot is cleared before
// anything runs, so a repeated confirmation finds nothing.
func (c *Conversation) ConfirmPending(d Decision) error {
	c.mu.Lock()
	p := c.pending
	if p == nil {
		c.mu.Unlock()
		return ErrNoPendingToolCall
	}
	c.pending = nil
	gen := c.gen
	c.mu.Unlock()
	c.notify()

	switch d {
	case Reject:
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return nil
		}
		c.history.RecordStatus(p.Call, llm.ToolStatusError, "rejected by user")
		c.messages = llm.Append(c.messages, llm.ToolResultMessage(p.Call, RejectedMessage, p.ThinkingSignature))
		c.persistLocked()
		c.startTurnLocked()
		c.mu.Unlock()
		c.notify()
		return nil
	case AcceptAll:
		if err := c.settings.SetAcceptAllToolCalls(true); err != nil {
			c.logger.Warn("failed to persist accept_all_tool_calls", "error", err)
		}
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.executeTool(gen, p.Call, p.ThinkingSignature)
	}()
	return nil
}

// executeTool runs call and feeds the outcome back as a new turn.
func (c *Conversation) executeTool(gen uint64, call llm.FunctionCall, signature string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(c.baseCtx)
	defer cancel()
	c.cancels = append(c.cancels, cancel)
	c.history.RecordStatus(call, llm.ToolStatusPending, "")
	c.running = &call
	c.processing = true
	c.mu.Unlock()
	c.notify()

	c.logger.Debug("executing tool", "tool", call.Name, "id", call.Fingerprint())
	result, err := c.executor.Execute(ctx, call)

	c.mu.Lock()
	if gen != c.gen {
		c.history.RecordStatus(call, llm.ToolStatusError, "cancelled")
		c.mu.Unlock()
		c.notify()
		return
	}
	c.running = nil

	var msg llm.Message
	if err != nil {
		c.logger.Debug("tool failed", "tool", call.Name, "error", err)
		c.history.RecordStatus(call, llm.ToolStatusError, err.Error())
		msg = llm.ToolResultMessage(call, toolFailurePrefix+err.Error(), signature)
	} else {
		c.history.RecordStatus(call, llm.ToolStatusSuccess, "")
		msg = llm.ToolResultMessage(call, encodeResult(result), signature)
	}
	c.messages = llm.Append(c.messages, msg)
	c.persistLocked()
	c.startTurnLocked()
	c.mu.Unlock()
	c.notify()
}

func encodeResult(result any) string {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprint(result)
	}
	return string(data)
}

// CancelTurn stops the in-flight turn and any running tool. Appended messages stay.
func (c *Conversation) CancelTurn() {
	c.mu.Lock()
	c.cancelLocked()
	c.mu.Unlock()
	c.notify()
}

// StartNewSession switches persistence to a fresh session id. The log is kept.
func (c *Conversation) StartNewSession() string {
	c.mu.Lock()
	c.sessionID = session.NewID()
	id := c.sessionID
	c.mu.Unlock()
	c.notify()
	return id
}

// Reset cancels any turn, clears the log and history, and starts a new session.
func (c *Conversation) Reset() string {
	c.mu.Lock()
	c.cancelLocked()
	c.messages = nil
	c.history.Reset()
	c.sessionID = session.NewID()
	id := c.sessionID
	c.mu.Unlock()
	c.notify()
	return id
}

// LoadSession replaces the log with a stored session and continues under its id.
func (c *Conversation) LoadSession(ctx context.Context, id string) error {
	sess, err := c.store.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("load session %s: %w", id, err)
	}
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	c.mu.Lock()
	c.cancelLocked()
	c.messages = llm.Append(sess.Messages)
	c.sessionID = sess.ID
	if sess.Directory != "" {
		c.directory = sess.Directory
	}
	c.history.Reset()
	c.mu.Unlock()
	c.notify()
	return nil
}

// Wait blocks until no turn or tool execution is running.
func (c *Conversation) Wait() {
	c.wg.Wait()
}

// Close cancels outstanding work and flushes queued saves.
func (c *Conversation) Close() {
	c.CancelTurn()
	c.baseCancel()
	c.wg.Wait()
	c.saver.Close()
}
