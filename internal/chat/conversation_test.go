package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samsaffron/term-relay/internal/llm"
	"github.com/samsaffron/term-relay/internal/session"
)

type turnFunc func(ctx context.Context, req llm.ChatRequest, h llm.Handlers) error

// fakeStreamer plays one scripted turn per Send call and records the requests.
type fakeStreamer struct {
	mu       sync.Mutex
	turns    []turnFunc
	requests []llm.ChatRequest
}

func (f *fakeStreamer) Send(ctx context.Context, req llm.ChatRequest, h llm.Handlers) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var turn turnFunc
	if len(f.turns) > 0 {
		turn = f.turns[0]
		f.turns = f.turns[1:]
	}
	f.mu.Unlock()
	if turn == nil {
		return errors.New("unexpected turn")
	}
	return turn(ctx, req, h)
}

func (f *fakeStreamer) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeStreamer) request(i int) llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

// reply streams text and finishes with a final and done.
func reply(text string) turnFunc {
	return func(ctx context.Context, req llm.ChatRequest, h llm.Handlers) error {
		h.OnContent(text)
		h.OnFinal(text, llm.MessageMetadata{FinishReason: "stop"})
		h.OnDone(llm.Snapshot{Content: text})
		return nil
	}
}

// toolTurn finishes with a final carrying call.
func toolTurn(call llm.FunctionCall, signature string) turnFunc {
	return func(ctx context.Context, req llm.ChatRequest, h llm.Handlers) error {
		h.OnToolCalls([]llm.FunctionCall{call})
		h.OnFinal("", llm.MessageMetadata{ToolCalls: []llm.FunctionCall{call}, ThinkingSignature: signature})
		h.OnDone(llm.Snapshot{ToolCalls: []llm.FunctionCall{call}})
		return nil
	}
}

type fakeExecutor struct {
	mu     sync.Mutex
	calls  []llm.FunctionCall
	result any
	err    error
}

func (f *fakeExecutor) Execute(ctx context.Context, call llm.FunctionCall) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.result, f.err
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSettings struct {
	mu        sync.Mutex
	acceptAll bool
	persisted []bool
}

func (s *fakeSettings) AcceptAllToolCalls() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acceptAll
}

func (s *fakeSettings) SetAcceptAllToolCalls(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acceptAll = v
	s.persisted = append(s.persisted, v)
	return nil
}

func (s *fakeSettings) ChatDefaults() llm.ChatRequest {
	return llm.ChatRequest{SDK: "anthropic", Provider: "anthropic", Model: "claude-sonnet-4-5", Plan: "free"}
}

type harness struct {
	conv     *Conversation
	client   *fakeStreamer
	exec     *fakeExecutor
	settings *fakeSettings
	store    *session.FileStore
}

func newHarness(t *testing.T, turns ...turnFunc) *harness {
	t.Helper()
	store, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		client:   &fakeStreamer{turns: turns},
		exec:     &fakeExecutor{result: map[string]any{"stdout": "ok"}},
		settings: &fakeSettings{},
		store:    store,
	}
	h.conv = New(Options{
		Client:    h.client,
		Executor:  h.exec,
		Store:     store,
		Settings:  h.settings,
		Directory: "/work",
		SessionID: "20261017-120000-abcdef",
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(h.conv.Close)
	return h
}

func roles(msgs []llm.Message) string {
	var parts []string
	for _, m := range msgs {
		parts = append(parts, string(m.Role))
	}
	return strings.Join(parts, ",")
}

var readCall = llm.FunctionCall{
	ID:       "toolu_1",
	Name:     "read_file",
	Args:     map[string]any{"file_path": "main.go"},
	Provider: llm.ProviderAnthropic,
}

func TestSubmitUserMessageRunsTurn(t *testing.T) {
	h := newHarness(t, reply("Hello there"))

	if err := h.conv.SubmitUserMessage("hi", nil); err != nil {
		t.Fatalf("SubmitUserMessage() error = %v", err)
	}
	h.conv.Wait()

	st := h.conv.State()
	if roles(st.Messages) != "user,assistant" {
		t.Fatalf("roles = %s", roles(st.Messages))
	}
	if st.Messages[1].Content != "Hello there" || st.Messages[1].Metadata.FinishReason != "stop" {
		t.Errorf("assistant = %+v", st.Messages[1])
	}
	if st.Processing || st.Content != "" {
		t.Errorf("transient state not cleared: %+v", st)
	}

	req := h.client.request(0)
	if req.Model != "claude-sonnet-4-5" || req.Plan != "free" || len(req.Messages) != 1 {
		t.Errorf("request = %+v", req)
	}
}

func TestSubmitUserMessagePersists(t *testing.T) {
	h := newHarness(t, reply("saved"))

	if err := h.conv.SubmitUserMessage("persist me", nil); err != nil {
		t.Fatal(err)
	}
	h.conv.Wait()
	h.conv.Close()

	sess, err := h.store.Load(context.Background(), "20261017-120000-abcdef")
	if err != nil || sess == nil {
		t.Fatalf("Load() = %v, %v", sess, err)
	}
	if roles(sess.Messages) != "user,assistant" || sess.Directory != "/work" {
		t.Errorf("stored session = %+v", sess)
	}
}

func TestSubmitUserMessageRejectsCommands(t *testing.T) {
	h := newHarness(t)

	for _, in := range []string{"/help", "  /quit"} {
		if err := h.conv.SubmitUserMessage(in, nil); !errors.Is(err, ErrCommand) {
			t.Errorf("SubmitUserMessage(%q) = %v, want ErrCommand", in, err)
		}
	}
	if err := h.conv.SubmitUserMessage("   ", nil); err != nil {
		t.Errorf("blank input error = %v", err)
	}
	h.conv.Wait()
	if n := h.client.requestCount(); n != 0 {
		t.Fatalf("requests = %d, want 0", n)
	}
	if len(h.conv.State().Messages) != 0 {
		t.Fatal("command input reached the log")
	}
}

func TestSubmitUserMessageAttachmentManifest(t *testing.T) {
	h := newHarness(t, reply("ok"))

	if err := h.conv.SubmitUserMessage("review these", []string{"a.go", "docs/b.md"}); err != nil {
		t.Fatal(err)
	}
	h.conv.Wait()

	want := "review these\n\nAttached files:\n- a.go\n- docs/b.md"
	if got := h.conv.State().Messages[0].Content; got != want {
		t.Errorf("content = %q, want %q", got, want)
	}
}

func TestNewTurnSupersedesInFlightTurn(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	stale := func(ctx context.Context, req llm.ChatRequest, h llm.Handlers) error {
		close(started)
		<-release
		// A misbehaving client keeps calling back after cancellation.
		h.OnContent("stale")
		h.OnFinal("stale answer", llm.MessageMetadata{})
		h.OnDone(llm.Snapshot{Content: "stale answer"})
		return nil
	}
	h := newHarness(t, stale, reply("fresh answer"))

	if err := h.conv.SubmitUserMessage("first", nil); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := h.conv.SubmitUserMessage("second", nil); err != nil {
		t.Fatal(err)
	}
	// Let the second turn land before the stale one wakes up.
	waitFor(t, func() bool { return len(h.conv.State().Messages) == 3 })
	close(release)
	h.conv.Wait()

	st := h.conv.State()
	if roles(st.Messages) != "user,user,assistant" {
		t.Fatalf("roles = %s", roles(st.Messages))
	}
	if st.Messages[2].Content != "fresh answer" {
		t.Errorf("assistant = %q", st.Messages[2].Content)
	}
	if st.Content != "" {
		t.Errorf("stale content leaked into state: %q", st.Content)
	}
}

func TestPendingToolCallReject(t *testing.T) {
	h := newHarness(t, toolTurn(readCall, "sig-1"), reply("understood"))

	if err := h.conv.SubmitUserMessage("read main.go", nil); err != nil {
		t.Fatal(err)
	}
	h.conv.Wait()

	st := h.conv.State()
	if st.Pending == nil || st.Pending.Call.Name != "read_file" {
		t.Fatalf("pending = %+v", st.Pending)
	}
	if st.Processing {
		t.Error("processing should be false while waiting for confirmation")
	}

	if err := h.conv.ConfirmPending(Reject); err != nil {
		t.Fatalf("ConfirmPending() error = %v", err)
	}
	h.conv.Wait()

	if n := h.client.requestCount(); n != 2 {
		t.Fatalf("requests = %d, want exactly 2", n)
	}
	if h.exec.count() != 0 {
		t.Fatal("rejected call was executed")
	}
	st = h.conv.State()
	if roles(st.Messages) != "user,assistant,user,assistant" {
		t.Fatalf("roles = %s", roles(st.Messages))
	}
	rejection := st.Messages[2]
	if rejection.Content != RejectedMessage || !rejection.IgnoreInDisplay {
		t.Errorf("rejection message = %+v", rejection)
	}
	if len(st.ToolHistory) != 1 || st.ToolHistory[0].Status != llm.ToolStatusError {
		t.Errorf("history = %+v", st.ToolHistory)
	}
}

func TestPendingToolCallAccept(t *testing.T) {
	h := newHarness(t, toolTurn(readCall, "sig-1"), reply("done reading"))

	if err := h.conv.SubmitUserMessage("read main.go", nil); err != nil {
		t.Fatal(err)
	}
	h.conv.Wait()
	if err := h.conv.ConfirmPending(Accept); err != nil {
		t.Fatalf("ConfirmPending() error = %v", err)
	}
	h.conv.Wait()

	if n := h.client.requestCount(); n != 2 {
		t.Fatalf("requests = %d, want exactly 2", n)
	}
	if h.exec.count() != 1 {
		t.Fatalf("executions = %d, want 1", h.exec.count())
	}

	st := h.conv.State()
	result := st.Messages[2]
	if result.Role != llm.RoleUser || !result.IgnoreInDisplay || result.IgnoreInLLM {
		t.Errorf("result flags = %+v", result)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(result.Content), &decoded); err != nil || decoded["stdout"] != "ok" {
		t.Errorf("result content = %q (%v)", result.Content, err)
	}
	call, ok := result.Metadata.FirstToolCall()
	if !ok || call.ID != "toolu_1" || result.Metadata.ThinkingSignature != "sig-1" {
		t.Errorf("result metadata = %+v", result.Metadata)
	}
	if st.ToolHistory[0].Status != llm.ToolStatusSuccess {
		t.Errorf("history = %+v", st.ToolHistory)
	}

	// The tool result goes back to the model on the follow-up turn.
	follow := h.client.request(1)
	if len(follow.Messages) != 3 || follow.Messages[2].Content != result.Content {
		t.Errorf("follow-up request messages = %+v", follow.Messages)
	}
}

func TestToolFailureStillResubmits(t *testing.T) {
	h := newHarness(t, toolTurn(readCall, ""), reply("sorry"))
	h.exec.err = errors.New("FILE_NOT_FOUND: main.go")

	if err := h.conv.SubmitUserMessage("read main.go", nil); err != nil {
		t.Fatal(err)
	}
	h.conv.Wait()
	if err := h.conv.ConfirmPending(Accept); err != nil {
		t.Fatal(err)
	}
	h.conv.Wait()

	if n := h.client.requestCount(); n != 2 {
		t.Fatalf("requests = %d, want exactly 2", n)
	}
	st := h.conv.State()
	if got := st.Messages[2].Content; got != "Tool execution failed: FILE_NOT_FOUND: main.go" {
		t.Errorf("failure message = %q", got)
	}
	if st.ToolHistory[0].Status != llm.ToolStatusError || st.ToolHistory[0].ErrorMessage == "" {
		t.Errorf("history = %+v", st.ToolHistory)
	}
}

func TestAcceptAllPersistsAndAutoRunsLaterCalls(t *testing.T) {
	second := llm.FunctionCall{Name: "glob", Args: map[string]any{"pattern": "*.go"}}
	h := newHarness(t, toolTurn(readCall, ""), toolTurn(second, ""), reply("all done"))

	if err := h.conv.SubmitUserMessage("look around", nil); err != nil {
		t.Fatal(err)
	}
	h.conv.Wait()
	if err := h.conv.ConfirmPending(AcceptAll); err != nil {
		t.Fatal(err)
	}
	h.conv.Wait()

	if len(h.settings.persisted) != 1 || !h.settings.persisted[0] {
		t.Fatalf("persisted = %v, want [true]", h.settings.persisted)
	}
	if h.exec.count() != 2 {
		t.Fatalf("executions = %d, want 2", h.exec.count())
	}
	if n := h.client.requestCount(); n != 3 {
		t.Fatalf("requests = %d, want 3", n)
	}
	if st := h.conv.State(); st.Pending != nil {
		t.Errorf("second call should not wait for confirmation: %+v", st.Pending)
	}
}

func TestAutoAcceptSkipsConfirmation(t *testing.T) {
	h := newHarness(t, toolTurn(readCall, ""), reply("read it"))
	h.settings.acceptAll = true

	if err := h.conv.SubmitUserMessage("read main.go", nil); err != nil {
		t.Fatal(err)
	}
	h.conv.Wait()

	if h.exec.count() != 1 || h.client.requestCount() != 2 {
		t.Fatalf("executions = %d, requests = %d", h.exec.count(), h.client.requestCount())
	}
	if err := h.conv.ConfirmPending(Accept); !errors.Is(err, ErrNoPendingToolCall) {
		t.Errorf("ConfirmPending() = %v, want ErrNoPendingToolCall", err)
	}
}

func TestConfirmPendingTwiceExecutesOnce(t *testing.T) {
	h := newHarness(t, toolTurn(readCall, ""), reply("ok"))

	if err := h.conv.ConfirmPending(Accept); !errors.Is(err, ErrNoPendingToolCall) {
		t.Fatalf("empty ConfirmPending() = %v", err)
	}
	if err := h.conv.SubmitUserMessage("read", nil); err != nil {
		t.Fatal(err)
	}
	h.conv.Wait()

	first := h.conv.ConfirmPending(Accept)
	second := h.conv.ConfirmPending(Accept)
	h.conv.Wait()

	if first != nil || !errors.Is(second, ErrNoPendingToolCall) {
		t.Fatalf("confirm results = %v, %v", first, second)
	}
	if h.exec.count() != 1 {
		t.Fatalf("executions = %d, want 1", h.exec.count())
	}
}

func TestClientFailureAppendsSystemError(t *testing.T) {
	fail := func(ctx context.Context, req llm.ChatRequest, h llm.Handlers) error {
		return &llm.StreamError{Kind: llm.ErrRateLimit, StatusCode: 429, Message: "slow down"}
	}
	h := newHarness(t, fail, reply("recovered"))

	if err := h.conv.SubmitUserMessage("hi", nil); err != nil {
		t.Fatal(err)
	}
	h.conv.Wait()

	st := h.conv.State()
	if roles(st.Messages) != "user,system" {
		t.Fatalf("roles = %s", roles(st.Messages))
	}
	sys := st.Messages[1]
	if !sys.IgnoreInLLM || sys.IgnoreInDisplay || !strings.Contains(sys.Content, "slow down") {
		t.Errorf("system message = %+v", sys)
	}
	if st.Processing {
		t.Error("processing not cleared after failure")
	}

	if err := h.conv.SubmitUserMessage("again", nil); err != nil {
		t.Fatal(err)
	}
	h.conv.Wait()
	if msgs := h.client.request(1).Messages; roles(msgs) != "user,user" {
		t.Errorf("error message leaked to the model: %s", roles(msgs))
	}
}

func TestDoneErrorAppendsSystemError(t *testing.T) {
	turn := func(ctx context.Context, req llm.ChatRequest, h llm.Handlers) error {
		h.OnDone(llm.Snapshot{Error: "provider overloaded"})
		return nil
	}
	h := newHarness(t, turn)

	if err := h.conv.SubmitUserMessage("hi", nil); err != nil {
		t.Fatal(err)
	}
	h.conv.Wait()

	st := h.conv.State()
	if roles(st.Messages) != "user,system" || !strings.Contains(st.Messages[1].Content, "provider overloaded") {
		t.Fatalf("messages = %+v", st.Messages)
	}
}

func TestDoneWithoutFinalKeepsContent(t *testing.T) {
	turn := func(ctx context.Context, req llm.ChatRequest, h llm.Handlers) error {
		h.OnContent("partial text")
		h.OnDone(llm.Snapshot{Content: "partial text"})
		return nil
	}
	h := newHarness(t, turn)

	if err := h.conv.SubmitUserMessage("hi", nil); err != nil {
		t.Fatal(err)
	}
	h.conv.Wait()

	st := h.conv.State()
	if roles(st.Messages) != "user,assistant" || st.Messages[1].Content != "partial text" {
		t.Fatalf("messages = %+v", st.Messages)
	}
}

func TestCancelTurn(t *testing.T) {
	started := make(chan struct{})
	block := func(ctx context.Context, req llm.ChatRequest, h llm.Handlers) error {
		h.OnThinking("pondering")
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	h := newHarness(t, block)

	if err := h.conv.SubmitUserMessage("think hard", nil); err != nil {
		t.Fatal(err)
	}
	<-started
	h.conv.CancelTurn()
	h.conv.Wait()

	st := h.conv.State()
	if st.Processing || st.Thinking != "" {
		t.Errorf("state after cancel = %+v", st)
	}
	if roles(st.Messages) != "user" {
		t.Errorf("cancel should keep the user message and add nothing: %s", roles(st.Messages))
	}
}

func TestCancelDropsPendingToolCall(t *testing.T) {
	h := newHarness(t, toolTurn(readCall, ""))

	if err := h.conv.SubmitUserMessage("read", nil); err != nil {
		t.Fatal(err)
	}
	h.conv.Wait()
	h.conv.CancelTurn()

	if err := h.conv.ConfirmPending(Accept); !errors.Is(err, ErrNoPendingToolCall) {
		t.Fatalf("ConfirmPending() = %v", err)
	}
}

func TestStartNewSessionKeepsLog(t *testing.T) {
	h := newHarness(t, reply("hi"))

	if err := h.conv.SubmitUserMessage("hello", nil); err != nil {
		t.Fatal(err)
	}
	h.conv.Wait()

	before := h.conv.State()
	id := h.conv.StartNewSession()
	after := h.conv.State()
	if id == before.SessionID || after.SessionID != id {
		t.Fatalf("session ids: before=%s new=%s after=%s", before.SessionID, id, after.SessionID)
	}
	if len(after.Messages) != len(before.Messages) {
		t.Error("StartNewSession cleared the log")
	}

	h.conv.Reset()
	if st := h.conv.State(); len(st.Messages) != 0 || st.SessionID == id {
		t.Errorf("Reset() state = %+v", st)
	}
}

func TestLoadSession(t *testing.T) {
	h := newHarness(t, reply("continuing"))
	stored := []llm.Message{
		llm.UserText("earlier question"),
		llm.AssistantText("earlier answer", nil),
		llm.SystemError("Network error: reset"),
	}
	if _, err := h.store.Save(context.Background(), stored, "/old", "20260101-000000-aaaaaa"); err != nil {
		t.Fatal(err)
	}

	if err := h.conv.LoadSession(context.Background(), "20260101-000000-aaaaaa"); err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	st := h.conv.State()
	if st.SessionID != "20260101-000000-aaaaaa" || len(st.Messages) != 3 {
		t.Fatalf("state = %+v", st)
	}

	if err := h.conv.SubmitUserMessage("and now?", nil); err != nil {
		t.Fatal(err)
	}
	h.conv.Wait()
	if msgs := h.client.request(0).Messages; roles(msgs) != "user,assistant,user" {
		t.Errorf("request roles = %s", roles(msgs))
	}

	if err := h.conv.LoadSession(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("LoadSession(missing) = %v", err)
	}
}

func TestOnChangeObservesStreaming(t *testing.T) {
	var (
		mu       sync.Mutex
		contents []string
	)
	client := &fakeStreamer{turns: []turnFunc{func(ctx context.Context, req llm.ChatRequest, h llm.Handlers) error {
		h.OnContent("Hel")
		h.OnContent("Hello")
		h.OnFinal("Hello", llm.MessageMetadata{})
		h.OnDone(llm.Snapshot{Content: "Hello"})
		return nil
	}}}
	conv := New(Options{
		Client:   client,
		Executor: &fakeExecutor{},
		Settings: &fakeSettings{},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnChange: func(s State) {
			mu.Lock()
			defer mu.Unlock()
			if s.Content != "" && (len(contents) == 0 || contents[len(contents)-1] != s.Content) {
				contents = append(contents, s.Content)
			}
		},
	})
	defer conv.Close()

	if err := conv.SubmitUserMessage("hi", nil); err != nil {
		t.Fatal(err)
	}
	conv.Wait()

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(contents, "|") != "Hel|Hello" {
		t.Errorf("observed content = %v", contents)
	}
}

func TestOnChangeVersionsOrderSnapshots(t *testing.T) {
	var (
		mu    sync.Mutex
		seen  = map[uint64]int{}
		order []uint64
	)
	client := &fakeStreamer{turns: []turnFunc{toolTurn(readCall, "sig"), reply("done")}}
	exec := &fakeExecutor{result: map[string]any{"content": "package main"}}
	conv := New(Options{
		Client:   client,
		Executor: exec,
		Settings: &fakeSettings{acceptAll: true},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnChange: func(s State) {
			mu.Lock()
			defer mu.Unlock()
			if _, dup := seen[s.Version]; dup {
				t.Errorf("version %d delivered twice", s.Version)
			}
			seen[s.Version] = len(s.Messages)
			order = append(order, s.Version)
		},
	})
	defer conv.Close()

	if err := conv.SubmitUserMessage("read main.go", nil); err != nil {
		t.Fatal(err)
	}
	conv.Wait()

	if client.requestCount() != 2 {
		t.Fatalf("requests = %d, want 2", client.requestCount())
	}
	mu.Lock()
	defer mu.Unlock()
	versions := append([]uint64(nil), order...)
	slices.Sort(versions)
	for i := 1; i < len(versions); i++ {
		if seen[versions[i]] < seen[versions[i-1]] {
			t.Fatalf("version %d has %d messages, older version %d has %d",
				versions[i], seen[versions[i]], versions[i-1], seen[versions[i-1]])
		}
	}
	if latest := conv.State(); latest.Version != versions[len(versions)-1] {
		t.Errorf("State().Version = %d, want last notified %d", latest.Version, versions[len(versions)-1])
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
