package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/park285/anygpt-chess/internal/completion/uci"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func chessRequest() Request {
	return Request{
		Provider:  "anygpt",
		Operation: "anygpt_chat_completion",
		Messages: []Message{
			{Role: RoleSystem, Content: "You are a chess engine."},
			{Role: RoleUser, Content: "What is your next move?"},
		},
		MaxTokens: 10,
		Metadata:  map[string]string{MetadataFEN: "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"},
	}
}

// newTestServer serves handler on an in-memory listener and returns a client
// dialing it.
func newTestServer(t *testing.T, handler fasthttp.RequestHandler, opts ...RemoteOption) *RemoteClient {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		_ = srv.Shutdown()
		_ = ln.Close()
	})
	dial := func(string) (net.Conn, error) { return ln.Dial() }
	opts = append([]RemoteOption{WithDial(dial)}, opts...)
	return NewRemoteClient("http://completion.test/v1/", "gpt-test", opts...)
}

func writeChoice(ctx *fasthttp.RequestCtx, text string) {
	ctx.SetContentType("application/json")
	_ = json.NewEncoder(ctx).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": text}, "finish_reason": "stop"}},
	})
}

func TestResponseText(t *testing.T) {
	var nilResp *Response
	if nilResp.Text() != "" {
		t.Fatalf("nil response should have empty text")
	}
	if (&Response{}).Text() != "" {
		t.Fatalf("empty response should have empty text")
	}
	if got := TextResponse("  e2e4\n").Text(); got != "e2e4" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{err: nil, want: false},
		{err: context.Canceled, want: false},
		{err: ErrEmptyResponse, want: false},
		{err: &APIError{Status: 400}, want: false},
		{err: &APIError{Status: 401}, want: false},
		{err: &APIError{Status: 429}, want: true},
		{err: fmt.Errorf("wrapped: %w", &APIError{Status: 503}), want: true},
		{err: errors.New("connection reset"), want: true},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestScripted(t *testing.T) {
	s := NewScripted("e2e4", "I resign")
	ctx := context.Background()
	for _, want := range []string{"e2e4", "I resign"} {
		resp, err := s.Complete(ctx, chessRequest())
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if resp.Text() != want {
			t.Fatalf("expected %q, got %q", want, resp.Text())
		}
	}
	if _, err := s.Complete(ctx, chessRequest()); !errors.Is(err, ErrScriptExhausted) {
		t.Fatalf("expected ErrScriptExhausted, got %v", err)
	}
	if got := len(s.Requests()); got != 3 {
		t.Fatalf("expected 3 recorded requests, got %d", got)
	}
}

func TestInteractive(t *testing.T) {
	var out bytes.Buffer
	c := NewInteractive(strings.NewReader(" e2e4 \ng1f3"), &out)

	resp, err := c.Complete(context.Background(), chessRequest())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text() != "e2e4" {
		t.Fatalf("unexpected reply %q", resp.Text())
	}
	if !strings.Contains(out.String(), "What is your next move?\n"+interactivePrompt) {
		t.Fatalf("prompt not written: %q", out.String())
	}

	resp, err = c.Complete(context.Background(), chessRequest())
	if err != nil {
		t.Fatalf("Complete without trailing newline: %v", err)
	}
	if resp.Text() != "g1f3" {
		t.Fatalf("unexpected reply %q", resp.Text())
	}

	if _, err := c.Complete(context.Background(), chessRequest()); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}

func TestInteractiveCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	c := NewInteractive(pr, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Complete(ctx, chessRequest()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	go func() { _, _ = io.WriteString(pw, "d2d4\n") }()
	resp, err := c.Complete(context.Background(), chessRequest())
	if err != nil {
		t.Fatalf("Complete after cancel: %v", err)
	}
	if resp.Text() != "d2d4" {
		t.Fatalf("unexpected reply %q", resp.Text())
	}
}

func TestRemoteClientComplete(t *testing.T) {
	var got chatRequest
	var auth, path string
	client := newTestServer(t, func(ctx *fasthttp.RequestCtx) {
		path = string(ctx.Path())
		auth = string(ctx.Request.Header.Peek("Authorization"))
		if err := json.Unmarshal(ctx.PostBody(), &got); err != nil {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			return
		}
		writeChoice(ctx, " e2e4 ")
	}, WithAPIKey("sk-test"))

	resp, err := client.Complete(context.Background(), chessRequest())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text() != "e2e4" {
		t.Fatalf("unexpected text %q", resp.Text())
	}
	if path != "/v1/chat/completions" {
		t.Fatalf("unexpected path %q", path)
	}
	if auth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	want := chatRequest{Model: "gpt-test", Messages: chessRequest().Messages, MaxTokens: 10}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("request body mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoteClientBodyHasNoUserField(t *testing.T) {
	var body map[string]any
	client := newTestServer(t, func(ctx *fasthttp.RequestCtx) {
		_ = json.Unmarshal(ctx.PostBody(), &body)
		writeChoice(ctx, "e2e4")
	})
	if _, err := client.Complete(context.Background(), chessRequest()); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, ok := body["user"]; ok {
		t.Fatalf("provider name leaked into the user field: %v", body)
	}
}

func TestRemoteClientHeaders(t *testing.T) {
	var org, blank string
	client := newTestServer(t, func(ctx *fasthttp.RequestCtx) {
		org = string(ctx.Request.Header.Peek("OpenAI-Organization"))
		blank = string(ctx.Request.Header.Peek("X-Blank"))
		writeChoice(ctx, "e2e4")
	}, WithHeaders(map[string]string{" OpenAI-Organization ": "org-chess", "X-Blank": " "}))

	if _, err := client.Complete(context.Background(), chessRequest()); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if org != "org-chess" || blank != "" {
		t.Fatalf("unexpected headers org=%q blank=%q", org, blank)
	}
}

func TestUnsupportedOperation(t *testing.T) {
	var calls atomic.Int32
	remote := newTestServer(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		writeChoice(ctx, "e2e4")
	})
	var out bytes.Buffer
	interactive := NewInteractive(strings.NewReader("e2e4\n"), &out)

	req := chessRequest()
	req.Operation = "anygpt_image_generation"
	for name, c := range map[string]Completer{"remote": remote, "interactive": interactive} {
		if _, err := c.Complete(context.Background(), req); !errors.Is(err, ErrUnsupportedOperation) {
			t.Fatalf("%s: expected ErrUnsupportedOperation, got %v", name, err)
		}
	}
	if calls.Load() != 0 || out.Len() != 0 {
		t.Fatalf("unsupported operation reached the backend: calls=%d out=%q", calls.Load(), out.String())
	}
	if IsRetryable(fmt.Errorf("wrapped: %w", ErrUnsupportedOperation)) {
		t.Fatalf("unsupported operation must not be retried")
	}

	req.Operation = ""
	resp, err := interactive.Complete(context.Background(), req)
	if err != nil || resp.Text() != "e2e4" {
		t.Fatalf("empty operation should default to chat completion: %v %v", resp, err)
	}
}

func TestRemoteClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestServer(t, func(ctx *fasthttp.RequestCtx) {
		if calls.Add(1) == 1 {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			ctx.SetBodyString("busy")
			return
		}
		writeChoice(ctx, "d2d4")
	}, WithRetry(2))

	resp, err := client.Complete(context.Background(), chessRequest())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text() != "d2d4" || calls.Load() != 2 {
		t.Fatalf("expected success on second attempt, got %q after %d calls", resp.Text(), calls.Load())
	}
}

func TestRemoteClientNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	client := newTestServer(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString(`{"error":"bad model"}`)
	}, WithRetry(3))

	_, err := client.Complete(context.Background(), chessRequest())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != fasthttp.StatusBadRequest {
		t.Fatalf("expected 400 APIError, got %v", err)
	}
	if !strings.Contains(apiErr.Body, "bad model") {
		t.Fatalf("body not kept: %q", apiErr.Body)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestRemoteClientGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	client := newTestServer(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		ctx.SetStatusCode(fasthttp.StatusBadGateway)
	}, WithRetry(1))

	_, err := client.Complete(context.Background(), chessRequest())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != fasthttp.StatusBadGateway {
		t.Fatalf("expected 502 APIError, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestRemoteClientTimeout(t *testing.T) {
	client := newTestServer(t, func(ctx *fasthttp.RequestCtx) {
		time.Sleep(300 * time.Millisecond)
		writeChoice(ctx, "e2e4")
	}, WithTimeout(50*time.Millisecond), WithRetry(0))

	start := time.Now()
	_, err := client.Complete(context.Background(), chessRequest())
	if !errors.Is(err, fasthttp.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Fatalf("timeout not honored, took %v", elapsed)
	}
}

func TestRemoteClientEmptyChoices(t *testing.T) {
	client := newTestServer(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"choices":[]}`)
	})
	if _, err := client.Complete(context.Background(), chessRequest()); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestRemoteClientCancelledContext(t *testing.T) {
	client := newTestServer(t, func(ctx *fasthttp.RequestCtx) { writeChoice(ctx, "e2e4") })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.Complete(ctx, chessRequest()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type fakeSearcher struct {
	req  uci.SearchRequest
	resp uci.SearchResponse
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, req uci.SearchRequest) (uci.SearchResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestEngineCompleter(t *testing.T) {
	fake := &fakeSearcher{resp: uci.SearchResponse{BestMove: "g1f3"}}
	e := &EngineCompleter{engine: fake, limits: uci.Limits{MoveTimeMillis: 100}}

	resp, err := e.Complete(context.Background(), chessRequest())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text() != "g1f3" {
		t.Fatalf("unexpected move %q", resp.Text())
	}
	if fake.req.FEN != chessRequest().Metadata[MetadataFEN] || fake.req.Limits.MoveTimeMillis != 100 {
		t.Fatalf("unexpected search request %+v", fake.req)
	}

	req := chessRequest()
	req.Metadata = nil
	if _, err := e.Complete(context.Background(), req); err == nil {
		t.Fatalf("expected error without fen metadata")
	}

	fake.resp = uci.SearchResponse{BestMove: "e2e4"}
	if _, err := e.Complete(context.Background(), chessRequest()); err != nil {
		t.Fatalf("Complete without candidates: %v", err)
	}

	fake.err = uci.ErrNoBestMove
	if _, err := e.Complete(context.Background(), chessRequest()); !errors.Is(err, uci.ErrNoBestMove) {
		t.Fatalf("expected wrapped ErrNoBestMove, got %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEngineCompleterLogsCandidates(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	fake := &fakeSearcher{resp: uci.SearchResponse{
		BestMove: "e2e4",
		Candidates: []uci.Candidate{
			{Move: "e2e4", EvalCP: 34, Principal: []string{"e2e4", "e7e5"}},
			{Move: "d2d4", EvalCP: 10, Principal: []string{"d2d4"}},
		},
	}}
	e := &EngineCompleter{engine: fake, logger: zap.New(core)}

	if _, err := e.Complete(context.Background(), chessRequest()); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	entries := logs.FilterMessage("engine_search").All()
	if len(entries) != 1 {
		t.Fatalf("expected one engine_search entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["top_move"] != "e2e4" || fields["eval_cp"] != int64(34) || fields["lines"] != int64(2) || fields["alt1"] != "d2d4(10)" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestWithSpinner(t *testing.T) {
	var out bytes.Buffer
	inner := CompleterFunc(func(ctx context.Context, req Request) (*Response, error) {
		time.Sleep(20 * time.Millisecond)
		return TextResponse("e2e4"), nil
	})
	resp, err := WithSpinner(inner, &out).Complete(context.Background(), chessRequest())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text() != "e2e4" {
		t.Fatalf("unexpected text %q", resp.Text())
	}
}

func TestBackoffDuration(t *testing.T) {
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	for i, w := range want {
		if got := backoffDuration(i + 1); got != w {
			t.Fatalf("backoffDuration(%d) = %v, want %v", i+1, got, w)
		}
	}
	if got := backoffDuration(20); got != 3200*time.Millisecond {
		t.Fatalf("backoff should cap, got %v", got)
	}
}
