package assemblyai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"meetscribe/internal/domain"
	"meetscribe/internal/ports"
)

func TestBuildStreamURLDefaults(t *testing.T) {
	t.Parallel()

	raw, err := buildStreamURL("", "tok", ports.StreamingConfig{FormatTurns: true, SpeechModel: "universal"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(raw, "wss://streaming.assemblyai.com/v3/ws?") {
		t.Fatalf("unexpected url: %s", raw)
	}

	parsed, _ := url.Parse(raw)
	query := parsed.Query()
	want := map[string]string{
		"sample_rate":  "16000",
		"encoding":     "pcm_s16le",
		"format_turns": "true",
		"speech_model": "universal",
		"token":        "tok",
	}
	for key, value := range want {
		if got := query.Get(key); got != value {
			t.Fatalf("%s: got %q want %q", key, got, value)
		}
	}
}

func TestBuildStreamURLConvertsHTTPScheme(t *testing.T) {
	t.Parallel()

	raw, err := buildStreamURL("http://localhost:8080/v3/ws", "tok", ports.StreamingConfig{SampleRate: 8000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(raw, "ws://localhost:8080/v3/ws?") {
		t.Fatalf("unexpected url: %s", raw)
	}
	if !strings.Contains(raw, "sample_rate=8000") || strings.Contains(raw, "speech_model") {
		t.Fatalf("unexpected query: %s", raw)
	}
}

func TestBuildStreamURLInvalidBase(t *testing.T) {
	t.Parallel()

	if _, err := buildStreamURL(":// bad", "tok", ports.StreamingConfig{}); err == nil {
		t.Fatalf("expected invalid url error")
	}
}

func TestDecodeEvent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		payload     string
		formatTurns bool
		ok          bool
		want        domain.ProtocolEvent
	}{
		{"begin", `{"type":"Begin","id":"s1"}`, true, true, domain.ProtocolEvent{Kind: domain.EventBegin, SessionID: "s1"}},
		{"partial", `{"type":"Turn","transcript":"hel","end_of_turn":false}`, true, true, domain.ProtocolEvent{Kind: domain.EventTurn, Text: "hel"}},
		{"formatted final", `{"type":"Turn","transcript":"Hello.","end_of_turn":true,"turn_is_formatted":true}`, true, true, domain.ProtocolEvent{Kind: domain.EventTurn, Text: "Hello.", IsFinal: true}},
		{"unformatted end waits for formatted", `{"type":"Turn","transcript":"hello","end_of_turn":true,"turn_is_formatted":false}`, true, true, domain.ProtocolEvent{Kind: domain.EventTurn, Text: "hello"}},
		{"unformatted final without formatting", `{"type":"Turn","transcript":"hello","end_of_turn":true}`, false, true, domain.ProtocolEvent{Kind: domain.EventTurn, Text: "hello", IsFinal: true}},
		{"termination", `{"type":"Termination","audio_duration_seconds":3}`, true, true, domain.ProtocolEvent{Kind: domain.EventTermination}},
		{"unknown", `{"type":"SpeechStarted"}`, true, false, domain.ProtocolEvent{}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok, err := decodeEvent([]byte(tc.payload), tc.formatTurns)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tc.ok || got != tc.want {
				t.Fatalf("got %+v ok=%t, want %+v ok=%t", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestDecodeEventMalformed(t *testing.T) {
	t.Parallel()

	_, _, err := decodeEvent([]byte(`{"type":`), true)
	if !errors.Is(err, ports.ErrMalformedEvent) {
		t.Fatalf("expected malformed event error, got %v", err)
	}

	_, _, err = decodeEvent([]byte(`{"error":"bad token"}`), true)
	var transportErr *domain.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestStreamingSessionSetErrFirstWins(t *testing.T) {
	t.Parallel()

	s := &streamingSession{}
	s.setErr(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "closed"})
	if s.writeErr() != nil {
		t.Fatalf("expected close error to be ignored")
	}
	s.setErr(errors.New("first"))
	s.setErr(errors.New("second"))
	if s.writeErr() == nil || s.writeErr().Error() != "first" {
		t.Fatalf("expected first error to win")
	}
}

func TestProviderOpenRequiresCredential(t *testing.T) {
	t.Parallel()

	p := NewProvider(StreamingConfig{}, zerolog.Nop())
	_, err := p.Open(context.Background(), " ", ports.StreamingConfig{})
	var connectErr *domain.ConnectError
	if !errors.As(err, &connectErr) || connectErr.Kind != domain.ConnectUnauthorized {
		t.Fatalf("expected unauthorized connect error, got %v", err)
	}
}

func TestProviderOpenClassifiesHandshakeFailures(t *testing.T) {
	t.Parallel()

	cases := map[int]domain.ConnectKind{
		http.StatusUnauthorized:       domain.ConnectUnauthorized,
		http.StatusForbidden:          domain.ConnectUnauthorized,
		http.StatusBadRequest:         domain.ConnectRejected,
		http.StatusServiceUnavailable: domain.ConnectRejected,
	}
	for status, want := range cases {
		status, want := status, want
		t.Run(http.StatusText(status), func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(status)
			}))
			defer server.Close()

			p := NewProvider(StreamingConfig{URL: server.URL}, zerolog.Nop())
			_, err := p.Open(context.Background(), "tok", ports.StreamingConfig{})
			var connectErr *domain.ConnectError
			if !errors.As(err, &connectErr) || connectErr.Kind != want {
				t.Fatalf("expected %s, got %v", want, err)
			}
		})
	}
}

func TestProviderOpenUnreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	p := NewProvider(StreamingConfig{URL: addr}, zerolog.Nop())
	_, err := p.Open(context.Background(), "tok", ports.StreamingConfig{})
	var connectErr *domain.ConnectError
	if !errors.As(err, &connectErr) || connectErr.Kind != domain.ConnectUnreachable {
		t.Fatalf("expected unreachable, got %v", err)
	}
}

func TestStreamingSessionFullExchange(t *testing.T) {
	t.Parallel()

	received := make(chan []byte, 4)
	gotTerminate := make(chan string, 1)
	server := newStreamServer(t, func(conn *websocket.Conn, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			t.Errorf("missing token in query: %s", r.URL.RawQuery)
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Begin","id":"sess-1","expires_at":1}`))

		mt, frame, err := conn.ReadMessage()
		if err != nil || mt != websocket.BinaryMessage {
			t.Errorf("expected binary frame, got type=%d err=%v", mt, err)
			return
		}
		received <- frame

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"SpeechStarted"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Turn","transcript":"hello","end_of_turn":false}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Turn","transcript":"Hello world.","end_of_turn":true,"turn_is_formatted":true}`))

		mt, msg, err := conn.ReadMessage()
		if err != nil || mt != websocket.TextMessage {
			t.Errorf("expected terminate text message, got type=%d err=%v", mt, err)
			return
		}
		gotTerminate <- string(msg)

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Termination"}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	p := NewProvider(StreamingConfig{URL: server.URL}, zerolog.Nop())
	session, err := p.Open(context.Background(), "tok", ports.StreamingConfig{FormatTurns: true})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer session.Close()

	if session.Ready() {
		t.Fatalf("session should not be ready before Begin")
	}
	if err := session.Send(domain.AudioFrame{1, 2}); !errors.Is(err, ports.ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen before Begin, got %v", err)
	}

	event, err := session.Receive()
	if err != nil || event.Kind != domain.EventBegin || event.SessionID != "sess-1" {
		t.Fatalf("unexpected begin: %+v err=%v", event, err)
	}
	if !session.Ready() {
		t.Fatalf("session should be ready after Begin")
	}

	if err := session.Send(domain.AudioFrame{1, -1}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	select {
	case frame := <-received:
		if string(frame) != string([]byte{0x01, 0x00, 0xff, 0xff}) {
			t.Fatalf("unexpected frame bytes: %v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received frame")
	}

	partial, err := session.Receive()
	if err != nil || partial.IsFinal || partial.Text != "hello" {
		t.Fatalf("unexpected partial: %+v err=%v", partial, err)
	}
	final, err := session.Receive()
	if err != nil || !final.IsFinal || final.Text != "Hello world." {
		t.Fatalf("unexpected final: %+v err=%v", final, err)
	}

	if err := session.Terminate(); err != nil {
		t.Fatalf("terminate failed: %v", err)
	}
	if session.Ready() {
		t.Fatalf("session should not be ready after Terminate")
	}
	if err := session.Send(domain.AudioFrame{1}); !errors.Is(err, ports.ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen after Terminate, got %v", err)
	}
	select {
	case msg := <-gotTerminate:
		if msg != terminateMessage {
			t.Fatalf("unexpected terminate message: %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received terminate")
	}

	termination, err := session.Receive()
	if err != nil || termination.Kind != domain.EventTermination {
		t.Fatalf("unexpected termination: %+v err=%v", termination, err)
	}
	if _, err := session.Receive(); !errors.Is(err, ports.ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed after normal close, got %v", err)
	}

	if err := session.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}

func TestStreamingSessionCloseUnblocksReceive(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := newStreamServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Begin","id":"s"}`))
		<-release
	})
	defer close(release)

	p := NewProvider(StreamingConfig{URL: server.URL}, zerolog.Nop())
	session, err := p.Open(context.Background(), "tok", ports.StreamingConfig{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := session.Receive(); err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	errs := make(chan error, 1)
	go func() {
		_, err := session.Receive()
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_ = session.Close()

	select {
	case err := <-errs:
		if !errors.Is(err, ports.ErrStreamClosed) {
			t.Fatalf("expected ErrStreamClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("receive did not unblock on close")
	}
	if session.Ready() {
		t.Fatalf("closed session must not be ready")
	}
	if err := session.Send(domain.AudioFrame{1}); !errors.Is(err, ports.ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen after close, got %v", err)
	}
}

func TestStreamingSessionCloseRightAfterTerminateStillSendsTerminate(t *testing.T) {
	t.Parallel()

	const attempts = 10
	gotTerminate := make(chan string, attempts)
	server := newStreamServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Begin","id":"s"}`))
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage {
				gotTerminate <- string(msg)
			}
		}
	})

	p := NewProvider(StreamingConfig{URL: server.URL}, zerolog.Nop())
	for i := 0; i < attempts; i++ {
		session, err := p.Open(context.Background(), "tok", ports.StreamingConfig{})
		if err != nil {
			t.Fatalf("open failed: %v", err)
		}
		if _, err := session.Receive(); err != nil {
			t.Fatalf("begin failed: %v", err)
		}
		if err := session.Terminate(); err != nil {
			t.Fatalf("terminate failed: %v", err)
		}
		_ = session.Close()

		select {
		case msg := <-gotTerminate:
			if msg != terminateMessage {
				t.Fatalf("unexpected message: %s", msg)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("attempt %d: terminate was skipped by an immediate close", i)
		}
	}
}

func TestStreamingSessionMalformedEventIsTransportError(t *testing.T) {
	t.Parallel()

	server := newStreamServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_, _, _ = conn.ReadMessage()
	})

	p := NewProvider(StreamingConfig{URL: server.URL}, zerolog.Nop())
	session, err := p.Open(context.Background(), "tok", ports.StreamingConfig{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer session.Close()

	if _, err := session.Receive(); !errors.Is(err, ports.ErrMalformedEvent) {
		t.Fatalf("expected malformed event error, got %v", err)
	}
}

func TestStreamingSessionSendQueueFull(t *testing.T) {
	t.Parallel()

	s := &streamingSession{
		began: true,
		audio: make(chan []byte, 1),
	}
	if err := s.Send(domain.AudioFrame{1}); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if err := s.Send(domain.AudioFrame{2}); !errors.Is(err, ports.ErrSendQueueFull) {
		t.Fatalf("expected ErrSendQueueFull, got %v", err)
	}
}

func newStreamServer(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(server.Close)
	return server
}
