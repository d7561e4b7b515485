package assemblyai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"meetscribe/internal/domain"
	"meetscribe/internal/ports"
)

const (
	defaultStreamingURL = "wss://streaming.assemblyai.com/v3/ws"
	defaultEncoding     = "pcm_s16le"
	terminateMessage    = `{"type":"Terminate"}`
)

// StreamingConfig controls the v3 websocket transport.
type StreamingConfig struct {
	URL              string
	SendQueue        int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Provider implements ports.TranscriptionProvider for AssemblyAI universal streaming.
type Provider struct {
	cfg    StreamingConfig
	dialer *websocket.Dialer
	log    zerolog.Logger
}

func NewProvider(cfg StreamingConfig, logger zerolog.Logger) *Provider {
	if cfg.URL == "" {
		cfg.URL = defaultStreamingURL
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 64
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.HandshakeTimeout
	return &Provider{cfg: cfg, dialer: &dialer, log: logger}
}

func (p *Provider) Open(ctx context.Context, credential string, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, &domain.ConnectError{Kind: domain.ConnectUnauthorized, Err: errors.New("empty streaming credential")}
	}

	wsURL, err := buildStreamURL(p.cfg.URL, credential, cfg)
	if err != nil {
		return nil, &domain.ConnectError{Kind: domain.ConnectRejected, Err: err}
	}

	conn, resp, err := p.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, classifyDialError(resp, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	session := &streamingSession{
		conn:         conn,
		formatTurns:  cfg.FormatTurns,
		writeTimeout: p.cfg.WriteTimeout,
		audio:        make(chan []byte, p.cfg.SendQueue),
		terminate:    make(chan struct{}, 1),
		done:         make(chan struct{}),
		log:          p.log,
	}

	session.wg.Add(1)
	go session.writeLoop()

	return session, nil
}

func classifyDialError(resp *http.Response, err error) error {
	if resp == nil {
		return &domain.ConnectError{Kind: domain.ConnectUnreachable, Err: err}
	}
	defer func() {
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
	}()
	wrapped := fmt.Errorf("handshake status %d: %w", resp.StatusCode, err)
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &domain.ConnectError{Kind: domain.ConnectUnauthorized, Err: wrapped}
	default:
		return &domain.ConnectError{Kind: domain.ConnectRejected, Err: wrapped}
	}
}

type streamingSession struct {
	conn         *websocket.Conn
	formatTurns  bool
	writeTimeout time.Duration

	audio     chan []byte
	terminate chan struct{}
	done      chan struct{}

	wg sync.WaitGroup

	stateMu    sync.Mutex
	began      bool
	terminated bool
	closed     bool

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
	log       zerolog.Logger
}

// Send enqueues a frame for the writer goroutine. It never waits on the network.
func (s *streamingSession) Send(frame domain.AudioFrame) error {
	if len(frame) == 0 {
		return nil
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if !s.readyLocked() {
		return ports.ErrNotOpen
	}

	select {
	case s.audio <- frame.PCM():
		return nil
	default:
		return ports.ErrSendQueueFull
	}
}

// Receive blocks for the next recognized event. Only one goroutine may call it.
func (s *streamingSession) Receive() (domain.ProtocolEvent, error) {
	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			return domain.ProtocolEvent{}, s.readErr(err)
		}
		if messageType != websocket.TextMessage {
			continue
		}

		event, ok, err := decodeEvent(payload, s.formatTurns)
		if err != nil {
			return domain.ProtocolEvent{}, err
		}
		if !ok {
			s.log.Debug().RawJSON("payload", payload).Msg("Ignoring unknown stream message")
			continue
		}

		switch event.Kind {
		case domain.EventBegin:
			s.stateMu.Lock()
			s.began = true
			s.stateMu.Unlock()
		case domain.EventTermination:
			s.stateMu.Lock()
			s.terminated = true
			s.stateMu.Unlock()
		}
		return event, nil
	}
}

// Terminate asks the service to flush and end the session without waiting for the ack.
func (s *streamingSession) Terminate() error {
	s.stateMu.Lock()
	if s.closed {
		s.stateMu.Unlock()
		return ports.ErrNotOpen
	}
	already := s.terminated
	s.terminated = true
	s.stateMu.Unlock()

	if already {
		return nil
	}
	select {
	case s.terminate <- struct{}{}:
	default:
	}
	return nil
}

func (s *streamingSession) Close() error {
	s.closeOnce.Do(func() {
		s.stateMu.Lock()
		s.closed = true
		s.stateMu.Unlock()

		// The writer exits first so a pending Terminate still reaches the wire.
		close(s.done)
		s.wg.Wait()
		_ = s.conn.Close()
	})
	return nil
}

func (s *streamingSession) Ready() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.readyLocked()
}

func (s *streamingSession) readyLocked() bool {
	return s.began && !s.terminated && !s.closed
}

func (s *streamingSession) isClosed() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.closed
}

func (s *streamingSession) readErr(err error) error {
	if s.isClosed() {
		return ports.ErrStreamClosed
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return ports.ErrStreamClosed
	}
	if writeErr := s.writeErr(); writeErr != nil {
		return &domain.TransportError{Err: writeErr}
	}
	return &domain.TransportError{Err: fmt.Errorf("failed to read stream event: %w", err)}
}

func (s *streamingSession) writeErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamingSession) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *streamingSession) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			select {
			case <-s.terminate:
				s.sendTerminate()
			default:
			}
			return
		case chunk := <-s.audio:
			if err := s.write(websocket.BinaryMessage, chunk); err != nil {
				s.setErr(fmt.Errorf("failed to send audio: %w", err))
				return
			}
		case <-s.terminate:
			s.sendTerminate()
			return
		}
	}
}

// sendTerminate flushes frames accepted before Terminate, then asks the
// service to end the session.
func (s *streamingSession) sendTerminate() {
	for drained := false; !drained; {
		select {
		case chunk := <-s.audio:
			if err := s.write(websocket.BinaryMessage, chunk); err != nil {
				s.setErr(fmt.Errorf("failed to send audio: %w", err))
				return
			}
		default:
			drained = true
		}
	}
	if err := s.write(websocket.TextMessage, []byte(terminateMessage)); err != nil {
		s.setErr(fmt.Errorf("failed to send terminate: %w", err))
	}
}

func (s *streamingSession) write(messageType int, payload []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(messageType, payload)
}

type streamMessage struct {
	Type            string `json:"type"`
	ID              string `json:"id"`
	Transcript      string `json:"transcript"`
	EndOfTurn       bool   `json:"end_of_turn"`
	TurnIsFormatted bool   `json:"turn_is_formatted"`
	Error           string `json:"error"`
}

// decodeEvent maps one inbound message. ok is false for message types the
// session does not act on.
func decodeEvent(payload []byte, formatTurns bool) (domain.ProtocolEvent, bool, error) {
	var msg streamMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return domain.ProtocolEvent{}, false, fmt.Errorf("%w: %v", ports.ErrMalformedEvent, err)
	}

	switch msg.Type {
	case "Begin":
		return domain.ProtocolEvent{Kind: domain.EventBegin, SessionID: msg.ID}, true, nil
	case "Turn":
		final := msg.EndOfTurn
		if formatTurns && !msg.TurnIsFormatted {
			// An unformatted end of turn is followed by its formatted copy.
			final = false
		}
		return domain.ProtocolEvent{Kind: domain.EventTurn, Text: msg.Transcript, IsFinal: final}, true, nil
	case "Termination":
		return domain.ProtocolEvent{Kind: domain.EventTermination}, true, nil
	case "":
		if msg.Error != "" {
			return domain.ProtocolEvent{}, false, &domain.TransportError{Err: errors.New(msg.Error)}
		}
		return domain.ProtocolEvent{}, false, nil
	default:
		return domain.ProtocolEvent{}, false, nil
	}
}

func buildStreamURL(base string, credential string, cfg ports.StreamingConfig) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		base = defaultStreamingURL
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	streamURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid streaming URL: %w", err)
	}

	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = defaultEncoding
	}

	query := streamURL.Query()
	query.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	query.Set("encoding", cfg.Encoding)
	query.Set("format_turns", strconv.FormatBool(cfg.FormatTurns))
	if cfg.SpeechModel != "" {
		query.Set("speech_model", cfg.SpeechModel)
	}
	query.Set("token", credential)
	streamURL.RawQuery = query.Encode()
	return streamURL.String(), nil
}
