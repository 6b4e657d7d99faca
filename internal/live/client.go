// Package live is a client for the Gemini Live bidirectional streaming API.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sjawhar/lingua-live/internal/audio"
)

const (
	DefaultBaseURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"

	defaultHandshakeTimeout = 15 * time.Second
	outboundQueueSize       = 64
)

var (
	ErrClosed       = errors.New("live connection closed")
	ErrQueueFull    = errors.New("live outbound queue full")
	ErrNoCredential = errors.New("live api key is not configured")
)

// Config controls how the client reaches the service.
type Config struct {
	APIKey           string
	BaseURL          string
	Model            string
	HandshakeTimeout time.Duration
}

// Setup is the one-time session configuration.
type Setup struct {
	SystemInstruction string
	Voice             string
}

// Client opens live sessions.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	log    logrus.FieldLogger
}

func NewClient(cfg Config, log logrus.FieldLogger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{cfg: cfg, dialer: websocket.DefaultDialer, log: log}
}

func buildURL(cfg Config) (string, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse live base url: %w", err)
	}
	q := u.Query()
	q.Set("key", cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func modelName(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

func setupMessage(model string, s Setup) clientSetup {
	body := setupBody{
		Model: modelName(model),
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}
	if s.Voice != "" {
		body.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: s.Voice}},
		}
	}
	if s.SystemInstruction != "" {
		body.SystemInstruction = &Content{Parts: []Part{{Text: s.SystemInstruction}}}
	}
	return clientSetup{Setup: body}
}

// Dial connects, sends the setup message, and waits for the server to
// acknowledge it before returning.
func (c *Client) Dial(ctx context.Context, s Setup) (*Conn, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, ErrNoCredential
	}

	wsURL, err := buildURL(c.cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	ws, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to live service: %w", err)
	}

	if err := c.handshake(ctx, ws, s); err != nil {
		_ = ws.Close()
		return nil, err
	}

	conn := &Conn{
		ws:     ws,
		log:    c.log,
		events: make(chan ServerMessage, 64),
		out:    make(chan []byte, outboundQueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	conn.start()
	return conn, nil
}

func (c *Client) handshake(ctx context.Context, ws *websocket.Conn, s Setup) error {
	deadline, _ := ctx.Deadline()
	_ = ws.SetWriteDeadline(deadline)
	_ = ws.SetReadDeadline(deadline)

	// Unblock the read below if ctx is canceled before the deadline.
	stop := context.AfterFunc(ctx, func() { _ = ws.SetReadDeadline(time.Now()) })
	defer stop()

	if err := ws.WriteJSON(setupMessage(c.cfg.Model, s)); err != nil {
		return fmt.Errorf("send live setup: %w", err)
	}

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("await live setup: %w", ctx.Err())
			}
			return fmt.Errorf("await live setup: %w", err)
		}
		var msg ServerMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decode live setup reply: %w", err)
		}
		if msg.SetupComplete != nil {
			break
		}
	}

	_ = ws.SetWriteDeadline(time.Time{})
	_ = ws.SetReadDeadline(time.Time{})
	return nil
}

// Conn is an open live session. Inbound messages arrive on Events in
// server order; the channel closes when the connection ends.
type Conn struct {
	ws  *websocket.Conn
	log logrus.FieldLogger

	events chan ServerMessage
	out    chan []byte
	stop   chan struct{}
	done   chan struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func (c *Conn) start() {
	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	go func() {
		c.wg.Wait()
		_ = c.ws.Close()
		close(c.done)
	}()
}

// Events returns the inbound message channel.
func (c *Conn) Events() <-chan ServerMessage { return c.events }

// Done is closed once both loops have exited.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the transport error that ended the connection, or nil when it
// closed normally or was closed locally.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) setErr(err error) {
	if err == nil {
		return
	}
	select {
	case <-c.stop:
		return
	default:
	}
	if isNormalClose(err) {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// isNormalClose reports whether err, possibly wrapped, is a close frame the
// service sends when it ends a session on purpose.
func isNormalClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
}

// SendAudio queues one captured frame without blocking. A full queue drops
// the frame and returns ErrQueueFull.
func (c *Conn) SendAudio(blob audio.Blob) error {
	payload, err := json.Marshal(clientRealtimeInput{RealtimeInput: realtimeInput{
		Audio: &InlineData{MIMEType: blob.MIMEType, Data: audio.EncodeText(blob.Data)},
	}})
	if err != nil {
		return fmt.Errorf("encode audio frame: %w", err)
	}

	select {
	case <-c.stop:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.out <- payload:
		return nil
	default:
		return ErrQueueFull
	}
}

// SendText queues a completed user turn, waiting for queue space.
func (c *Conn) SendText(ctx context.Context, text string) error {
	payload, err := json.Marshal(clientContentMessage{ClientContent: clientContent{
		Turns:        []Content{{Role: "user", Parts: []Part{{Text: text}}}},
		TurnComplete: true,
	}})
	if err != nil {
		return fmt.Errorf("encode text turn: %w", err)
	}

	select {
	case <-c.stop:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.out <- payload:
		return nil
	case <-c.stop:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the session. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if writeErr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); writeErr != nil && !errors.Is(writeErr, websocket.ErrCloseSent) {
			err = fmt.Errorf("send close frame: %w", writeErr)
		}
		_ = c.ws.Close()
	})
	<-c.done
	return err
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case payload := <-c.out:
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.setErr(fmt.Errorf("write live message: %w", err))
				_ = c.ws.Close()
				return
			}
		}
	}
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	defer close(c.events)

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			c.setErr(fmt.Errorf("read live message: %w", err))
			// Stop the writer too; the connection is unusable.
			c.closeOnce.Do(func() { close(c.stop) })
			return
		}

		var msg ServerMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.log.WithError(err).Warn("live: skipping undecodable server message")
			continue
		}
		if msg.GoAway != nil {
			c.log.WithField("time_left", msg.GoAway.TimeLeft).Warn("live: server announced disconnect")
		}

		select {
		case c.events <- msg:
		case <-c.stop:
			return
		}
	}
}
