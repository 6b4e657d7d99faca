package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/sjawhar/lingua-live/internal/audio"
)

type fakeService struct {
	t        *testing.T
	setupC   chan map[string]any
	inboundC chan map[string]any
	keyC     chan string
	script   func(conn *websocket.Conn)
	noAck    bool
}

func newFakeService(t *testing.T) *fakeService {
	return &fakeService{
		t:        t,
		setupC:   make(chan map[string]any, 1),
		inboundC: make(chan map[string]any, 16),
		keyC:     make(chan string, 1),
	}
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()
	f.keyC <- r.URL.Query().Get("key")

	var setup map[string]any
	if err := conn.ReadJSON(&setup); err != nil {
		return
	}
	f.setupC <- setup
	if f.noAck {
		time.Sleep(500 * time.Millisecond)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`)); err != nil {
		return
	}

	if f.script != nil {
		go f.script(conn)
	}
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		f.inboundC <- msg
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func quietLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func TestDialSendsSetupAndWaitsForAck(t *testing.T) {
	svc := newFakeService(t)
	server := httptest.NewServer(svc)
	defer server.Close()

	client := NewClient(Config{APIKey: "secret", BaseURL: wsURL(server), Model: "gemini-test"}, quietLogger())
	conn, err := client.Dial(context.Background(), Setup{SystemInstruction: "be a barista", Voice: "Puck"})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if key := <-svc.keyC; key != "secret" {
		t.Fatalf("expected api key in query, got %q", key)
	}

	setup := (<-svc.setupC)["setup"].(map[string]any)
	if setup["model"] != "models/gemini-test" {
		t.Fatalf("unexpected model %v", setup["model"])
	}
	gen := setup["generationConfig"].(map[string]any)
	if mods := gen["responseModalities"].([]any); len(mods) != 1 || mods[0] != "AUDIO" {
		t.Fatalf("unexpected modalities %v", mods)
	}
	voice := gen["speechConfig"].(map[string]any)["voiceConfig"].(map[string]any)["prebuiltVoiceConfig"].(map[string]any)["voiceName"]
	if voice != "Puck" {
		t.Fatalf("unexpected voice %v", voice)
	}
	if _, ok := setup["inputAudioTranscription"]; !ok {
		t.Fatal("expected input transcription enabled")
	}
	if _, ok := setup["outputAudioTranscription"]; !ok {
		t.Fatal("expected output transcription enabled")
	}
	parts := setup["systemInstruction"].(map[string]any)["parts"].([]any)
	if parts[0].(map[string]any)["text"] != "be a barista" {
		t.Fatalf("unexpected system instruction %v", parts)
	}
}

func TestDialWithoutCredential(t *testing.T) {
	client := NewClient(Config{}, quietLogger())
	if _, err := client.Dial(context.Background(), Setup{}); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}

func TestDialTimesOutWithoutAck(t *testing.T) {
	svc := newFakeService(t)
	svc.noAck = true
	server := httptest.NewServer(svc)
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: wsURL(server), HandshakeTimeout: 50 * time.Millisecond}, quietLogger())
	if _, err := client.Dial(context.Background(), Setup{}); err == nil {
		t.Fatal("expected handshake timeout")
	}
}

func TestSendAudioAndText(t *testing.T) {
	svc := newFakeService(t)
	server := httptest.NewServer(svc)
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: wsURL(server)}, quietLogger())
	conn, err := client.Dial(context.Background(), Setup{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SendAudio(audio.Blob{MIMEType: "audio/pcm;rate=16000", Data: []byte{1, 2}}); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}
	if err := conn.SendText(context.Background(), "Bonjour"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}

	first := waitInbound(t, svc)
	blob := first["realtimeInput"].(map[string]any)["audio"].(map[string]any)
	if blob["mimeType"] != "audio/pcm;rate=16000" || blob["data"] != audio.EncodeText([]byte{1, 2}) {
		t.Fatalf("unexpected audio message %v", first)
	}

	second := waitInbound(t, svc)
	content := second["clientContent"].(map[string]any)
	if content["turnComplete"] != true {
		t.Fatalf("expected completed turn, got %v", content)
	}
	turn := content["turns"].([]any)[0].(map[string]any)
	if turn["role"] != "user" || turn["parts"].([]any)[0].(map[string]any)["text"] != "Bonjour" {
		t.Fatalf("unexpected turn %v", turn)
	}
}

func waitInbound(t *testing.T, svc *fakeService) map[string]any {
	t.Helper()
	select {
	case msg := <-svc.inboundC:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for client message")
		return nil
	}
}

func TestEventsDeliveredInOrderThenClosed(t *testing.T) {
	svc := newFakeService(t)
	svc.script = func(conn *websocket.Conn) {
		msgs := []string{
			`{"serverContent":{"inputTranscription":{"text":"Bonj"}}}`,
			`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AAA="}}]}}}`,
			`not json`,
			`{"serverContent":{"turnComplete":true}}`,
		}
		for _, m := range msgs {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(m))
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}
	server := httptest.NewServer(svc)
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: wsURL(server)}, quietLogger())
	conn, err := client.Dial(context.Background(), Setup{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	var got []ServerMessage
	timeout := time.After(2 * time.Second)
loop:
	for {
		select {
		case msg, ok := <-conn.Events():
			if !ok {
				break loop
			}
			got = append(got, msg)
		case <-timeout:
			t.Fatal("timeout waiting for events")
		}
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 decodable events, got %d", len(got))
	}
	if got[0].ServerContent.InputTranscription.Text != "Bonj" {
		t.Fatalf("unexpected first event %+v", got[0])
	}
	if got[1].ServerContent.ModelTurn.Parts[0].InlineData.Data != "AAA=" {
		t.Fatalf("unexpected second event %+v", got[1])
	}
	if !got[2].ServerContent.TurnComplete {
		t.Fatalf("unexpected third event %+v", got[2])
	}
	if err := conn.Err(); err != nil {
		t.Fatalf("normal closure must not be an error, got %v", err)
	}
	if err := conn.SendAudio(audio.Blob{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
	_ = conn.Close()
}

func TestAbnormalCloseIsError(t *testing.T) {
	svc := newFakeService(t)
	svc.script = func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "boom"))
	}
	server := httptest.NewServer(svc)
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: wsURL(server)}, quietLogger())
	conn, err := client.Dial(context.Background(), Setup{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for connection end")
	}
	if conn.Err() == nil {
		t.Fatal("expected transport error")
	}
}

func TestGoingAwayCloseIsNotError(t *testing.T) {
	svc := newFakeService(t)
	svc.script = func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "session limit"))
	}
	server := httptest.NewServer(svc)
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: wsURL(server)}, quietLogger())
	conn, err := client.Dial(context.Background(), Setup{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for connection end")
	}
	if err := conn.Err(); err != nil {
		t.Fatalf("going away must not be an error, got %v", err)
	}
}

func TestIsNormalCloseUnwraps(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"normal", &websocket.CloseError{Code: websocket.CloseNormalClosure}, true},
		{"wrapped normal", fmt.Errorf("read live message: %w", &websocket.CloseError{Code: websocket.CloseNormalClosure}), true},
		{"wrapped going away", fmt.Errorf("read live message: %w", &websocket.CloseError{Code: websocket.CloseGoingAway}), true},
		{"wrapped abnormal", fmt.Errorf("read live message: %w", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}), false},
		{"plain", errors.New("reset"), false},
	}
	for _, tt := range tests {
		if got := isNormalClose(tt.err); got != tt.want {
			t.Errorf("%s: isNormalClose = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCloseIsIdempotentAndClean(t *testing.T) {
	svc := newFakeService(t)
	server := httptest.NewServer(svc)
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: wsURL(server)}, quietLogger())
	conn, err := client.Dial(context.Background(), Setup{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if conn.Err() != nil {
		t.Fatalf("local close must not record an error, got %v", conn.Err())
	}
	if err := conn.SendText(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSetupMessageOmitsEmptyOptionals(t *testing.T) {
	raw, err := json.Marshal(setupMessage("models/m", Setup{}))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if strings.Contains(string(raw), "speechConfig") || strings.Contains(string(raw), "systemInstruction") {
		t.Fatalf("unexpected optional fields in %s", raw)
	}
	if !strings.Contains(string(raw), `"model":"models/m"`) {
		t.Fatalf("model prefix duplicated: %s", raw)
	}
}
