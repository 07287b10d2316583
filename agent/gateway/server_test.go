package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/agents/orchestrator"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/order"
	statex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/state"
)

type fakeAssistant struct {
	mu         sync.Mutex
	err        error
	sessions   []string
	resets     []string
	transcript []statex.Message
	orders     []order.Order
}

func (f *fakeAssistant) HandleMessage(ctx context.Context, sessionID string, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		return "", orchestrator.ErrInvalidMessage
	}
	if f.err != nil {
		return "", f.err
	}
	f.sessions = append(f.sessions, sessionID)
	return "reply to " + text, nil
}

func (f *fakeAssistant) Reset(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, sessionID)
	return nil
}

func (f *fakeAssistant) Transcript(ctx context.Context, sessionID string) ([]statex.Message, error) {
	return f.transcript, nil
}

func (f *fakeAssistant) Orders(ctx context.Context, sessionID string) ([]order.Order, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, orchestrator.ErrInvalidSession
	}
	return f.orders, nil
}

func testServer(t *testing.T, assistant *fakeAssistant) *httptest.Server {
	t.Helper()
	srv := New(Config{}, assistant)
	srv.newSessionID = func() string { return "generated" }

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postChat(t *testing.T, url string, body string) (*http.Response, ChatResponse) {
	t.Helper()
	resp, err := http.Post(url+"/chat", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out ChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	ts := testServer(t, &fakeAssistant{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
}

func TestChatEndpoint(t *testing.T) {
	t.Parallel()
	assistant := &fakeAssistant{}
	ts := testServer(t, assistant)

	resp, out := postChat(t, ts.URL, `{"input":"find a phone","session_id":"s1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "reply to find a phone", out.Output)
	assert.Equal(t, "s1", out.SessionID)

	resp, out = postChat(t, ts.URL, `{"input":"hello"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "generated", out.SessionID)
	assert.Equal(t, []string{"s1", "generated"}, assistant.sessions)
}

func TestChatEndpointErrors(t *testing.T) {
	t.Parallel()

	ts := testServer(t, &fakeAssistant{})
	resp, out := postChat(t, ts.URL, `{"input":"   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, out.Error, "message is empty")

	resp, out = postChat(t, ts.URL, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid request body", out.Error)

	failing := testServer(t, &fakeAssistant{err: errors.New("redis down")})
	resp, out = postChat(t, failing.URL, `{"input":"hi","session_id":"s2"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal error", out.Error)
	assert.Equal(t, "s2", out.SessionID)
}

func TestChatEndpointRejectsOversizedBody(t *testing.T) {
	t.Parallel()
	assistant := &fakeAssistant{}
	srv := New(Config{}, assistant)

	body := `{"input":"` + strings.Repeat("a", maxRequestBytes) + `"}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	var out ChatResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, "request body too large", out.Error)
	assert.Empty(t, assistant.sessions)
}

func TestOrdersEndpoint(t *testing.T) {
	t.Parallel()
	placed := order.Order{
		ID:            uuid.New(),
		SessionID:     "s1",
		Lines:         []order.Line{{Product: "Pixel 9", Price: "$699"}},
		Address:       "1 Main St",
		PaymentMethod: order.PaymentCash,
	}
	ts := testServer(t, &fakeAssistant{orders: []order.Order{placed}})

	resp, err := http.Get(ts.URL + "/sessions/s1/orders")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out OrdersResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "s1", out.SessionID)
	require.Len(t, out.Orders, 1)
	assert.Equal(t, placed.ID, out.Orders[0].ID)
	assert.Equal(t, "Pixel 9", out.Orders[0].Lines[0].Product)
}

func TestChatEndpointMethodNotAllowed(t *testing.T) {
	t.Parallel()
	ts := testServer(t, &fakeAssistant{})

	resp, err := http.Get(ts.URL + "/chat")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestTranscriptAndReset(t *testing.T) {
	t.Parallel()
	assistant := &fakeAssistant{transcript: []statex.Message{
		{Role: statex.RoleUser, Content: "hi"},
		{Role: statex.RoleAssistant, Content: "hello"},
	}}
	ts := testServer(t, assistant)

	resp, err := http.Get(ts.URL + "/sessions/s1/transcript")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out TranscriptResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "s1", out.SessionID)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "hello", out.Messages[1].Content)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/sessions/s1", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)
	assert.Equal(t, []string{"s1"}, assistant.resets)
}

func TestWebSocketChat(t *testing.T) {
	t.Parallel()
	assistant := &fakeAssistant{}
	ts := testServer(t, assistant)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?session_id=ws-1"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, conn.WriteJSON(ChatRequest{Input: "add pixel 9"}))
	var out ChatResponse
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, "reply to add pixel 9", out.Output)
	assert.Equal(t, "ws-1", out.SessionID)

	require.NoError(t, conn.WriteJSON(ChatRequest{Input: " "}))
	out = ChatResponse{}
	require.NoError(t, conn.ReadJSON(&out))
	assert.Contains(t, out.Error, "message is empty")
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "http://shop.local/ws", nil)
	assert.True(t, checkOrigin(nil)(req))

	req.Header.Set("Origin", "http://shop.local")
	assert.True(t, checkOrigin(nil)(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, checkOrigin(nil)(req))
	assert.True(t, checkOrigin([]string{"https://evil.example"})(req))
	assert.True(t, checkOrigin([]string{"*"})(req))
}
