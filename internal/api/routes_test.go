package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"glowscan_go_backend/internal/services"
	"glowscan_go_backend/internal/utils/broker"
	"glowscan_go_backend/internal/wsocket"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const analysisJSON = `{"prediction":"healthy glow","confidence":87,"hydration":"high","overall_summary":"Looking radiant.","overall_glow_score":9}`

type stubBackend struct {
	reply string
	calls int
}

func (b *stubBackend) Generate(ctx context.Context, req services.BackendRequest) (services.BackendResponse, error) {
	b.calls++
	return services.BackendResponse{Text: b.reply, Model: "stub"}, nil
}

type memoryMedia struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryMedia) UploadFile(ctx context.Context, objectName string, content io.Reader, contentType string) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectName] = data
	return nil
}

func (m *memoryMedia) DownloadFile(ctx context.Context, objectName string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectName]
	if !ok {
		return nil, fmt.Errorf("object %s does not exist", objectName)
	}
	return data, nil
}

func (m *memoryMedia) DeleteFile(ctx context.Context, objectName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectName)
	return nil
}

type testServer struct {
	router   *gin.Engine
	users    *services.MemoryUserService
	media    *memoryMedia
	basic    *stubBackend
	advanced *stubBackend
}

func newTestServer(t *testing.T, maxUploadBytes int64) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := services.NewMemoryUserService()
	ledger := services.NewQuotaLedger(users, services.NewDefaultPlanRegistry(), services.NewMemoryQuotaStore())
	conversations := services.NewConversationService(services.NewMemoryConversationStore(30), broker.NewBroker())
	basic := &stubBackend{reply: analysisJSON}
	advanced := &stubBackend{reply: analysisJSON}
	media := &memoryMedia{objects: make(map[string][]byte)}
	dispatcher := services.NewInferenceDispatcher(
		ledger,
		conversations,
		map[string]services.InferenceBackend{
			services.TierBasicVision:    basic,
			services.TierAdvancedVision: advanced,
		},
		media,
		services.NewInflightLimiter(),
		5*time.Second,
		20,
	)

	r := gin.New()
	r.Use(RequestLogger())
	SetupRoutes(r, dispatcher, conversations, ledger, users, media,
		wsocket.NewHandler(conversations, websocket.Upgrader{}, time.Minute),
		Options{MaxUploadBytes: maxUploadBytes})

	return &testServer{router: r, users: users, media: media, basic: basic, advanced: advanced}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func multipartRequest(t *testing.T, path, userID string, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	if file != nil {
		part, err := writer.CreateFormFile("file", "selfie.png")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	return req
}

// pngBytes starts with the PNG signature so content sniffing reports image/png.
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRoot(t *testing.T) {
	s := newTestServer(t, 1<<20)
	w := s.do(httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Glowscan API is running", decode(t, w)["message"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestPredictSuccess(t *testing.T) {
	s := newTestServer(t, 1<<20)
	w := s.do(multipartRequest(t, "/predict", "anon-1", nil, pngBytes))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "healthy glow", body["prediction"])
	assert.Equal(t, float64(87), body["confidence"])
	assert.Equal(t, "high", body["hydration"])
	assert.Equal(t, "basic-vision", w.Header().Get("X-Quota-Tier"))
	assert.Equal(t, "2", w.Header().Get("X-Quota-Remaining"))
}

func TestPredictQuotaExhausted(t *testing.T) {
	s := newTestServer(t, 1<<20)
	for i := 0; i < 3; i++ {
		w := s.do(multipartRequest(t, "/predict", "anon-1", nil, pngBytes))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := s.do(multipartRequest(t, "/predict", "anon-1", nil, pngBytes))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, decode(t, w)["detail"], "quota")
	assert.Equal(t, 3, s.basic.calls)

	// Another user has an independent allowance.
	w = s.do(multipartRequest(t, "/predict", "anon-2", nil, pngBytes))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPredictRejectsBadRequests(t *testing.T) {
	s := newTestServer(t, 1<<20)

	t.Run("missing user header", func(t *testing.T) {
		w := s.do(multipartRequest(t, "/predict", "", nil, pngBytes))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode(t, w)["detail"], "X-User-ID")
	})

	t.Run("missing file", func(t *testing.T) {
		w := s.do(multipartRequest(t, "/predict", "anon-1", nil, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NotEmpty(t, decode(t, w)["detail"])
	})

	t.Run("unknown conversation", func(t *testing.T) {
		w := s.do(multipartRequest(t, "/predict", "anon-1", map[string]string{"conversation_id": "nope"}, pngBytes))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	assert.Equal(t, 0, s.basic.calls)
}

func TestPredictUploadTooLarge(t *testing.T) {
	s := newTestServer(t, 256)
	w := s.do(multipartRequest(t, "/predict", "anon-1", nil, bytes.Repeat([]byte{1}, 1024)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, 0, s.basic.calls)
}

func TestChatPredictTextFlow(t *testing.T) {
	s := newTestServer(t, 1<<20)
	s.basic.reply = "Drink more water and use a gentle cleanser."

	w := s.do(multipartRequest(t, "/chat-predict", "anon-1", map[string]string{"user_message": "How do I fix dry skin?"}, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "text", body["type"])
	assert.Equal(t, "Drink more water and use a gentle cleanser.", body["message"])
	convID, _ := body["conversation_id"].(string)
	require.NotEmpty(t, convID)

	// Free plan has no advanced allowance, so the chat fell back to basic.
	assert.Equal(t, 0, s.advanced.calls)
	assert.Equal(t, 1, s.basic.calls)

	req := httptest.NewRequest(http.MethodGet, "/conversations/"+convID+"/messages", nil)
	req.Header.Set("X-User-ID", "anon-1")
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var listed struct {
		Conversation struct {
			Title        string `json:"title"`
			MessageCount int64  `json:"message_count"`
		} `json:"conversation"`
		Messages []struct {
			Sender  string `json:"sender"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Messages, 2)
	assert.Equal(t, "user", listed.Messages[0].Sender)
	assert.Equal(t, "How do I fix dry skin?", listed.Messages[0].Content)
	assert.Equal(t, "ai", listed.Messages[1].Sender)
	assert.Equal(t, int64(2), listed.Conversation.MessageCount)
	assert.Equal(t, "How do I fix dry skin?", listed.Conversation.Title)
}

func TestChatPredictAnalysisOnAdvancedTier(t *testing.T) {
	s := newTestServer(t, 1<<20)
	_, err := s.users.GetOrCreateUser(context.Background(), "paid-1", false)
	require.NoError(t, err)
	_, err = s.users.SetPlan(context.Background(), "paid-1", services.PlanBasic)
	require.NoError(t, err)

	w := s.do(multipartRequest(t, "/chat-predict", "paid-1", nil, pngBytes))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "analysis_result", body["type"])
	assert.Equal(t, "Looking radiant.", body["overall_summary"])
	assert.NotEmpty(t, body["conversation_id"])
	assert.Equal(t, "advanced-vision", w.Header().Get("X-Quota-Tier"))
	assert.Equal(t, 1, s.advanced.calls)
}

func TestChatPredictRequiresContent(t *testing.T) {
	s := newTestServer(t, 1<<20)
	w := s.do(multipartRequest(t, "/chat-predict", "anon-1", nil, nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, s.basic.calls)
}

func TestForeignConversationIsHidden(t *testing.T) {
	s := newTestServer(t, 1<<20)
	w := s.do(multipartRequest(t, "/chat-predict", "owner", map[string]string{"user_message": "hi"}, nil))
	require.Equal(t, http.StatusOK, w.Code)
	convID := decode(t, w)["conversation_id"].(string)

	req := httptest.NewRequest(http.MethodGet, "/conversations/"+convID+"/messages", nil)
	req.Header.Set("X-User-ID", "intruder")
	w = s.do(req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(multipartRequest(t, "/chat-predict", "intruder", map[string]string{"user_message": "hi", "conversation_id": convID}, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 1, s.basic.calls)
}
