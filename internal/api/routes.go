package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"glowscan_go_backend/internal/auth"
	apierrors "glowscan_go_backend/internal/errors"
	"glowscan_go_backend/internal/metrics"
	"glowscan_go_backend/internal/models"
	"glowscan_go_backend/internal/services"
	"glowscan_go_backend/internal/wsocket"

	"github.com/gin-gonic/gin"
)

type Options struct {
	JWTSecret      string
	MaxUploadBytes int64
}

func SetupRoutes(
	r *gin.Engine,
	dispatcher *services.InferenceDispatcher,
	conversations *services.ConversationService,
	ledger *services.QuotaLedger,
	users services.UserStore,
	media services.CloudStorageManager,
	wsHandler *wsocket.Handler,
	opts Options,
) {
	r.GET("/", rootHandler)
	r.GET("/metrics", metrics.Handler())

	identity := auth.IdentityMiddleware(users, opts.JWTSecret)
	limit := LimitBody(opts.MaxUploadBytes)

	r.POST("/predict", limit, identity, predictHandler(dispatcher, opts.MaxUploadBytes))
	r.POST("/chat-predict", limit, identity, chatPredictHandler(dispatcher, opts.MaxUploadBytes))
	r.GET("/usage", identity, usageHandler(ledger))
	r.POST("/cancel-subscription", identity, cancelSubscriptionHandler(users))
	r.GET("/conversations", identity, listConversationsHandler(conversations))
	r.POST("/conversations", identity, createConversationHandler(conversations))
	r.GET("/conversations/:id/messages", identity, listMessagesHandler(conversations))
	r.GET("/conversations/:id/messages/:mid/media", identity, messageMediaHandler(conversations, media))
	r.GET("/ws", identity, websocketHandler(wsHandler))

	auth.SetupRoutes(r, users, opts.JWTSecret)
}

func rootHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Glowscan API is running"})
}

type upload struct {
	data     []byte
	mimeType string
	fileName string
}

// readUpload returns nil when the form has no "file" part.
func readUpload(c *gin.Context, maxBytes int64) (*upload, error) {
	if err := c.Request.ParseMultipartForm(maxBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, err
	}

	fileHeader, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return openUpload(fileHeader)
}

func openUpload(fileHeader *multipart.FileHeader) (*upload, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return &upload{data: data, mimeType: mimeType, fileName: fileHeader.Filename}, nil
}

func dispatchRequest(c *gin.Context, kind services.RequestKind, maxBytes int64) (services.DispatchRequest, error) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		return services.DispatchRequest{}, apierrors.New401Error()
	}

	file, err := readUpload(c, maxBytes)
	if err != nil {
		return services.DispatchRequest{}, err
	}

	req := services.DispatchRequest{
		Kind:           kind,
		UserID:         user.ID,
		ConversationID: c.PostForm("conversation_id"),
		Text:           c.PostForm("user_message"),
		Live:           c.PostForm("mode") == "live",
	}
	if file != nil {
		req.Media = file.data
		req.MimeType = file.mimeType
		req.FileName = file.fileName
	}
	return req, nil
}

func setQuotaHeaders(c *gin.Context, decision services.QuotaDecision) {
	c.Header("X-Quota-Tier", decision.Tier)
	c.Header("X-Quota-Limit", strconv.FormatInt(decision.Limit, 10))
	c.Header("X-Quota-Remaining", strconv.FormatInt(decision.Remaining, 10))
}

func predictHandler(dispatcher *services.InferenceDispatcher, maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := dispatchRequest(c, services.KindPredict, maxBytes)
		if err != nil {
			apierrors.HandleError(c, err)
			return
		}

		result, err := dispatcher.Dispatch(c.Request.Context(), req)
		if err != nil {
			apierrors.HandleError(c, err)
			return
		}

		setQuotaHeaders(c, result.Quota)
		body := copyAnalysis(result.Analysis)
		if result.ConversationID != "" {
			body["conversation_id"] = result.ConversationID
		}
		c.JSON(http.StatusOK, body)
	}
}

func chatPredictHandler(dispatcher *services.InferenceDispatcher, maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := dispatchRequest(c, services.KindChat, maxBytes)
		if err != nil {
			apierrors.HandleError(c, err)
			return
		}

		result, err := dispatcher.Dispatch(c.Request.Context(), req)
		if err != nil {
			apierrors.HandleError(c, err)
			return
		}

		setQuotaHeaders(c, result.Quota)
		if result.Analysis == nil {
			c.JSON(http.StatusOK, gin.H{
				"type":            models.KindText,
				"message":         result.Message,
				"conversation_id": result.ConversationID,
			})
			return
		}

		body := copyAnalysis(result.Analysis)
		body["type"] = models.KindAnalysisResult
		body[models.FieldOverallSummary] = result.Analysis.Summary()
		body["conversation_id"] = result.ConversationID
		c.JSON(http.StatusOK, body)
	}
}

func copyAnalysis(analysis models.AnalysisResult) gin.H {
	body := make(gin.H, len(analysis)+2)
	for key, value := range analysis {
		body[key] = value
	}
	return body
}

func websocketHandler(wsHandler *wsocket.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := auth.CurrentUser(c)
		if !ok {
			apierrors.HandleError(c, apierrors.New401Error())
			return
		}
		if err := wsHandler.HandleWebSocket(c.Writer, c.Request, user.ID, c.Query("conversation_id")); err != nil {
			apierrors.HandleError(c, err)
		}
	}
}
