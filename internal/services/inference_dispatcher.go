package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"glowscan_go_backend/internal/metrics"
	"glowscan_go_backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type RequestKind string

const (
	KindPredict RequestKind = "predict"
	KindChat    RequestKind = "chat"
)

// Request states, in the order a successful request passes through them.
const (
	StateReceived         = "received"
	StateQuotaChecked     = "quota_checked"
	StateRejected         = "rejected"
	StateInferenceInvoked = "inference_invoked"
	StateReported         = "reported"
	StatePersisted        = "persisted"
	StateDropped          = "dropped"
)

const predictPrompt = `You are a highly experienced and friendly AI skincare and makeup expert. Analyze the attached selfie and return a JSON object with the following keys:
- "prediction": a short label for the dominant skin condition, e.g. "healthy glow", "dehydrated", "acne-prone"
- "confidence": a number from 0 to 100 for how sure you are of the prediction
- "hydration": e.g. "low", "moderate", "high"
- "acne": e.g. "none", "mild", "moderate", "severe"
- "skin_tone": e.g. "fair", "medium", "dark", "neutral"
- "makeup_feedback": detailed feedback on makeup (blend, color match, coverage, areas for improvement)
- "overall_glow_score": an integer score from 1 to 10, where 10 is maximum glow

Ensure the response is ONLY the JSON object, with no additional text or markdown formatting outside the JSON.`

const chatAnalysisPrompt = `You are a friendly AI skincare and makeup expert in an ongoing conversation. Analyze the attached media and answer the user's message if there is one. Return ONLY a JSON object with:
- "overall_summary": a few sentences addressed to the user
- "hydration", "acne", "skin_tone", "makeup_feedback": short assessments
- "overall_glow_score": an integer from 1 to 10`

type DispatchRequest struct {
	Kind           RequestKind
	UserID         string
	ConversationID string
	Text           string
	Media          []byte
	MimeType       string
	FileName       string
	Live           bool
}

type DispatchResult struct {
	Kind           RequestKind
	Tier           string
	ConversationID string
	// Analysis is set for predictions and for chat requests that carried media.
	Analysis models.AnalysisResult
	// Message is the reply to a text-only chat request.
	Message string
	Quota   QuotaDecision
}

type InferenceDispatcher struct {
	ledger        *QuotaLedger
	conversations *ConversationService
	backends      map[string]InferenceBackend
	media         CloudStorageManager
	frames        FrameLimiter
	timeout       time.Duration
	contextWindow int
}

// NewInferenceDispatcher wires the request pipeline. media may be nil, which disables
// upload persistence.
func NewInferenceDispatcher(
	ledger *QuotaLedger,
	conversations *ConversationService,
	backends map[string]InferenceBackend,
	media CloudStorageManager,
	frames FrameLimiter,
	timeout time.Duration,
	contextWindow int,
) *InferenceDispatcher {
	return &InferenceDispatcher{
		ledger:        ledger,
		conversations: conversations,
		backends:      backends,
		media:         media,
		frames:        frames,
		timeout:       timeout,
		contextWindow: contextWindow,
	}
}

// TierRoute lists the tiers a request may be charged to, most capable first.
func TierRoute(kind RequestKind) []string {
	if kind == KindChat {
		return []string{TierAdvancedVision, TierBasicVision}
	}
	return []string{TierBasicVision}
}

func (d *InferenceDispatcher) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	logger := zerolog.Ctx(ctx).With().
		Str("user_id", req.UserID).
		Str("kind", string(req.Kind)).
		Logger()
	ctx = logger.WithContext(ctx)
	d.transition(ctx, StateReceived)

	if err := validateDispatch(req); err != nil {
		d.transition(ctx, StateRejected)
		return nil, err
	}

	// Every /predict call counts as a frame whether or not the client says it is live.
	if req.Live || req.Kind == KindPredict {
		release, ok := d.frames.TryAcquire(req.UserID)
		if !ok {
			metrics.LiveFramesDropped.Inc()
			d.transition(ctx, StateDropped)
			return nil, ErrFrameDropped
		}
		defer release()
	}

	var conv *models.Conversation
	if req.ConversationID != "" {
		found, err := d.conversations.GetConversation(ctx, req.UserID, req.ConversationID)
		if err != nil {
			d.transition(ctx, StateRejected)
			return nil, err
		}
		conv = found
	}

	decision, err := d.consume(ctx, req)
	if err != nil {
		d.transition(ctx, StateRejected)
		return nil, err
	}
	d.transition(ctx, StateQuotaChecked)

	result := &DispatchResult{Kind: req.Kind, Tier: decision.Tier, Quota: decision}

	if conv == nil && req.Kind == KindChat {
		created, err := d.conversations.CreateConversation(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		conv = created
	}

	var history []HistoryTurn
	if conv != nil {
		result.ConversationID = conv.ID
		history, err = d.history(ctx, conv.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation context: %w", err)
		}
		if err := d.persistUserMessage(ctx, conv.ID, req, decision.Tier); err != nil {
			return nil, err
		}
	}

	d.transition(ctx, StateInferenceInvoked)
	text, err := d.invoke(ctx, decision.Tier, buildBackendRequest(req, history))
	if err != nil {
		d.transition(ctx, StateReported)
		return nil, err
	}

	if err := shapeResult(req, text, result); err != nil {
		logger.Error().Err(err).Str("tier", decision.Tier).Str("raw", truncate(text, 512)).Msg("Unusable model output")
		d.transition(ctx, StateReported)
		return nil, ErrInferenceBackend
	}

	if conv != nil {
		if err := d.persistReply(ctx, conv.ID, result); err != nil {
			// The charge stands and the answer is still returned; only the transcript misses it.
			logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("Failed to persist reply")
		}
	}
	d.transition(ctx, StatePersisted)
	return result, nil
}

func validateDispatch(req DispatchRequest) error {
	if req.UserID == "" {
		return validationError("missing user id")
	}
	switch req.Kind {
	case KindPredict:
		if len(req.Media) == 0 {
			return validationError("file is required")
		}
		if !isImage(req.MimeType) {
			return validationError("file must be an image")
		}
	case KindChat:
		if len(req.Media) == 0 && strings.TrimSpace(req.Text) == "" {
			return validationError("a file or user_message is required")
		}
		if len(req.Media) > 0 && !isImage(req.MimeType) && !isVideo(req.MimeType) {
			return validationError("file must be an image or a video")
		}
	default:
		return validationError("unknown request kind %q", req.Kind)
	}
	return nil
}

// consume charges the first tier on the route that still has quota. On a multi-tier route,
// tiers with no backend or whose backend cannot take the attached media are skipped without
// being charged. A single-tier route is always charged.
func (d *InferenceDispatcher) consume(ctx context.Context, req DispatchRequest) (QuotaDecision, error) {
	var last QuotaDecision
	tried := false
	missingBackend := false
	route := TierRoute(req.Kind)
	for _, tier := range route {
		backend := d.backends[tier]
		if backend == nil && len(route) > 1 {
			zerolog.Ctx(ctx).Warn().Str("tier", tier).Msg("No inference backend configured, skipping tier")
			missingBackend = true
			continue
		}
		if len(req.Media) > 0 {
			if accepter, ok := backend.(MediaAccepter); ok && !accepter.Accepts(req.MimeType) {
				continue
			}
		}
		decision, err := d.ledger.CheckAndConsume(ctx, req.UserID, tier)
		if err != nil {
			return QuotaDecision{}, err
		}
		if decision.Allowed() {
			return decision, nil
		}
		last = decision
		tried = true
	}
	if !tried {
		if missingBackend {
			return QuotaDecision{}, fmt.Errorf("%w: %s", ErrInferenceBackend, ErrNoBackend)
		}
		return QuotaDecision{}, validationError("no model accepts %s", req.MimeType)
	}
	return QuotaDecision{}, &QuotaExceededError{Decision: last}
}

func (d *InferenceDispatcher) history(ctx context.Context, conversationID string) ([]HistoryTurn, error) {
	messages, err := d.conversations.ListOrdered(ctx, conversationID).Tail(d.contextWindow)
	if err != nil {
		return nil, err
	}
	turns := make([]HistoryTurn, 0, len(messages))
	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		turns = append(turns, HistoryTurn{Sender: string(msg.Sender), Content: msg.Content})
	}
	return turns, nil
}

func (d *InferenceDispatcher) persistUserMessage(ctx context.Context, conversationID string, req DispatchRequest, tier string) error {
	msg := &models.Message{
		Sender:    models.SenderUser,
		Kind:      models.KindText,
		Content:   strings.TrimSpace(req.Text),
		ModelTier: tier,
	}
	if len(req.Media) > 0 {
		msg.Kind = models.KindImage
		if isVideo(req.MimeType) {
			msg.Kind = models.KindVideo
		}
		msg.MediaRef = d.storeMedia(ctx, req)
	}
	if _, err := d.conversations.Append(ctx, conversationID, msg); err != nil {
		if msg.MediaRef != "" {
			if delErr := d.media.DeleteFile(ctx, msg.MediaRef); delErr != nil {
				zerolog.Ctx(ctx).Warn().Err(delErr).Str("object", msg.MediaRef).Msg("Failed to remove orphaned media")
			}
		}
		return fmt.Errorf("failed to save user message: %w", err)
	}
	return nil
}

func (d *InferenceDispatcher) storeMedia(ctx context.Context, req DispatchRequest) string {
	if d.media == nil {
		return ""
	}
	name := path.Base(req.FileName)
	if name == "." || name == "/" {
		name = "upload"
	}
	objectName := fmt.Sprintf("chat_media/%s/%s-%s", req.UserID, uuid.New().String(), name)
	if err := d.media.UploadFile(ctx, objectName, bytes.NewReader(req.Media), req.MimeType); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("object", objectName).Msg("Failed to store media, continuing without it")
		return ""
	}
	return objectName
}

func (d *InferenceDispatcher) invoke(ctx context.Context, tier string, req BackendRequest) (string, error) {
	logger := zerolog.Ctx(ctx)
	backend, ok := d.backends[tier]
	if !ok || backend == nil {
		logger.Error().Str("tier", tier).Msg("No inference backend configured")
		metrics.InferenceDuration.WithLabelValues(tier, "error").Observe(0)
		return "", fmt.Errorf("%w: %s", ErrInferenceBackend, ErrNoBackend)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	resp, err := backend.Generate(callCtx, req)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			metrics.InferenceDuration.WithLabelValues(tier, "timeout").Observe(elapsed)
			logger.Error().Err(err).Str("tier", tier).Dur("timeout", d.timeout).Msg("Inference timed out")
			return "", ErrInferenceTimeout
		}
		metrics.InferenceDuration.WithLabelValues(tier, "error").Observe(elapsed)
		logger.Error().Err(err).Str("tier", tier).Msg("Inference backend failed")
		return "", ErrInferenceBackend
	}

	metrics.InferenceDuration.WithLabelValues(tier, "success").Observe(elapsed)
	return resp.Text, nil
}

func buildBackendRequest(req DispatchRequest, history []HistoryTurn) BackendRequest {
	backendReq := BackendRequest{
		Media:    req.Media,
		MimeType: req.MimeType,
		History:  history,
	}
	switch {
	case req.Kind == KindPredict:
		backendReq.Prompt = predictPrompt
		backendReq.WantJSON = true
	case len(req.Media) > 0:
		backendReq.Prompt = chatAnalysisPrompt
		if text := strings.TrimSpace(req.Text); text != "" {
			backendReq.Prompt += "\n\nUser message: " + text
		}
		backendReq.WantJSON = true
	default:
		backendReq.Prompt = strings.TrimSpace(req.Text)
	}
	return backendReq
}

func shapeResult(req DispatchRequest, text string, result *DispatchResult) error {
	if req.Kind == KindChat && len(req.Media) == 0 {
		result.Message = strings.TrimSpace(text)
		if result.Message == "" {
			return errors.New("empty reply")
		}
		return nil
	}

	analysis, err := ParseAnalysis(text)
	if err != nil {
		return err
	}

	if req.Kind == KindPredict {
		if analysis.Prediction() == "" {
			if summary := analysis.Summary(); summary != "" {
				analysis[models.FieldPrediction] = summary
			} else {
				return errors.New("analysis has no prediction")
			}
		}
		if confidence, ok := analysis.Confidence(); ok {
			analysis[models.FieldConfidence] = confidence
		} else {
			analysis[models.FieldConfidence] = float64(0)
		}
	}
	result.Analysis = analysis
	return nil
}

func (d *InferenceDispatcher) persistReply(ctx context.Context, conversationID string, result *DispatchResult) error {
	msg := &models.Message{
		Sender:    models.SenderAI,
		Kind:      models.KindText,
		Content:   result.Message,
		ModelTier: result.Tier,
	}
	if result.Analysis != nil {
		data, err := result.Analysis.JSON()
		if err != nil {
			return err
		}
		msg.Kind = models.KindAnalysisResult
		msg.Content = result.Analysis.Summary()
		if msg.Content == "" {
			msg.Content = result.Analysis.Prediction()
		}
		msg.AnalysisData = data
	}
	_, err := d.conversations.Append(ctx, conversationID, msg)
	return err
}

func (d *InferenceDispatcher) transition(ctx context.Context, state string) {
	metrics.InferenceStates.WithLabelValues(state).Inc()
	zerolog.Ctx(ctx).Debug().Str("state", state).Msg("Request state")
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
