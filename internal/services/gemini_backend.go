package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"glowscan_go_backend/internal/models"

	"github.com/google/generative-ai-go/genai"
)

type GeminiBackend struct {
	client    *genai.Client
	modelName string
}

func NewGeminiBackend(client *genai.Client, modelName string) *GeminiBackend {
	return &GeminiBackend{client: client, modelName: modelName}
}

func (b *GeminiBackend) Accepts(mimeType string) bool {
	return isImage(mimeType) || isVideo(mimeType)
}

func (b *GeminiBackend) Generate(ctx context.Context, req BackendRequest) (BackendResponse, error) {
	model := b.client.GenerativeModel(b.modelName)
	if req.WantJSON {
		model.ResponseMIMEType = "application/json"
	}

	session := model.StartChat()
	session.History = geminiHistory(req.History)

	resp, err := session.SendMessage(ctx, geminiParts(req)...)
	if err != nil {
		return BackendResponse{}, fmt.Errorf("gemini generate: %w", err)
	}

	text, err := geminiText(resp)
	if err != nil {
		return BackendResponse{}, err
	}
	return BackendResponse{Text: text, Model: b.modelName}, nil
}

func geminiParts(req BackendRequest) []genai.Part {
	parts := []genai.Part{genai.Text(req.Prompt)}
	if len(req.Media) > 0 {
		parts = append(parts, genai.Blob{MIMEType: req.MimeType, Data: req.Media})
	}
	return parts
}

func geminiHistory(turns []HistoryTurn) []*genai.Content {
	history := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		role := "user"
		if turn.Sender == string(models.SenderAI) {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(turn.Content)},
		})
	}
	return history
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			sb.WriteString(string(p))
		case *genai.Text:
			sb.WriteString(string(*p))
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("gemini returned an empty response")
	}
	return sb.String(), nil
}
