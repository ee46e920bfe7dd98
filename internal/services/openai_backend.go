package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"glowscan_go_backend/internal/models"

	"github.com/sashabaranov/go-openai"
)

type OpenAIBackend struct {
	client *openai.Client
	model  string
}

func NewOpenAIBackend(apiKey, baseURL, model string) *OpenAIBackend {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(clientConfig), model: model}
}

// Accepts reports image support only; chat completions take no video input.
func (b *OpenAIBackend) Accepts(mimeType string) bool {
	return isImage(mimeType)
}

func (b *OpenAIBackend) Generate(ctx context.Context, req BackendRequest) (BackendResponse, error) {
	completion := openai.ChatCompletionRequest{
		Model:    b.model,
		Messages: openAIMessages(req),
	}
	if req.WantJSON {
		completion.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := b.client.CreateChatCompletion(ctx, completion)
	if err != nil {
		return BackendResponse{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return BackendResponse{}, errors.New("openai returned an empty response")
	}
	return BackendResponse{Text: resp.Choices[0].Message.Content, Model: resp.Model}, nil
}

func openAIMessages(req BackendRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := openai.ChatMessageRoleUser
		if turn.Sender == string(models.SenderAI) {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}

	if len(req.Media) == 0 {
		return append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Prompt,
		})
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", req.MimeType, base64.StdEncoding.EncodeToString(req.Media))
	return append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
			{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: openai.ImageURLDetailAuto},
			},
		},
	})
}
