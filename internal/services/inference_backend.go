package services

import "strings"

type HistoryTurn struct {
	Sender  string
	Content string
}

type BackendRequest struct {
	Prompt   string
	Media    []byte
	MimeType string
	History  []HistoryTurn
	// WantJSON asks the model for a single JSON object.
	WantJSON bool
}

type BackendResponse struct {
	Text  string
	Model string
}

// MediaAccepter is implemented by backends that only handle some media types.
type MediaAccepter interface {
	Accepts(mimeType string) bool
}

func isImage(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

func isVideo(mimeType string) bool {
	return strings.HasPrefix(mimeType, "video/")
}
