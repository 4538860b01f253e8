// Package messages loads the message feed page by page.
//
// Service is the typed accessor over the GET helper; Loader keeps one
// consumer's accumulated list in a fetchstate.State and extends it on
// demand with AddMore.
package messages

import "time"

// Author is the sender of a message.
type Author struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Attachment is a file or media item attached to a message.
type Attachment struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is a feed entry as seen by the messenger view.
type Message struct {
	ID          string       `json:"id"`
	ChatID      string       `json:"chatId"`
	Author      Author       `json:"author"`
	Text        string       `json:"text"`
	CreatedAt   time.Time    `json:"createdAt"`
	IsRead      bool         `json:"isRead"`
	Attachments []Attachment `json:"attachments,omitempty"`
}
