// Package chat bridges an external live-chat room into the server: it
// authenticates against the chat service, parses its events into a uniform
// message record, batches ordinary messages, and fans them out to danmaku
// subscribers.
package chat

import "time"

// Message is the uniform chat record broadcast to subscribers.
type Message struct {
	Room      string    `json:"room"`
	UID       int64     `json:"uid"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	// ImageURLs carries inline emote images extracted from the text.
	ImageURLs []string `json:"image_urls,omitempty"`
	// IsTrigger marks the message that ends a batch flush. System kinds
	// that always trigger (super-chat, gift) carry it too; entry/follow
	// events never do.
	IsTrigger bool `json:"is_trigger"`
	// IsSystem marks generated entries (gift, super-chat, entry, follow,
	// share) as opposed to typed chat.
	IsSystem bool `json:"is_system"`
}
