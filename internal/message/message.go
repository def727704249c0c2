package message

import "time"

// Platform identifies the chat source a message came from.
type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformKick    Platform = "kick"
	PlatformTikTok  Platform = "tiktok"
	PlatformTwitch  Platform = "twitch"
)

// ChatMessage represents a single chat event from any platform. Adapters
// construct one per successfully parsed protocol event and never mutate it
// afterwards. Platform and Text are always set by adapters; every other
// field degrades to its zero value when the source does not supply it.
type ChatMessage struct {
	Platform     Platform  `json:"platform"`
	Username     string    `json:"username"`
	Text         string    `json:"text"`
	Timestamp    time.Time `json:"timestamp"` // capture time, not the platform's event time
	UserID       string    `json:"user_id,omitempty"`
	IsModerator  bool      `json:"is_moderator,omitempty"`
	IsSubscriber bool      `json:"is_subscriber,omitempty"`
	Badges       []string  `json:"badges,omitempty"` // opaque platform tags, in source order
}

// New builds a ChatMessage stamped with the current UTC time.
func New(platform Platform, username, text string) ChatMessage {
	return ChatMessage{
		Platform:  platform,
		Username:  username,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}
