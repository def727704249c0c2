// Package filter decides which chat messages get spoken and renders the
// text handed to synthesis.
package filter

import (
	"regexp"
	"strings"

	"github.com/john/chatspeaker/internal/message"
)

var (
	linkPattern     = regexp.MustCompile(`(?i)https?://|www\.`)
	usernameNoise   = regexp.MustCompile(`[_\-\d]+`)
	whitespaceRunsP = regexp.MustCompile(`\s+`)
)

// Config controls which messages pass the filter.
type Config struct {
	MinLength      int
	MaxLength      int
	IgnoreCommands bool // skip messages starting with "!"
	IgnoreLinks    bool
	BlockedUsers   []string
	BlockedWords   []string
}

// Filter applies the configured rules to incoming messages.
type Filter struct {
	cfg          Config
	blockedUsers map[string]struct{}
	blockedWords []string
}

func New(cfg Config) *Filter {
	f := &Filter{cfg: cfg, blockedUsers: make(map[string]struct{}, len(cfg.BlockedUsers))}
	for _, u := range cfg.BlockedUsers {
		f.blockedUsers[strings.ToLower(u)] = struct{}{}
	}
	for _, w := range cfg.BlockedWords {
		f.blockedWords = append(f.blockedWords, strings.ToLower(w))
	}
	return f
}

// Allow reports whether msg should be spoken.
func (f *Filter) Allow(msg message.ChatMessage) bool {
	text := msg.Text
	if len(text) < f.cfg.MinLength {
		return false
	}
	if f.cfg.MaxLength > 0 && len(text) > f.cfg.MaxLength {
		return false
	}
	if f.cfg.IgnoreCommands && strings.HasPrefix(text, "!") {
		return false
	}
	if f.cfg.IgnoreLinks && linkPattern.MatchString(text) {
		return false
	}
	if _, blocked := f.blockedUsers[strings.ToLower(msg.Username)]; blocked {
		return false
	}
	lower := strings.ToLower(text)
	for _, word := range f.blockedWords {
		if strings.Contains(lower, word) {
			return false
		}
	}
	return true
}

// Formatter renders the spoken announcement for a message.
type Formatter struct {
	AnnouncePlatform bool
	AnnounceUsername bool
}

// Render builds the text sent to synthesis. Usernames are cleaned of
// underscores, dashes and digits so they read naturally.
func (f *Formatter) Render(msg message.ChatMessage) string {
	var parts []string
	if f.AnnouncePlatform {
		parts = append(parts, string(msg.Platform)+",")
	}
	if f.AnnounceUsername {
		username := strings.TrimSpace(usernameNoise.ReplaceAllString(msg.Username, " "))
		username = whitespaceRunsP.ReplaceAllString(username, " ")
		if username != "" {
			parts = append(parts, username+" says,")
		}
	}
	parts = append(parts, msg.Text)
	return strings.Join(parts, " ")
}
