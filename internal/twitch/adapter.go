// Package twitch ingests Twitch chat over IRC.
package twitch

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	twitchirc "github.com/gempir/go-twitch-irc/v4"

	"github.com/john/chatspeaker/internal/handler"
	"github.com/john/chatspeaker/internal/message"
)

// Adapter is the chat handler for one or more Twitch channels.
type Adapter struct {
	*handler.Runner

	username string
	oauth    string
	channels []string
	log      *slog.Logger

	client *twitchirc.Client
}

// New builds an adapter joining the given channels. An empty username and
// oauth token yields an anonymous (read-only) connection.
func New(username, oauth string, channels []string, log *slog.Logger) *Adapter {
	a := &Adapter{
		username: username,
		oauth:    oauth,
		channels: channels,
		log:      log.With(slog.String("component", "twitch")),
	}
	a.Runner = handler.NewRunner(message.PlatformTwitch, log, handler.Hooks{
		Connect:    a.connect,
		Run:        a.run,
		Disconnect: a.disconnect,
	})
	return a
}

func (a *Adapter) connect(ctx context.Context) error {
	var client *twitchirc.Client
	if a.username == "" {
		client = twitchirc.NewAnonymousClient()
	} else {
		client = twitchirc.NewClient(a.username, a.oauth)
	}

	client.OnPrivateMessage(func(m twitchirc.PrivateMessage) {
		a.Emit(convert(m))
	})
	client.OnConnect(func() {
		a.log.Info("connected to twitch irc", slog.Any("channels", a.channels))
	})

	for _, ch := range a.channels {
		client.Join(ch)
	}

	a.client = client
	return nil
}

func (a *Adapter) disconnect() {
	if a.client != nil {
		_ = a.client.Disconnect()
		a.client = nil
	}
}

// run drives the IRC client, which handles its own reconnects internally,
// and tears it down when the context ends.
func (a *Adapter) run(ctx context.Context) error {
	client := a.client
	if client == nil {
		return nil
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Connect()
	}()

	select {
	case <-ctx.Done():
		_ = client.Disconnect()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, twitchirc.ErrClientDisconnected) {
			return err
		}
		return nil
	}
}

func convert(m twitchirc.PrivateMessage) message.ChatMessage {
	msg := message.New(message.PlatformTwitch, m.User.DisplayName, m.Message)
	msg.UserID = m.User.ID

	badges := make([]string, 0, len(m.User.Badges))
	for badge := range m.User.Badges {
		badges = append(badges, badge)
	}
	sort.Strings(badges)
	msg.Badges = badges

	for _, badge := range badges {
		switch strings.ToLower(badge) {
		case "moderator", "broadcaster":
			msg.IsModerator = true
		case "subscriber", "founder":
			msg.IsSubscriber = true
		}
	}
	return msg
}
