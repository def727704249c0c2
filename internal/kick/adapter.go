// Package kick ingests Kick.com chat over the platform's Pusher relay.
// Chatroom ids are resolved through the channels API when not pinned in
// config, falling back to scraping the channel page when the API is blocked.
package kick

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/john/chatspeaker/internal/handler"
	"github.com/john/chatspeaker/internal/message"
)

const (
	defaultAPIBase   = "https://kick.com"
	defaultPusherURL = "wss://ws-us2.pusher.com/app/32cbd69e4b950bf97679?protocol=7&client=js&version=7.6.0&flash=false"

	eventConnectionEstablished = "pusher:connection_established"
	eventSubscribe             = "pusher:subscribe"
	eventSubscribeSucceeded    = "pusher_internal:subscription_succeeded"
	eventPing                  = "pusher:ping"
	eventPong                  = "pusher:pong"
	eventChatMessage           = `App\Events\ChatMessageEvent`
)

var (
	chatroomJSONPattern    = regexp.MustCompile(`"chatroom":\s*\{"id":\s*(\d+)`)
	chatroomChannelPattern = regexp.MustCompile(`chatrooms\.(\d+)\.v2`)
)

// Adapter is the WebSocket pub/sub chat handler for one Kick channel.
type Adapter struct {
	*handler.Runner

	channel    string
	chatroomID int
	pinned     bool // chatroom id came from config, never re-resolve
	log        *slog.Logger

	httpClient *http.Client
	apiBase    string
	pusherURL  string

	readTimeout    time.Duration
	reconnectDelay time.Duration

	// connMu guards conn: the run loop replaces it on reconnect while the
	// cancellation watchdog may close it from another goroutine.
	connMu sync.Mutex
	conn   *websocket.Conn

	// writeMu serializes frame writes: the keep-alive pinger and the
	// dispatcher's pong replies share one connection and gorilla permits a
	// single concurrent writer.
	writeMu sync.Mutex
}

func (a *Adapter) setConn(c *websocket.Conn) {
	a.connMu.Lock()
	a.conn = c
	a.connMu.Unlock()
}

func (a *Adapter) getConn() *websocket.Conn {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	return a.conn
}

// New builds an adapter for the given channel name. A non-zero chatroomID
// pins the chatroom and skips API resolution entirely.
func New(channel string, chatroomID int, log *slog.Logger) *Adapter {
	a := &Adapter{
		channel:        strings.ToLower(channel),
		chatroomID:     chatroomID,
		pinned:         chatroomID > 0,
		log:            log.With(slog.String("component", "kick"), slog.String("channel", strings.ToLower(channel))),
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		apiBase:        defaultAPIBase,
		pusherURL:      defaultPusherURL,
		readTimeout:    60 * time.Second,
		reconnectDelay: 5 * time.Second,
	}
	a.Runner = handler.NewRunner(message.PlatformKick, log, handler.Hooks{
		Connect:    a.connect,
		Run:        a.run,
		Disconnect: a.disconnect,
	})
	return a
}

func (a *Adapter) connect(ctx context.Context) error {
	if !a.pinned {
		id, err := a.resolveChatroomID(ctx)
		if err != nil {
			return fmt.Errorf("resolve chatroom id: %w", err)
		}
		a.chatroomID = id
	} else {
		a.log.Info("using pinned chatroom id", slog.Int("chatroom_id", a.chatroomID))
	}
	return a.openSession(ctx)
}

func (a *Adapter) disconnect() {
	if c := a.getConn(); c != nil {
		c.Close()
		a.setConn(nil)
	}
}

// openSession dials the relay, waits for connection_established, subscribes
// to the chatroom channel, and waits for the subscription ack. Any failure
// closes the socket before returning.
func (a *Adapter) openSession(ctx context.Context) error {
	header := http.Header{}
	header.Set("Origin", "https://kick.com")
	header.Set("User-Agent", browserUserAgent)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, a.pusherURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("dial pusher relay: %w", err)
	}

	f, err := a.readFrame(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("await connection established: %w", err)
	}
	if f.Event != eventConnectionEstablished {
		conn.Close()
		return fmt.Errorf("unexpected connection response %q", f.Event)
	}

	sub := frame{
		Event: eventSubscribe,
		Data: mustRaw(map[string]string{
			"auth":    "",
			"channel": fmt.Sprintf("chatrooms.%d.v2", a.chatroomID),
		}),
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("send subscribe: %w", err)
	}

	f, err = a.readFrame(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("await subscription ack: %w", err)
	}
	if f.Event != eventSubscribeSucceeded {
		// The relay sometimes delivers other frames first; log and proceed,
		// as the subscription usually still takes effect.
		a.log.Warn("unexpected subscription response", slog.String("event", f.Event))
	}

	a.setConn(conn)
	a.log.Info("subscribed to chatroom", slog.Int("chatroom_id", a.chatroomID))
	return nil
}

func (a *Adapter) readFrame(conn *websocket.Conn) (frame, error) {
	conn.SetReadDeadline(time.Now().Add(a.readTimeout))
	var f frame
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("parse frame: %w", err)
	}
	return f, nil
}

func (a *Adapter) run(ctx context.Context) error {
	// Reads below block in the websocket; closing the socket is how
	// cancellation reaches them.
	watchdog := make(chan struct{})
	defer close(watchdog)
	go func() {
		select {
		case <-ctx.Done():
			if c := a.getConn(); c != nil {
				c.Close()
			}
		case <-watchdog:
		}
	}()

	for ctx.Err() == nil {
		conn := a.getConn()
		if conn == nil {
			return nil
		}
		err := a.readFrames(conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A read-deadline expiry lands here too: once a deadline passes,
		// gorilla fails the connection for good, so the only way forward
		// is a fresh socket.
		a.log.Warn("connection lost, reconnecting", slog.Any("error", err))
		a.SetState(handler.StateReconnecting)
		conn.Close()
		a.setConn(nil)
		if !handler.Sleep(ctx, a.reconnectDelay) {
			return ctx.Err()
		}
		if rerr := a.reconnect(ctx); rerr != nil {
			a.log.Error("reconnect failed, ending chat loop", slog.Any("error", rerr))
			return nil
		}
		a.SetState(handler.StateRunning)
	}
	return ctx.Err()
}

// readFrames consumes relay frames until the connection fails. A keep-alive
// pinger runs alongside so an idle chatroom produces pusher:pong traffic
// that feeds the read deadline, while a half-open connection still times out.
func (a *Adapter) readFrames(conn *websocket.Conn) error {
	stopPing := make(chan struct{})
	defer close(stopPing)
	go a.keepAlive(conn, stopPing)

	for {
		conn.SetReadDeadline(time.Now().Add(a.readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			a.log.Debug("unparseable frame skipped", slog.Any("error", err))
			continue
		}
		a.dispatch(conn, f)
	}
}

// keepAlive pings the relay at half the read-deadline interval.
func (a *Adapter) keepAlive(conn *websocket.Conn, stop <-chan struct{}) {
	t := time.NewTicker(a.readTimeout / 2)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := a.writeFrame(conn, frame{Event: eventPing, Data: mustRaw(map[string]string{})}); err != nil {
				a.log.Warn("keep-alive ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

func (a *Adapter) writeFrame(conn *websocket.Conn, f frame) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return conn.WriteJSON(f)
}

// reconnect re-acquires a session after an unexpected close. The chatroom
// id is re-resolved only when it was not pinned in config.
func (a *Adapter) reconnect(ctx context.Context) error {
	if !a.pinned {
		id, err := a.resolveChatroomID(ctx)
		if err != nil {
			return fmt.Errorf("re-resolve chatroom id: %w", err)
		}
		a.chatroomID = id
	}
	return a.openSession(ctx)
}

// dispatch handles one relay frame. Unrecognized event types are ignored.
func (a *Adapter) dispatch(conn *websocket.Conn, f frame) {
	switch f.Event {
	case eventChatMessage:
		msg, ok := a.parseChatEvent(f.Data)
		if !ok {
			return
		}
		a.Emit(msg)
	case eventPing:
		if err := a.writeFrame(conn, frame{Event: eventPong, Data: mustRaw(map[string]string{})}); err != nil {
			a.log.Warn("pong failed", slog.Any("error", err))
		}
	}
}

// parseChatEvent unpacks the nested payload: the frame's data field is a
// JSON string that itself contains the chat message object.
func (a *Adapter) parseChatEvent(data json.RawMessage) (message.ChatMessage, bool) {
	var inner string
	if err := json.Unmarshal(data, &inner); err != nil {
		// Some relays deliver the payload as an object directly.
		inner = string(data)
	}

	var payload chatPayload
	if err := json.Unmarshal([]byte(inner), &payload); err != nil {
		a.log.Debug("malformed chat payload skipped", slog.Any("error", err))
		return message.ChatMessage{}, false
	}
	if payload.Content == "" {
		return message.ChatMessage{}, false
	}

	username := payload.Sender.Username
	if username == "" {
		username = "Unknown"
	}

	msg := message.New(message.PlatformKick, username, payload.Content)
	if payload.Sender.ID != 0 {
		msg.UserID = strconv.Itoa(payload.Sender.ID)
	}
	msg.IsModerator = payload.Sender.IsModerator || payload.Sender.IsBroadcaster
	msg.IsSubscriber = payload.Sender.IsSubscriber
	for _, b := range payload.Sender.Identity.Badges {
		if b.Text != "" {
			msg.Badges = append(msg.Badges, b.Type+":"+b.Text)
		} else {
			msg.Badges = append(msg.Badges, b.Type)
		}
		switch b.Type {
		case "moderator", "broadcaster":
			msg.IsModerator = true
		case "subscriber", "founder":
			msg.IsSubscriber = true
		}
	}
	return msg, true
}

// resolveChatroomID tries the v2 API, then the v1 API, then scraping the
// channel page, in that order.
func (a *Adapter) resolveChatroomID(ctx context.Context) (int, error) {
	for _, path := range []string{"/api/v2/channels/", "/api/v1/channels/"} {
		id, err := a.lookupChatroom(ctx, a.apiBase+path+a.channel)
		if err == nil {
			a.log.Info("resolved chatroom id", slog.Int("chatroom_id", id), slog.String("via", path))
			return id, nil
		}
		a.log.Warn("chatroom lookup failed", slog.String("via", path), slog.Any("error", err))
	}

	id, err := a.scrapeChatroom(ctx, a.apiBase+"/"+a.channel)
	if err != nil {
		return 0, fmt.Errorf("all resolution methods failed: %w", err)
	}
	a.log.Info("resolved chatroom id from channel page", slog.Int("chatroom_id", id))
	return id, nil
}

func (a *Adapter) lookupChatroom(ctx context.Context, url string) (int, error) {
	resp, err := a.get(ctx, url, "application/json, text/plain, */*")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}

	var info struct {
		ID       int `json:"id"`
		Chatroom struct {
			ID int `json:"id"`
		} `json:"chatroom"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return 0, fmt.Errorf("decode channel info: %w", err)
	}
	if info.Chatroom.ID == 0 {
		return 0, fmt.Errorf("response has no chatroom id")
	}
	return info.Chatroom.ID, nil
}

func (a *Adapter) scrapeChatroom(ctx context.Context, url string) (int, error) {
	resp, err := a.get(ctx, url, "text/html,*/*")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("channel page returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	html := string(body)

	if m := chatroomJSONPattern.FindStringSubmatch(html); m != nil {
		return strconv.Atoi(m[1])
	}
	if m := chatroomChannelPattern.FindStringSubmatch(html); m != nil {
		return strconv.Atoi(m[1])
	}
	return 0, fmt.Errorf("no chatroom id in channel page")
}

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// get issues a request with the browser-shaped headers Kick's edge expects;
// plain client requests are routinely blocked.
func (a *Adapter) get(ctx context.Context, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://kick.com/")
	req.Header.Set("Origin", "https://kick.com")
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	return a.httpClient.Do(req)
}

// frame is one Pusher protocol message.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// chatPayload is the nested ChatMessageEvent body.
type chatPayload struct {
	Content string `json:"content"`
	Sender  struct {
		ID            int    `json:"id"`
		Username      string `json:"username"`
		IsModerator   bool   `json:"is_moderator"`
		IsBroadcaster bool   `json:"is_broadcaster"`
		IsSubscriber  bool   `json:"is_subscriber"`
		Identity      struct {
			Badges []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"badges"`
		} `json:"identity"`
	} `json:"sender"`
}

func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
