// Package push is a Pusher protocol v7 client. It keeps one socket open,
// follows a set of channels across reconnects and publishes channel events
// on the bus.
package push

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/wecrm/crmchat/internal/bus"
	"github.com/wecrm/crmchat/internal/config"
	"github.com/wecrm/crmchat/internal/status"
	"go.uber.org/zap"
)

// Version is reported to the server in the connection URL.
const Version = "0.3.0"

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	maxMessageSize = 1 << 20
)

// Client is safe for concurrent use.
type Client struct {
	cfg     config.Push
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
	dialer  *websocket.Dialer

	newBackOff func() backoff.BackOff

	mu       sync.Mutex
	channels map[string]struct{}
	conn     *websocket.Conn
	socketID string

	writeMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a client. machine and b may be nil.
func New(cfg config.Push, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		machine: machine,
		bus:     b,
		logger:  logger.Named("push"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
		newBackOff: func() backoff.BackOff {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = time.Second
			eb.MaxInterval = time.Minute
			eb.MaxElapsedTime = 0
			return eb
		},
		channels: make(map[string]struct{}),
	}
}

// URL returns the socket endpoint.
func (c *Client) URL() string {
	scheme := "ws"
	if c.cfg.TLS {
		scheme = "wss"
	}
	q := url.Values{}
	q.Set("protocol", "7")
	q.Set("client", "crmchat")
	q.Set("version", Version)
	q.Set("flash", "false")
	u := url.URL{
		Scheme:   scheme,
		Host:     c.cfg.Host + ":" + strconv.Itoa(c.cfg.Port),
		Path:     "/app/" + c.cfg.Key,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Start connects in the background and keeps reconnecting until Stop.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Stop closes the socket and waits for the connection loop to exit.
func (c *Client) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.setState(status.Stopped)
}

// SocketID returns the id assigned by the server, or "" when disconnected.
func (c *Client) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// Subscribe follows a channel. Channels survive reconnects.
func (c *Client) Subscribe(channel string) error {
	c.mu.Lock()
	if _, ok := c.channels[channel]; ok {
		c.mu.Unlock()
		return nil
	}
	c.channels[channel] = struct{}{}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.send(conn, eventSubscribe, channelData{Channel: channel})
}

// Unsubscribe stops following a channel.
func (c *Client) Unsubscribe(channel string) error {
	c.mu.Lock()
	if _, ok := c.channels[channel]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.channels, channel)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.send(conn, eventUnsubscribe, channelData{Channel: channel})
}

// SubscribeConversation follows a conversation's channel.
func (c *Client) SubscribeConversation(id int64) error {
	return c.Subscribe(ChannelName(c.cfg.ChannelPrefix, id))
}

// UnsubscribeConversation stops following a conversation's channel.
func (c *Client) UnsubscribeConversation(id int64) error {
	return c.Unsubscribe(ChannelName(c.cfg.ChannelPrefix, id))
}

// Channels returns the followed channels in sorted order.
func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	b := c.newBackOff()
	c.setState(status.Connecting)
	for {
		err := c.session(ctx, b)
		if ctx.Err() != nil {
			return
		}

		var pe *ProtocolError
		if errors.As(err, &pe) && pe.Fatal() {
			c.logger.Error("server refused connection", zap.Int("code", pe.Code), zap.String("message", pe.Message))
			c.setState(status.Error)
			return
		}

		c.setState(status.Reconnecting)
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			c.logger.Error("giving up reconnecting", zap.Error(err))
			c.setState(status.Error)
			return
		}
		c.logger.Warn("socket lost", zap.Error(err), zap.Duration("retry_in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
		c.setState(status.Connecting)
	}
}

// session runs one connection until it fails or ctx is cancelled.
func (c *Client) session(ctx context.Context, b backoff.BackOff) error {
	conn, _, err := c.dialer.DialContext(ctx, c.URL(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go c.closeOnCancel(ctx, conn, stop)

	conn.SetReadLimit(maxMessageSize)
	activity := c.cfg.ActivityTimeout()
	_ = conn.SetReadDeadline(time.Now().Add(activity + pongWait))

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return closeError(err)
	}
	first, err := decodeFrame(raw)
	if err != nil {
		return err
	}
	if first.Name == eventError {
		return decodeError(first.Data)
	}
	if first.Name != eventConnectionEstablished {
		return fmt.Errorf("handshake: unexpected event %q", first.Name)
	}
	info, err := decodeConnectionInfo(first.Data)
	if err != nil {
		return err
	}
	if info.ActivityTimeout > 0 {
		if server := time.Duration(info.ActivityTimeout) * time.Second; server < activity {
			activity = server
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.socketID = info.SocketID
	channels := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.socketID = ""
		c.mu.Unlock()
		c.bus.Publish(bus.NewEvent(bus.KindPushDisconnected, nil))
	}()

	sort.Strings(channels)
	for _, ch := range channels {
		if err := c.send(conn, eventSubscribe, channelData{Channel: ch}); err != nil {
			return fmt.Errorf("resubscribe %s: %w", ch, err)
		}
	}

	b.Reset()
	c.setState(status.Live)
	c.logger.Info("socket connected", zap.String("socket_id", info.SocketID), zap.Int("channels", len(channels)))
	c.bus.Publish(bus.NewEvent(bus.KindPushConnected, info.SocketID))

	go c.keepalive(conn, activity, stop)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(activity + pongWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return closeError(err)
		}
		evt, err := decodeFrame(raw)
		if err != nil {
			c.logger.Debug("dropping frame", zap.Error(err))
			continue
		}
		if err := c.handle(conn, evt); err != nil {
			return err
		}
	}
}

func (c *Client) handle(conn *websocket.Conn, evt Event) error {
	switch evt.Name {
	case eventPing:
		return c.send(conn, eventPong, struct{}{})
	case eventPong:
	case eventError:
		pe := decodeError(evt.Data)
		c.logger.Warn("server error", zap.Int("code", pe.Code), zap.String("message", pe.Message))
		if pe.Code >= 4000 && pe.Code < 4300 {
			return pe
		}
	case eventSubscriptionSucceeded:
		c.logger.Debug("subscribed", zap.String("channel", evt.Channel))
	default:
		if evt.Channel == "" {
			c.logger.Debug("ignoring event", zap.String("event", evt.Name))
			return nil
		}
		c.bus.Publish(bus.NewEvent(bus.KindPushEvent, evt))
	}
	return nil
}

// keepalive sends pusher:ping every activity timeout.
func (c *Client) keepalive(conn *websocket.Conn, every time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.send(conn, eventPing, struct{}{}); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
			}
		case <-stop:
			return
		}
	}
}

// closeOnCancel unblocks the session's reads when ctx is cancelled.
func (c *Client) closeOnCancel(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	select {
	case <-ctx.Done():
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = conn.Close()
	case <-stop:
	}
}

func (c *Client) send(conn *websocket.Conn, name string, data any) error {
	frame, err := encodeFrame(name, data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) setState(s status.State) {
	if c.machine == nil || c.machine.Current() == s {
		return
	}
	if err := c.machine.Transition(s); err != nil {
		c.logger.Debug("state change rejected", zap.Error(err))
	}
}

// closeError maps 4xxx close frames to ProtocolError.
func closeError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code >= 4000 && ce.Code < 5000 {
		return &ProtocolError{Code: ce.Code, Message: ce.Text}
	}
	return err
}
