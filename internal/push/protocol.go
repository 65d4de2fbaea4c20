package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/valyala/fastjson"
)

// Pusher protocol event names.
const (
	eventConnectionEstablished = "pusher:connection_established"
	eventError                 = "pusher:error"
	eventPing                  = "pusher:ping"
	eventPong                  = "pusher:pong"
	eventSubscribe             = "pusher:subscribe"
	eventUnsubscribe           = "pusher:unsubscribe"
	eventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
)

// Event is a channel event received from the socket.
type Event struct {
	Channel string
	Name    string
	// Data is the decoded payload. Pusher double-encodes data as a JSON
	// string; Data holds the inner document.
	Data []byte
}

// ProtocolError is a pusher:error event or a 4xxx close code.
type ProtocolError struct {
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("pusher error %d: %s", e.Code, e.Message)
}

// Fatal reports whether the server asked the client not to reconnect.
func (e *ProtocolError) Fatal() bool {
	return e.Code >= 4000 && e.Code < 4100
}

var frameParsers fastjson.ParserPool

// decodeFrame parses one socket frame.
func decodeFrame(raw []byte) (Event, error) {
	p := frameParsers.Get()
	defer frameParsers.Put(p)

	v, err := p.ParseBytes(raw)
	if err != nil {
		return Event{}, fmt.Errorf("decode frame: %w", err)
	}
	name := string(v.GetStringBytes("event"))
	if name == "" {
		return Event{}, errors.New("decode frame: missing event name")
	}
	evt := Event{
		Channel: string(v.GetStringBytes("channel")),
		Name:    name,
	}
	if data := v.Get("data"); data != nil {
		if data.Type() == fastjson.TypeString {
			evt.Data = append([]byte(nil), data.GetStringBytes()...)
		} else {
			evt.Data = data.MarshalTo(nil)
		}
	}
	return evt, nil
}

// connectionInfo is the payload of pusher:connection_established.
type connectionInfo struct {
	SocketID        string
	ActivityTimeout int
}

func decodeConnectionInfo(data []byte) (connectionInfo, error) {
	p := frameParsers.Get()
	defer frameParsers.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return connectionInfo{}, fmt.Errorf("decode connection info: %w", err)
	}
	return connectionInfo{
		SocketID:        string(v.GetStringBytes("socket_id")),
		ActivityTimeout: v.GetInt("activity_timeout"),
	}, nil
}

func decodeError(data []byte) *ProtocolError {
	p := frameParsers.Get()
	defer frameParsers.Put(p)

	pe := &ProtocolError{}
	v, err := p.ParseBytes(data)
	if err != nil {
		pe.Message = string(data)
		return pe
	}
	pe.Code = v.GetInt("code")
	pe.Message = string(v.GetStringBytes("message"))
	return pe
}

// encodeFrame builds an outgoing frame.
func encodeFrame(name string, data any) ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: name, Data: data})
}

type channelData struct {
	Channel string `json:"channel"`
}

// MatchEvent reports whether name is the configured event name, allowing the
// leading-dot form used by some broadcasters.
func MatchEvent(name, want string) bool {
	return name == want || strings.TrimPrefix(name, ".") == strings.TrimPrefix(want, ".")
}

// ChannelName returns the push channel of a conversation.
func ChannelName(prefix string, conversationID int64) string {
	return prefix + strconv.FormatInt(conversationID, 10)
}

// ConversationID extracts the conversation id from a channel name.
func ConversationID(prefix, channel string) (int64, bool) {
	if !strings.HasPrefix(channel, prefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(channel, prefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
