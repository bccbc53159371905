package stream

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"backend-formcoach/internal/pose"
)

var ErrUnknownMessage = errors.New("unknown message")

type MessageKind int

const (
	KindFrame MessageKind = iota + 1
	KindMode
	KindHeartbeat
)

func (k MessageKind) String() string {
	switch k {
	case KindFrame:
		return "frame"
	case KindMode:
		return "mode"
	case KindHeartbeat:
		return "heartbeat"
	}
	return "unknown"
}

// Message is a decoded client message. Only the fields for its Kind are set.
type Message struct {
	Kind      MessageKind
	Image     []byte
	Landmarks pose.LandmarkSet
	Mode      string
	Timestamp time.Time
}

type envelope struct {
	Type        string           `json:"type"`
	Image       string           `json:"image,omitempty"`
	Landmarks   pose.LandmarkSet `json:"landmarks,omitempty"`
	Mode        string           `json:"mode,omitempty"`
	TimestampMS int64            `json:"timestamp_ms,omitempty"`
}

// DecodeMessage accepts a JSON envelope or one of the bare strings older clients send:
// "heartbeat", "mode_<name>" and "data:image/<fmt>;base64,<data>".
func DecodeMessage(raw []byte) (Message, error) {
	text := strings.TrimSpace(string(raw))
	switch {
	case text == "heartbeat":
		return Message{Kind: KindHeartbeat}, nil
	case strings.HasPrefix(text, "mode_"):
		mode := strings.TrimPrefix(text, "mode_")
		if mode == "" {
			return Message{}, fmt.Errorf("%w: empty mode", ErrUnknownMessage)
		}
		return Message{Kind: KindMode, Mode: mode}, nil
	case strings.HasPrefix(text, "data:image"):
		img, err := decodeDataURL(text)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: KindFrame, Image: img}, nil
	case strings.HasPrefix(text, "{"):
		return decodeEnvelope([]byte(text))
	}
	return Message{}, ErrUnknownMessage
}

func decodeEnvelope(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
	}

	switch env.Type {
	case "heartbeat":
		return Message{Kind: KindHeartbeat}, nil
	case "mode":
		if env.Mode == "" {
			return Message{}, fmt.Errorf("%w: empty mode", ErrUnknownMessage)
		}
		return Message{Kind: KindMode, Mode: env.Mode}, nil
	case "frame":
		msg := Message{Kind: KindFrame, Landmarks: env.Landmarks}
		if env.TimestampMS > 0 {
			msg.Timestamp = time.UnixMilli(env.TimestampMS)
		}
		if env.Image != "" {
			img, err := decodeDataURL(env.Image)
			if err != nil {
				return Message{}, err
			}
			msg.Image = img
		}
		if msg.Image == nil && msg.Landmarks == nil {
			return Message{}, fmt.Errorf("%w: frame without image or landmarks", ErrUnknownMessage)
		}
		return msg, nil
	}
	return Message{}, fmt.Errorf("%w: type %q", ErrUnknownMessage, env.Type)
}

// decodeDataURL accepts a data URL or bare base64.
func decodeDataURL(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ";base64,")
		if idx < 0 {
			return nil, fmt.Errorf("%w: data url is not base64", ErrUnknownMessage)
		}
		s = s[idx+len(";base64,"):]
	}
	img, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
