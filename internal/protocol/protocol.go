// Package protocol defines the websocket wire format: the closed set
// of client requests and server replies, and their validation.
//
// Decoding is a two-step envelope parse: the "type" tag selects the
// concrete message, which is then unmarshalled and validated as a
// whole. Unknown tags and invalid payloads yield ErrMalformed; the
// connection is never torn down for a bad message.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/dkeye/chorus/internal/domain"
)

var ErrMalformed = errors.New("malformed message")

var validate = validator.New()

// Client request tags.
const (
	TypeNTPRequest          = "NTP_REQUEST"
	TypePlay                = "PLAY"
	TypePause               = "PAUSE"
	TypeStartSpatialAudio   = "START_SPATIAL_AUDIO"
	TypeStopSpatialAudio    = "STOP_SPATIAL_AUDIO"
	TypeReorderClient       = "REORDER_CLIENT"
	TypeSetListeningSource  = "SET_LISTENING_SOURCE"
	TypeMoveClient          = "MOVE_CLIENT"
	TypeSync                = "SYNC"
	TypeSetAdmin            = "SET_ADMIN"
	TypeSetPlaybackControls = "SET_PLAYBACK_CONTROLS"
)

// Server reply tags.
const (
	TypeNTPResponse     = "NTP_RESPONSE"
	TypeSetClientID     = "SET_CLIENT_ID"
	TypeRoomEvent       = "ROOM_EVENT"
	TypeScheduledAction = "SCHEDULED_ACTION"
	TypeError           = "ERROR"
)

// Room event tags (inside ROOM_EVENT).
const (
	EventClientChange    = "CLIENT_CHANGE"
	EventSetAudioSources = "SET_AUDIO_SOURCES"
)

// Scheduled action tags (inside SCHEDULED_ACTION).
const (
	ActionPlay          = "PLAY"
	ActionPause         = "PAUSE"
	ActionSpatialConfig = "SPATIAL_CONFIG"
	ActionStopSpatial   = "STOP_SPATIAL_AUDIO"
)

// ClientMessage is the closed union of everything a client may send.
type ClientMessage interface {
	clientMessage()
}

type NTPRequest struct {
	T0 int64 `json:"t0" validate:"required"`
	// T1 is the server receive timestamp, stamped by the server the
	// moment the frame is read, before decoding.
	T1 int64 `json:"t1,omitempty"`
	// RTT is the client's current round-trip estimate in milliseconds,
	// zero until it has measurements.
	RTT float64 `json:"rtt,omitempty" validate:"gte=0"`
}

type Play struct {
	TrackTimeSeconds float64 `json:"trackTimeSeconds" validate:"gte=0"`
	AudioSource      string  `json:"audioSource" validate:"required"`
}

type Pause struct {
	TrackTimeSeconds float64 `json:"trackTimeSeconds" validate:"gte=0"`
	AudioSource      string  `json:"audioSource" validate:"required"`
}

type StartSpatialAudio struct{}

type StopSpatialAudio struct{}

type ReorderClient struct {
	ClientID string `json:"clientId" validate:"required"`
}

type SetListeningSource struct {
	X float64 `json:"x" validate:"gte=0,lte=100"`
	Y float64 `json:"y" validate:"gte=0,lte=100"`
}

type MoveClient struct {
	ClientID string          `json:"clientId" validate:"required"`
	Position domain.Position `json:"position"`
}

type Sync struct{}

type SetAdmin struct {
	ClientID string `json:"clientId" validate:"required"`
	IsAdmin  bool   `json:"isAdmin"`
}

type SetPlaybackControls struct {
	Permissions domain.PlaybackPermissions `json:"permissions"`
}

func (NTPRequest) clientMessage()          {}
func (Play) clientMessage()                {}
func (Pause) clientMessage()               {}
func (StartSpatialAudio) clientMessage()   {}
func (StopSpatialAudio) clientMessage()    {}
func (ReorderClient) clientMessage()       {}
func (SetListeningSource) clientMessage()  {}
func (MoveClient) clientMessage()          {}
func (Sync) clientMessage()                {}
func (SetAdmin) clientMessage()            {}
func (SetPlaybackControls) clientMessage() {}

type envelope struct {
	Type string `json:"type"`
}

func decodeInto(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// DecodeClientMessage parses and validates a raw frame from a client.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeNTPRequest:
		var m NTPRequest
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypePlay:
		var m Play
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypePause:
		var m Pause
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeStartSpatialAudio:
		return StartSpatialAudio{}, nil
	case TypeStopSpatialAudio:
		return StopSpatialAudio{}, nil
	case TypeReorderClient:
		var m ReorderClient
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeSetListeningSource:
		var m SetListeningSource
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeMoveClient:
		var m MoveClient
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		if err := validatePosition(m.Position); err != nil {
			return nil, err
		}
		return m, nil
	case TypeSync:
		return Sync{}, nil
	case TypeSetAdmin:
		var m SetAdmin
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeSetPlaybackControls:
		var m SetPlaybackControls
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		if !m.Permissions.Valid() {
			return nil, fmt.Errorf("%w: unknown permissions %q", ErrMalformed, m.Permissions)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
}

func validatePosition(p domain.Position) error {
	if p.X < 0 || p.X > domain.GridSize || p.Y < 0 || p.Y > domain.GridSize {
		return fmt.Errorf("%w: position (%v,%v) outside grid", ErrMalformed, p.X, p.Y)
	}
	return nil
}
