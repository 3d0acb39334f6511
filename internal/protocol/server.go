package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/chorus/internal/domain"
)

// Outbound messages carry their own type tag so they marshal straight
// to the wire shape. Constructors keep tag assignment in one place.

type NTPResponse struct {
	Type string `json:"type"`
	T0   int64  `json:"t0"`
	T1   int64  `json:"t1"`
	T2   int64  `json:"t2"`
}

func NewNTPResponse(t0, t1, t2 int64) NTPResponse {
	return NTPResponse{Type: TypeNTPResponse, T0: t0, T1: t1, T2: t2}
}

type SetClientID struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

func NewSetClientID(id domain.ClientID) SetClientID {
	return SetClientID{Type: TypeSetClientID, ClientID: string(id)}
}

// ClientInfo is the client view broadcast on membership changes.
// Identity and spatial fields only, no transport handle.
type ClientInfo struct {
	ClientID string          `json:"clientId"`
	Username string          `json:"username"`
	IsAdmin  bool            `json:"isAdmin"`
	Position domain.Position `json:"position"`
	RTT      float64         `json:"rtt"`
}

type roomEventPayload struct {
	Type    string               `json:"type"`
	Clients []ClientInfo         `json:"clients,omitempty"`
	Sources []domain.AudioSource `json:"sources,omitempty"`
}

type RoomEvent struct {
	Type  string           `json:"type"`
	Event roomEventPayload `json:"event"`
}

func NewClientChange(clients []ClientInfo) RoomEvent {
	if clients == nil {
		clients = []ClientInfo{}
	}
	return RoomEvent{
		Type:  TypeRoomEvent,
		Event: roomEventPayload{Type: EventClientChange, Clients: clients},
	}
}

func NewSetAudioSources(sources []domain.AudioSource) RoomEvent {
	if sources == nil {
		sources = []domain.AudioSource{}
	}
	return RoomEvent{
		Type:  TypeRoomEvent,
		Event: roomEventPayload{Type: EventSetAudioSources, Sources: sources},
	}
}

// GainSetting is one client's target gain plus the ramp the client
// should interpolate over instead of stepping.
type GainSetting struct {
	Gain     float64 `json:"gain"`
	RampTime float64 `json:"rampTime"`
}

// ActionPayload is the inner union of a SCHEDULED_ACTION.
type ActionPayload struct {
	Type             string                 `json:"type"`
	AudioSource      string                 `json:"audioSource,omitempty"`
	TrackTimeSeconds float64                `json:"trackTimeSeconds,omitempty"`
	ListeningSource  *domain.Position       `json:"listeningSource,omitempty"`
	Gains            map[string]GainSetting `json:"gains,omitempty"`
}

type ScheduledAction struct {
	Type                string        `json:"type"`
	ServerTimeToExecute int64         `json:"serverTimeToExecute"`
	Action              ActionPayload `json:"scheduledAction"`
}

func NewScheduledPlay(executeAt int64, source string, trackTimeSeconds float64) ScheduledAction {
	return ScheduledAction{
		Type:                TypeScheduledAction,
		ServerTimeToExecute: executeAt,
		Action: ActionPayload{
			Type:             ActionPlay,
			AudioSource:      source,
			TrackTimeSeconds: trackTimeSeconds,
		},
	}
}

func NewScheduledPause(executeAt int64, source string, trackTimeSeconds float64) ScheduledAction {
	return ScheduledAction{
		Type:                TypeScheduledAction,
		ServerTimeToExecute: executeAt,
		Action: ActionPayload{
			Type:             ActionPause,
			AudioSource:      source,
			TrackTimeSeconds: trackTimeSeconds,
		},
	}
}

func NewSpatialConfig(executeAt int64, listeningSource domain.Position, gains map[string]GainSetting) ScheduledAction {
	return ScheduledAction{
		Type:                TypeScheduledAction,
		ServerTimeToExecute: executeAt,
		Action: ActionPayload{
			Type:            ActionSpatialConfig,
			ListeningSource: &listeningSource,
			Gains:           gains,
		},
	}
}

func NewStopSpatial(executeAt int64) ScheduledAction {
	return ScheduledAction{
		Type:                TypeScheduledAction,
		ServerTimeToExecute: executeAt,
		Action:              ActionPayload{Type: ActionStopSpatial},
	}
}

type ErrorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) ErrorReply {
	return ErrorReply{Type: TypeError, Message: message}
}

// ServerMessage is the decoded form of a server frame, consumed by
// the client side.
type ServerMessage struct {
	Type            string
	NTP             *NTPResponse
	ClientID        domain.ClientID
	Clients         []ClientInfo
	Sources         []domain.AudioSource
	EventType       string
	ScheduledAction *ScheduledAction
	ErrorMessage    string
}

// DecodeServerMessage parses a frame received from the server.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ServerMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeNTPResponse:
		var m NTPResponse
		if err := json.Unmarshal(data, &m); err != nil {
			return ServerMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return ServerMessage{Type: env.Type, NTP: &m}, nil
	case TypeSetClientID:
		var m SetClientID
		if err := json.Unmarshal(data, &m); err != nil {
			return ServerMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return ServerMessage{Type: env.Type, ClientID: domain.ClientID(m.ClientID)}, nil
	case TypeRoomEvent:
		var m RoomEvent
		if err := json.Unmarshal(data, &m); err != nil {
			return ServerMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return ServerMessage{
			Type:      env.Type,
			EventType: m.Event.Type,
			Clients:   m.Event.Clients,
			Sources:   m.Event.Sources,
		}, nil
	case TypeScheduledAction:
		var m ScheduledAction
		if err := json.Unmarshal(data, &m); err != nil {
			return ServerMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return ServerMessage{Type: env.Type, ScheduledAction: &m}, nil
	case TypeError:
		var m ErrorReply
		if err := json.Unmarshal(data, &m); err != nil {
			return ServerMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return ServerMessage{Type: env.Type, ErrorMessage: m.Message}, nil
	default:
		return ServerMessage{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
}

// EncodeClientMessage renders a client request with its type tag, for
// the client side of the wire.
func EncodeClientMessage(m ClientMessage) ([]byte, error) {
	var tagged any
	switch v := m.(type) {
	case NTPRequest:
		tagged = struct {
			Type string `json:"type"`
			NTPRequest
		}{TypeNTPRequest, v}
	case Play:
		tagged = struct {
			Type string `json:"type"`
			Play
		}{TypePlay, v}
	case Pause:
		tagged = struct {
			Type string `json:"type"`
			Pause
		}{TypePause, v}
	case StartSpatialAudio:
		tagged = envelope{Type: TypeStartSpatialAudio}
	case StopSpatialAudio:
		tagged = envelope{Type: TypeStopSpatialAudio}
	case ReorderClient:
		tagged = struct {
			Type string `json:"type"`
			ReorderClient
		}{TypeReorderClient, v}
	case SetListeningSource:
		tagged = struct {
			Type string `json:"type"`
			SetListeningSource
		}{TypeSetListeningSource, v}
	case MoveClient:
		tagged = struct {
			Type string `json:"type"`
			MoveClient
		}{TypeMoveClient, v}
	case Sync:
		tagged = envelope{Type: TypeSync}
	case SetAdmin:
		tagged = struct {
			Type string `json:"type"`
			SetAdmin
		}{TypeSetAdmin, v}
	case SetPlaybackControls:
		tagged = struct {
			Type string `json:"type"`
			SetPlaybackControls
		}{TypeSetPlaybackControls, v}
	default:
		return nil, fmt.Errorf("unsupported client message %T", m)
	}
	return json.Marshal(tagged)
}
