package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeClientMessageKnownTypes(t *testing.T) {
	cases := []struct {
		raw  string
		want any
	}{
		{`{"type":"NTP_REQUEST","t0":123}`, NTPRequest{T0: 123}},
		{`{"type":"PLAY","trackTimeSeconds":1.5,"audioSource":"https://cdn/room-a/track.mp3"}`,
			Play{TrackTimeSeconds: 1.5, AudioSource: "https://cdn/room-a/track.mp3"}},
		{`{"type":"PAUSE","trackTimeSeconds":0,"audioSource":"x"}`, Pause{AudioSource: "x"}},
		{`{"type":"START_SPATIAL_AUDIO"}`, StartSpatialAudio{}},
		{`{"type":"STOP_SPATIAL_AUDIO"}`, StopSpatialAudio{}},
		{`{"type":"REORDER_CLIENT","clientId":"c1"}`, ReorderClient{ClientID: "c1"}},
		{`{"type":"SET_LISTENING_SOURCE","x":10,"y":90}`, SetListeningSource{X: 10, Y: 90}},
		{`{"type":"SYNC"}`, Sync{}},
		{`{"type":"SET_ADMIN","clientId":"c2","isAdmin":true}`, SetAdmin{ClientID: "c2", IsAdmin: true}},
		{`{"type":"SET_PLAYBACK_CONTROLS","permissions":"ADMIN_ONLY"}`, SetPlaybackControls{Permissions: "ADMIN_ONLY"}},
	}
	for _, tc := range cases {
		got, err := DecodeClientMessage([]byte(tc.raw))
		if err != nil {
			t.Fatalf("decode %s: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("decode %s = %#v, want %#v", tc.raw, got, tc.want)
		}
	}
}

func TestDecodeClientMessageRejectsMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"type":"NOPE"}`,
		`{"type":"PLAY","trackTimeSeconds":1.5}`,
		`{"type":"PLAY","trackTimeSeconds":-1,"audioSource":"x"}`,
		`{"type":"SET_LISTENING_SOURCE","x":500,"y":0}`,
		`{"type":"MOVE_CLIENT","clientId":"c1","position":{"x":-5,"y":10}}`,
		`{"type":"SET_ADMIN"}`,
		`{"type":"SET_PLAYBACK_CONTROLS","permissions":"SOMETIMES"}`,
	}
	for _, raw := range cases {
		if _, err := DecodeClientMessage([]byte(raw)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("decode %s: expected ErrMalformed, got %v", raw, err)
		}
	}
}

func TestClientEncodeServerDecodeRoundTrip(t *testing.T) {
	raw, err := EncodeClientMessage(NTPRequest{T0: 42})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.(NTPRequest).T0 != 42 {
		t.Fatalf("round trip lost t0: %#v", got)
	}
}

func TestScheduledActionWireShape(t *testing.T) {
	msg := NewScheduledPlay(1700000000000, "track.mp3", 12.5)
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := DecodeServerMessage(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	sa := decoded.ScheduledAction
	if sa == nil || sa.ServerTimeToExecute != 1700000000000 {
		t.Fatalf("lost reference instant: %+v", decoded)
	}
	if sa.Action.Type != ActionPlay || sa.Action.TrackTimeSeconds != 12.5 {
		t.Fatalf("unexpected action payload: %+v", sa.Action)
	}
}

func TestDecodeServerMessageUnknownType(t *testing.T) {
	if _, err := DecodeServerMessage([]byte(`{"type":"WHAT"}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
