// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"time"
)

type (
	RoomID   string
	ClientID string
)

const (
	MaxRoomIDLen   = 36
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrRoomIDEmpty     = errors.New("room id empty")
	ErrRoomIDTooLong   = errors.New("room id too long")
)

// Grid is the virtual square all spatial positions live on.
const (
	GridSize         = 100.0
	GridOriginX      = 50.0
	GridOriginY      = 50.0
	GridClientRadius = 25.0
)

// ScheduleLead is the horizon added to every scheduled action so all
// clients receive it before it must fire. Must exceed plausible
// one-way latency.
const ScheduleLead = 750 * time.Millisecond

// Probe cadence and liveness bounds for the time-sync heartbeat.
const (
	ProbeInitialInterval = 30 * time.Millisecond
	ProbeSteadyInterval  = 5 * time.Second
	ProbeResponseTimeout = 2 * ProbeSteadyInterval
	ProbeWindowSize      = 40
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type AudioSource struct {
	URL string `json:"url"`
}

// PlaybackPermissions gates who may schedule play/pause in a room.
type PlaybackPermissions string

const (
	PermissionsEveryone  PlaybackPermissions = "EVERYONE"
	PermissionsAdminOnly PlaybackPermissions = "ADMIN_ONLY"
)

func (p PlaybackPermissions) Valid() bool {
	return p == PermissionsEveryone || p == PermissionsAdminOnly
}

func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}

func ValidateRoomID(id string) error {
	if len(id) == 0 {
		return ErrRoomIDEmpty
	}
	if len(id) > MaxRoomIDLen {
		return ErrRoomIDTooLong
	}
	return nil
}

// EpochMillis converts a wall-clock instant to the epoch-milliseconds
// representation used everywhere on the wire.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}
