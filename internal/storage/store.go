// Package storage abstracts the durable object store holding audio
// blobs and state snapshots. The server never streams file bytes
// itself; uploads go straight to the store via presigned URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("object not found")

// ObjectStore is the server's view of an S3-compatible bucket.
type ObjectStore interface {
	PutJSON(ctx context.Context, key string, v any) error
	GetJSON(ctx context.Context, key string, v any) error
	Exists(ctx context.Context, key string) (bool, error)
	// List returns all object keys under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	Remove(ctx context.Context, key string) error
	// RemoveAll deletes keys in batches and returns how many went.
	RemoveAll(ctx context.Context, keys []string) (int, error)
	// PresignPut issues a direct-upload URL for a client.
	PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error)
}

const (
	roomKeyPrefix = "room-"
	backupPrefix  = "state-backup/"
)

// RoomPrefix is the key prefix owning every object of a room.
func RoomPrefix(roomID string) string {
	return roomKeyPrefix + roomID + "/"
}

func AudioKey(roomID, fileName string) string {
	return RoomPrefix(roomID) + fileName
}

// BackupPrefix is where snapshots live.
func BackupPrefix() string { return backupPrefix }

// BackupKey produces a lexically sortable snapshot key, so the
// lexicographic maximum under BackupPrefix is always the latest.
func BackupKey(t time.Time) string {
	return fmt.Sprintf("%sbackup-%s.json", backupPrefix, t.UTC().Format("2006-01-02_15-04-05"))
}

// RoomIDFromKey extracts the room id from a room-owned object key.
func RoomIDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, roomKeyPrefix) {
		return "", false
	}
	rest := key[len(roomKeyPrefix):]
	slash := strings.IndexByte(rest, '/')
	if slash <= 0 {
		return "", false
	}
	return rest[:slash], true
}

// KeyFromPublicURL maps a public object URL back to its bucket key.
func KeyFromPublicURL(publicBase, url string) (string, bool) {
	if publicBase == "" || !strings.HasPrefix(url, publicBase) {
		return "", false
	}
	key := strings.TrimPrefix(url, publicBase)
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", false
	}
	return key, true
}
