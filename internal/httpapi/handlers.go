package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/chorus/internal/domain"
	"github.com/dkeye/chorus/internal/protocol"
	"github.com/dkeye/chorus/internal/room"
	"github.com/dkeye/chorus/internal/storage"
)

const presignExpiry = 15 * time.Minute

type statsResponse struct {
	RoomCount   int          `json:"roomCount"`
	ActiveUsers int          `json:"activeUsers"`
	Rooms       []room.Stats `json:"rooms"`
}

func (d Deps) handleStats(c *gin.Context) {
	resp := statsResponse{
		RoomCount:   d.Rooms.Count(),
		ActiveUsers: d.Rooms.ActiveUserCount(),
		Rooms:       []room.Stats{},
	}
	d.Rooms.ForEach(func(r *room.Room) {
		resp.Rooms = append(resp.Rooms, r.Stats())
	})
	c.JSON(http.StatusOK, resp)
}

func (d Deps) handleActiveRooms(c *gin.Context) {
	ids := d.Rooms.RoomIDs()
	rooms := make([]string, 0, len(ids))
	for _, id := range ids {
		rooms = append(rooms, string(id))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

type presignRequest struct {
	RoomID      string `json:"roomId"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

type presignResponse struct {
	UploadURL string `json:"uploadUrl"`
	PublicURL string `json:"publicUrl"`
	Key       string `json:"key"`
}

// handlePresign issues a direct-upload URL; the file bytes never pass
// through this server.
func (d Deps) handlePresign(c *gin.Context) {
	var req presignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := domain.ValidateRoomID(req.RoomID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.FileName == "" || strings.ContainsAny(req.FileName, "/\\") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file name"})
		return
	}

	key := storage.AudioKey(req.RoomID, req.FileName)
	uploadURL, err := d.Store.PresignPut(c.Request.Context(), key, req.ContentType, presignExpiry)
	if err != nil {
		log.Error().Err(err).Str("module", "httpapi").Str("key", key).Msg("presign failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presign failed"})
		return
	}

	c.JSON(http.StatusOK, presignResponse{
		UploadURL: uploadURL,
		PublicURL: d.Cfg.Storage.PublicURL + "/" + key,
		Key:       key,
	})
}

type uploadCompleteRequest struct {
	RoomID string `json:"roomId"`
	Key    string `json:"key"`
}

// handleUploadComplete registers an uploaded file as a room audio
// source and pushes the refreshed list to every member.
func (d Deps) handleUploadComplete(c *gin.Context) {
	var req uploadCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if id, ok := storage.RoomIDFromKey(req.Key); !ok || id != req.RoomID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key does not belong to room"})
		return
	}

	exists, err := d.Store.Exists(c.Request.Context(), req.Key)
	if err != nil {
		log.Error().Err(err).Str("module", "httpapi").Str("key", req.Key).Msg("stat failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "object not uploaded"})
		return
	}

	r, ok := d.Rooms.Get(domain.RoomID(req.RoomID))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown room"})
		return
	}

	url := d.Cfg.Storage.PublicURL + "/" + req.Key
	sources := r.AddAudioSource(domain.AudioSource{URL: url})
	r.Broadcast(protocol.NewSetAudioSources(sources))

	log.Info().Str("module", "httpapi").Str("room", req.RoomID).Str("key", req.Key).Msg("audio source added")
	c.JSON(http.StatusOK, gin.H{"url": url, "sources": sources})
}
