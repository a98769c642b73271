package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gitlab.com/yelinaung/receipt-tracker/internal/apperr"
)

type sessionResponse struct {
	Success   bool      `json:"success"`
	SessionID string    `json:"sessionId"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expiresAt"`
	FileURL   *string   `json:"fileUrl,omitempty"`
	UploadURL string    `json:"uploadUrl,omitempty"`
}

// uploadPageURL is the public page a phone opens from the QR code.
func (s *Server) uploadPageURL(id string) string {
	return s.opts.PublicBaseURL + "/upload/" + id
}

func (s *Server) createSession(c *gin.Context) {
	sess, err := s.deps.Sessions.Create(c.Request.Context(), currentUser(c))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sessionResponse{
		Success:   true,
		SessionID: sess.ID.String(),
		Status:    sess.Status,
		ExpiresAt: sess.ExpiresAt,
		UploadURL: s.uploadPageURL(sess.ID.String()),
	})
}

func (s *Server) getSession(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}
	sess, err := s.deps.Sessions.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse{
		Success:   true,
		SessionID: sess.ID.String(),
		Status:    sess.EffectiveStatus(s.now()),
		ExpiresAt: sess.ExpiresAt,
		FileURL:   sess.FileURL,
	})
}

// phoneUpload consumes a session with the posted file. It is the only
// route without a bearer token.
func (s *Server) phoneUpload(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		respondWithError(c, apperr.WithMessage(apperr.ErrInvalidInput, "sessionId is required"))
		return
	}
	if err := s.deps.Sessions.CheckConsumable(c.Request.Context(), sessionID); err != nil {
		respondWithError(c, err)
		return
	}

	data, contentType, err := s.readUpload(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	sess, err := s.deps.Sessions.Consume(c.Request.Context(), sessionID, data, contentType)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var fileURL string
	if sess.FileURL != nil {
		fileURL = *sess.FileURL
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "File uploaded successfully",
		"fileUrl": fileURL,
	})
}

// sessionEvents streams session status changes as server-sent events until
// the session is uploaded or expires.
func (s *Server) sessionEvents(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}
	events, err := s.deps.Sessions.Watch(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent(ev.Type, ev)
		return true
	})
}
