package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gitlab.com/yelinaung/receipt-tracker/internal/google"
	"gitlab.com/yelinaung/receipt-tracker/internal/logger"
)

type profileResponse struct {
	GoogleConnected   bool       `json:"googleConnected"`
	GoogleConnectedAt *time.Time `json:"googleConnectedAt,omitempty"`
	SheetsID          string     `json:"sheetsId,omitempty"`
	SpreadsheetURL    string     `json:"spreadsheetUrl,omitempty"`
	DriveFolderName   string     `json:"driveFolderName,omitempty"`
	SetupMode         string     `json:"setupMode"`
	TelegramLinked    bool       `json:"telegramLinked"`
}

func (s *Server) getProfile(c *gin.Context) {
	p, err := s.deps.Profiles.Get(c.Request.Context(), currentUser(c))
	if err != nil {
		respondWithError(c, err)
		return
	}

	resp := profileResponse{
		GoogleConnected:   p.GoogleConnected(),
		GoogleConnectedAt: p.GoogleConnectedAt,
		SheetsID:          p.SheetsID,
		DriveFolderName:   p.DriveFolderName,
		SetupMode:         p.SetupMode,
		TelegramLinked:    p.TelegramChatID != nil,
	}
	if p.SheetsID != "" {
		resp.SpreadsheetURL = google.SpreadsheetURL(p.SheetsID)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "profile": resp})
}

type connectGoogleRequest struct {
	AccessToken  string `json:"accessToken" binding:"required"`
	RefreshToken string `json:"refreshToken"`
}

// connectGoogle stores the tokens of a completed OAuth consent. An empty
// refresh token keeps the stored one.
func (s *Server) connectGoogle(c *gin.Context) {
	var req connectGoogleRequest
	if err := bindJSON(c, &req); err != nil {
		respondWithError(c, err)
		return
	}
	userID := currentUser(c)

	if err := s.deps.Profiles.SaveGoogleTokens(c.Request.Context(), userID, req.AccessToken, req.RefreshToken); err != nil {
		respondWithError(c, err)
		return
	}
	logger.ForUser(userID.String()).Info().
		Bool("refresh_token", req.RefreshToken != "").
		Msg("Google account connected")
	c.JSON(http.StatusOK, gin.H{"success": true, "googleConnected": true})
}

type linkTelegramRequest struct {
	// ChatID of nil unlinks.
	ChatID *int64 `json:"chatId"`
}

func (s *Server) linkTelegram(c *gin.Context) {
	var req linkTelegramRequest
	if err := bindJSON(c, &req); err != nil {
		respondWithError(c, err)
		return
	}
	if err := s.deps.Profiles.SetTelegramChatID(c.Request.Context(), currentUser(c), req.ChatID); err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "telegramLinked": req.ChatID != nil})
}
