package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gitlab.com/yelinaung/receipt-tracker/internal/category"
	"gitlab.com/yelinaung/receipt-tracker/internal/logger"
	"gitlab.com/yelinaung/receipt-tracker/internal/models"
)

const customCategoryEmoji = "🏷️"

type categoryResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Emoji    string `json:"emoji"`
	IsSystem bool   `json:"isSystem"`
}

func newCategoryResponse(cat *models.Category) categoryResponse {
	return categoryResponse{ID: cat.ID.String(), Name: cat.Name, Emoji: cat.Emoji, IsSystem: cat.IsSystem}
}

func (s *Server) listCategories(c *gin.Context) {
	cats, err := s.deps.Categories.ListByUser(c.Request.Context(), currentUser(c))
	if err != nil {
		respondWithError(c, err)
		return
	}
	out := make([]categoryResponse, len(cats))
	for i := range cats {
		out[i] = newCategoryResponse(&cats[i])
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "categories": out})
}

type createCategoryRequest struct {
	Name  string `json:"name" binding:"required,category_name"`
	Emoji string `json:"emoji" binding:"omitempty,max=16"`
}

func (s *Server) createCategory(c *gin.Context) {
	var req createCategoryRequest
	if err := bindJSON(c, &req); err != nil {
		respondWithError(c, err)
		return
	}

	name := strings.TrimSpace(req.Name)
	emoji := strings.TrimSpace(req.Emoji)
	if emoji == "" {
		emoji = customCategoryEmoji
		if d, ok := category.Lookup(name); ok {
			emoji = d.Emoji
		}
	}

	cat, err := s.deps.Categories.Create(c.Request.Context(), currentUser(c), name, emoji)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "category": newCategoryResponse(cat)})
}

// deleteCategory removes a custom category; its receipts become uncategorized.
func (s *Server) deleteCategory(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}
	userID := currentUser(c)

	moved, err := s.deps.Categories.Delete(c.Request.Context(), userID, id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	logger.ForUser(userID.String()).Info().Int("reassigned", moved).Msg("Category deleted")
	c.JSON(http.StatusOK, gin.H{"success": true, "reassigned": moved})
}
