package server

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/mideita/backend/internal/ideas"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createIdeaPayload struct {
	Text string `json:"text"`
}

type attachImagePayload struct {
	ImageURL string `json:"imageUrl"`
}

type ideasPayload struct {
	Ideas []ideas.Idea `json:"ideas"`
}

func (h *httpHandler) handleCreateIdea(c *gin.Context) {
	author, ok := authorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request createIdeaPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	text, err := ideas.NormalizeText(request.Text)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_text"})
		return
	}

	ctx := c.Request.Context()
	existing, err := h.store.QueryByOwner(ctx, author.UserID)
	if err != nil {
		h.respondStoreError(c, "failed to load owner ideas", err)
		return
	}
	if len(existing) >= h.maxSaved {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "storage_ceiling"})
		return
	}
	createdAt := make([]time.Time, 0, len(existing))
	for _, idea := range existing {
		createdAt = append(createdAt, idea.CreatedAt)
	}
	if h.policy.CountForDay(createdAt, h.clock()) >= h.policy.Limit() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "quota_exceeded"})
		return
	}

	created, err := h.store.Insert(ctx, ideas.Idea{
		Text:             text,
		OwnerID:          author.UserID,
		OwnerDisplayName: author.DisplayName,
	})
	if err != nil {
		h.respondStoreError(c, "failed to insert idea", err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleListOwn(c *gin.Context) {
	author, ok := authorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	list, err := h.store.QueryByOwner(c.Request.Context(), author.UserID)
	if err != nil {
		h.respondStoreError(c, "failed to list owner ideas", err)
		return
	}
	c.JSON(http.StatusOK, ideasPayload{Ideas: list})
}

func (h *httpHandler) handleListRecent(c *gin.Context) {
	limit := ideas.DefaultRecentLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}
	list, err := h.store.QueryRecent(c.Request.Context(), limit)
	if err != nil {
		h.respondStoreError(c, "failed to list recent ideas", err)
		return
	}
	c.JSON(http.StatusOK, ideasPayload{Ideas: list})
}

func (h *httpHandler) handleGetIdea(c *gin.Context) {
	idea, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondStoreError(c, "failed to load idea", err)
		return
	}
	c.JSON(http.StatusOK, idea)
}

func (h *httpHandler) handleDeleteIdea(c *gin.Context) {
	author, ok := authorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.store.DeleteByID(c.Request.Context(), author.UserID, c.Param("id")); err != nil {
		h.respondStoreError(c, "failed to delete idea", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAttachImage(c *gin.Context) {
	author, ok := authorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var request attachImagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	imageURL := strings.TrimSpace(request.ImageURL)
	if parsed, err := url.Parse(imageURL); err != nil || imageURL == "" || parsed.Scheme == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_image_url"})
		return
	}
	if err := h.store.UpdateImageURL(c.Request.Context(), author.UserID, c.Param("id"), imageURL); err != nil {
		h.respondStoreError(c, "failed to attach image", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// respondStoreError maps store failures to statuses the device client understands.
func (h *httpHandler) respondStoreError(c *gin.Context, message string, err error) {
	status := http.StatusInternalServerError
	reason := "store_failed"
	switch {
	case errors.Is(err, ideas.ErrIdeaNotFound):
		status, reason = http.StatusNotFound, "not_found"
	case errors.Is(err, ideas.ErrImageAlreadySet):
		status, reason = http.StatusConflict, "image_already_set"
	case errors.Is(err, ideas.ErrInvalidText):
		status, reason = http.StatusBadRequest, "invalid_text"
	case errors.Is(err, ideas.ErrInvalidIdeaID), errors.Is(err, ideas.ErrInvalidOwnerID):
		status, reason = http.StatusBadRequest, "invalid_id"
	}

	body := gin.H{"error": reason}
	var serviceErr *ideas.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	if status == http.StatusInternalServerError {
		h.logger.Error(message, zap.Error(err))
	} else {
		h.logger.Debug(message, zap.Error(err))
	}
	c.JSON(status, body)
}
