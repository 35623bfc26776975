package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"festival-sync-backend/internal/model"
)

type putTargetRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	P256DH   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
	OwnerID  string `json:"owner_id"`
}

// PutTarget handles the creation or replacement of a delivery target.
func (h *Handler) PutTarget(c *gin.Context) {
	var req putTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	target := model.DeliveryTarget{
		Endpoint: req.Endpoint,
		P256DH:   req.P256DH,
		Auth:     req.Auth,
	}

	if err := h.store.UpsertTarget(c.Request.Context(), target, req.OwnerID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusCreated)
}

type deleteTargetRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	OwnerID  string `json:"owner_id"`
}

// DeleteTarget deletes a delivery target, or only dissociates one owner when
// owner_id is present.
func (h *Handler) DeleteTarget(c *gin.Context) {
	var req deleteTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	var err error
	if req.OwnerID != "" {
		err = h.store.RemoveOwner(ctx, req.Endpoint, req.OwnerID)
	} else {
		err = h.store.DeleteTarget(ctx, req.Endpoint)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			// Push endpoints embed characters that URL decoding would
			// mangle; match on the raw value.
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

// GetTarget returns the owner associations of a registered target.
func (h *Handler) GetTarget(c *gin.Context) {
	raw, ok := rawQueryParam(c.Request.URL.RawQuery, "endpoint")
	if !ok || raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}

	target, err := h.store.GetTarget(c.Request.Context(), raw)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "target not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	ownerIDs := make([]string, len(target.Owners))
	for i, owner := range target.Owners {
		ownerIDs[i] = owner.ID
	}

	c.JSON(http.StatusOK, gin.H{"owner_ids": ownerIDs})
}
