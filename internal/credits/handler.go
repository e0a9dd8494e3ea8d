package credits

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/duvallglobal/listapp-sub000/internal/shared/server/middleware"
	"github.com/duvallglobal/listapp-sub000/internal/shared/server/respond"
)

// Handler exposes credit and usage endpoints.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches owner-facing routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/usage", h.getUsage)
}

// RegisterAdminRoutes attaches admin routes to the router group.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/credits/grant", h.grantCredits)
	rg.POST("/credits/reset", h.resetPeriods)
	rg.PUT("/accounts/:ownerId/tier", h.setTier)
}

func (h *Handler) getUsage(c *gin.Context) {
	ownerID := middleware.UserIDFromContext(c)
	st, err := h.Svc.Stats(c.Request.Context(), ownerID)
	if err != nil {
		respondStoreError(c, err, "failed to fetch usage")
		return
	}
	entries, err := h.Svc.Entries(c.Request.Context(), ownerID, 20)
	if err != nil {
		respondStoreError(c, err, "failed to fetch ledger entries")
		return
	}

	respond.JSON(c, http.StatusOK, gin.H{
		"tier":        st.Tier,
		"balance":     st.Balance,
		"reserved":    st.Reserved,
		"periodUsage": st.PeriodUsage,
		"remaining":   st.Remaining,
		"periodStart": st.PeriodStart,
		"resetsAt":    st.ResetsAt,
		"jobs":        st.Jobs,
		"entries":     entries,
	})
}

type grantRequest struct {
	OwnerID string `json:"ownerId"`
	Amount  int64  `json:"amount"`
	Reason  string `json:"reason"`
}

func (h *Handler) grantCredits(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid json body", nil)
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "ownerId is required", nil)
		return
	}
	if req.Amount <= 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "amount must be positive", nil)
		return
	}

	actor := middleware.UserIDFromContext(c)
	if actor == "" {
		actor = "admin"
	}

	a, err := h.Svc.Grant(c.Request.Context(), req.OwnerID, req.Amount, req.Reason, actor)
	if err != nil {
		if errors.Is(err, ErrInvalidReason) {
			respond.Error(c, http.StatusBadRequest, "validation_error", "reason must be admin_credit", nil)
			return
		}
		respondStoreError(c, err, "failed to grant credits")
		return
	}

	respond.JSON(c, http.StatusOK, gin.H{"account": a})
}

type resetRequest struct {
	OwnerID string `json:"ownerId"`
}

func (h *Handler) resetPeriods(c *gin.Context) {
	var req resetRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid json body", nil)
			return
		}
	}

	if strings.TrimSpace(req.OwnerID) != "" {
		a, err := h.Svc.ResetPeriod(c.Request.Context(), req.OwnerID)
		if err != nil {
			respondStoreError(c, err, "failed to reset period")
			return
		}
		respond.JSON(c, http.StatusOK, gin.H{"account": a})
		return
	}

	count, err := h.Svc.ResetAllPeriods(c.Request.Context())
	if err != nil {
		respondStoreError(c, err, "failed to reset periods")
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{"accountsReset": count})
}

type setTierRequest struct {
	TierID string `json:"tierId"`
}

func (h *Handler) setTier(c *gin.Context) {
	ownerID := c.Param("ownerId")
	if ownerID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "owner id is required", nil)
		return
	}

	var req setTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid json body", nil)
		return
	}

	a, err := h.Svc.SetTier(c.Request.Context(), ownerID, req.TierID)
	if err != nil {
		if errors.Is(err, ErrUnknownTier) {
			respond.Error(c, http.StatusBadRequest, "validation_error", "unknown tier", nil)
			return
		}
		respondStoreError(c, err, "failed to set tier")
		return
	}

	respond.JSON(c, http.StatusOK, gin.H{"account": a})
}

func respondStoreError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respond.Error(c, http.StatusRequestTimeout, "timeout", "request canceled", nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "account not found", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", msg, nil)
	}
}
