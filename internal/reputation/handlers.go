package reputation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kindkart/kindkart/internal/logging"
	"github.com/kindkart/kindkart/internal/validation"
)

// Handler provides the reputation endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a new reputation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up read routes on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/reputation")
	g.GET("/user/:userId", validation.IDParamMiddleware("userId"), h.GetReputation)
	g.GET("/user/:userId/badges", validation.IDParamMiddleware("userId"), h.GetBadges)
	g.GET("/user/:userId/achievements", validation.IDParamMiddleware("userId"), h.GetAchievements)
	g.GET("/leaderboard", h.Leaderboard)
	g.GET("/community/:communityId", validation.IDParamMiddleware("communityId"), h.Community)
}

// RegisterAdminRoutes sets up write routes. The group must already require
// the admin role.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	g := r.Group("/reputation")
	g.POST("/update", h.Update)
	g.POST("/award-badge", h.AwardBadge)
}

// GetReputation handles GET /v1/reputation/user/:userId
func (h *Handler) GetReputation(c *gin.Context) {
	rep, err := h.service.GetReputation(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reputation":  rep,
		"nextLevelAt": rep.NextLevelAt(),
	})
}

// GetBadges handles GET /v1/reputation/user/:userId/badges
func (h *Handler) GetBadges(c *gin.Context) {
	badges, err := h.service.GetBadges(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"badges": badges})
}

// GetAchievements handles GET /v1/reputation/user/:userId/achievements
func (h *Handler) GetAchievements(c *gin.Context) {
	achievements, err := h.service.GetAchievements(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if achievements == nil {
		achievements = []*Achievement{}
	}
	c.JSON(http.StatusOK, gin.H{"achievements": achievements})
}

// Leaderboard handles GET /v1/reputation/leaderboard
func (h *Handler) Leaderboard(c *gin.Context) {
	q := LeaderboardQuery{
		Type:        LeaderboardType(c.Query("type")),
		CommunityID: c.Query("communityId"),
		TimeRange:   TimeRange(c.Query("timeRange")),
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "limit must be a positive integer",
			})
			return
		}
		q.Limit = n
	}
	if q.CommunityID != "" && !validation.IsValidID(q.CommunityID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "invalid communityId",
		})
		return
	}

	entries, err := h.service.Leaderboard(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

// Community handles GET /v1/reputation/community/:communityId
func (h *Handler) Community(c *gin.Context) {
	stats, err := h.service.CommunityReputation(c.Request.Context(), c.Param("communityId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type updateBody struct {
	UserID string `json:"userId"`
	Action string `json:"action"`
	Points *int   `json:"points"`
}

// Update handles POST /v1/reputation/update
func (h *Handler) Update(c *gin.Context) {
	var body updateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		invalidBody(c)
		return
	}
	if errs := validation.Validate(
		validation.Required("userId", body.UserID),
		validation.Required("action", body.Action),
		validation.ValidID("userId", body.UserID),
		validation.MaxLength("action", body.Action, 64),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	action, err := ResolveAction(body.Action, body.Points)
	if err != nil {
		writeError(c, err)
		return
	}
	rep, err := h.service.ApplyCredit(c.Request.Context(), body.UserID, action)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reputation": rep})
}

type awardBody struct {
	UserID  string `json:"userId"`
	BadgeID string `json:"badgeId"`
	Context string `json:"context"`
}

// AwardBadge handles POST /v1/reputation/award-badge
func (h *Handler) AwardBadge(c *gin.Context) {
	var body awardBody
	if err := c.ShouldBindJSON(&body); err != nil {
		invalidBody(c)
		return
	}
	if errs := validation.Validate(
		validation.Required("userId", body.UserID),
		validation.Required("badgeId", body.BadgeID),
		validation.ValidID("userId", body.UserID),
		validation.MaxLength("context", body.Context, validation.MaxReasonLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	badge, err := h.service.AwardBadge(c.Request.Context(), body.UserID, body.BadgeID,
		validation.SanitizeString(body.Context, validation.MaxReasonLength))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"badge": badge})
}

func invalidBody(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_error",
		"message": "Invalid request body",
	})
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	msg := "Internal server error"

	switch {
	case errors.Is(err, ErrUnknownAction), errors.Is(err, ErrInvalidPoints), errors.Is(err, ErrInvalidQuery):
		status, code, msg = http.StatusBadRequest, "validation_error", err.Error()
	case errors.Is(err, ErrCommunityNotFound):
		status, code, msg = http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, ErrBadgeNotFound):
		status, code, msg = http.StatusNotFound, "badge_not_found", err.Error()
	case errors.Is(err, ErrBadgeAlreadyAwarded):
		status, code, msg = http.StatusConflict, "badge_already_awarded", err.Error()
	default:
		logging.L(c.Request.Context()).Error("reputation request failed", "path", c.FullPath(), "error", err)
	}

	c.JSON(status, gin.H{"error": code, "message": msg})
}
