package comms

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/agentorch/internal/apperrors"
	"github.com/kandev/agentorch/internal/logging"
)

const sessionHeader = "X-Comms-Session"

// Handler adapts Service onto gin.
type Handler struct {
	svc *Service
	log *logging.Logger
}

func NewHandler(svc *Service, log *logging.Logger) *Handler {
	return &Handler{svc: svc, log: log.WithFields(zap.String("component", "comms-api"))}
}

// SetupRoutes mounts the handshake endpoint and the session-scoped
// operations under router. Mirrors internal/agent/api.SetupRoutes's
// shape: a handshake route outside the session middleware, everything
// else behind it. The handshake route is mounted at the exact path the
// Agent Adapter embeds in the downstream child's mcp_servers URL
// (spec.md §6.2: "http://<host>:<port>/mcp?agent=<id>&token=<token>"),
// with no "/handshake" suffix.
func SetupRoutes(router gin.IRouter, h *Handler) {
	router.GET("/mcp", h.Handshake)

	scoped := router.Group("/mcp", h.sessionMiddleware)
	scoped.POST("/group_post", h.GroupPost)
	scoped.GET("/group_read", h.GroupRead)
	scoped.GET("/group_peek", h.GroupPeek)
	scoped.POST("/dm_send", h.DMSend)
	scoped.GET("/dm_read", h.DMRead)
	scoped.GET("/dm_peek", h.DMPeek)
	scoped.POST("/lead_post", h.LeadPost)
	scoped.GET("/lead_read", h.LeadRead)
	scoped.GET("/lead_peek", h.LeadPeek)
	scoped.POST("/share", h.Share)
	scoped.GET("/get_shared", h.GetShared)
	scoped.GET("/get_team_context", h.GetTeamContext)
	scoped.POST("/wait", h.Wait)
}

func (h *Handler) sessionMiddleware(c *gin.Context) {
	sessionID := c.GetHeader(sessionHeader)
	if sessionID == "" {
		sessionID = c.Query("session")
	}
	if sessionID == "" {
		writeErr(c, apperrors.Unauthenticated("missing session"))
		c.Abort()
		return
	}
	c.Set("sessionID", sessionID)
	c.Next()
}

func sessionOf(c *gin.Context) string {
	v, _ := c.Get("sessionID")
	s, _ := v.(string)
	return s
}

func writeErr(c *gin.Context, aerr *apperrors.AppError) {
	status := http.StatusInternalServerError
	switch aerr.Code {
	case apperrors.CodeNotFound:
		status = http.StatusNotFound
	case apperrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case apperrors.CodeUnauthenticated:
		status = http.StatusUnauthorized
	case apperrors.CodeForbidden, apperrors.CodeUnauthorized:
		status = http.StatusForbidden
	case apperrors.CodeBusy:
		status = http.StatusConflict
	case apperrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"isError": true, "message": aerr.Message, "code": aerr.Code})
}

func (h *Handler) Handshake(c *gin.Context) {
	agent := c.Query("agent")
	token := c.Query("token")
	sessionID, aerr := h.svc.Handshake(agent, token)
	if aerr != nil {
		writeErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID})
}

func (h *Handler) GroupPost(c *gin.Context) {
	var body struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeErr(c, apperrors.InvalidArgument(err.Error()))
		return
	}
	if aerr := h.svc.GroupPost(sessionOf(c), body.Text); aerr != nil {
		writeErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) GroupRead(c *gin.Context) {
	msgs, aerr := h.svc.GroupRead(sessionOf(c))
	if aerr != nil {
		writeErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) GroupPeek(c *gin.Context) {
	n, aerr := h.svc.GroupPeek(sessionOf(c))
	if aerr != nil {
		writeErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (h *Handler) DMSend(c *gin.Context) {
	var body struct {
		To   string `json:"to"`
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeErr(c, apperrors.InvalidArgument(err.Error()))
		return
	}
	if aerr := h.svc.DMSend(sessionOf(c), body.To, body.Text); aerr != nil {
		writeErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) DMRead(c *gin.Context) {
	msgs, aerr := h.svc.DMRead(sessionOf(c), c.Query("from"))
	if aerr != nil {
		writeErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) DMPeek(c *gin.Context) {
	n, aerr := h.svc.DMPeek(sessionOf(c))
	if aerr != nil {
		writeErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (h *Handler) LeadPost(c *gin.Context) {
	var body struct {
		TeamName string `json:"teamName"`
		Text     string `json:"text"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeErr(c, apperrors.InvalidArgument(err.Error()))
		return
	}
	if aerr := h.svc.LeadPost(sessionOf(c), body.TeamName, body.Text); aerr != nil {
		writeErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) LeadRead(c *gin.Context) {
	msgs, aerr := h.svc.LeadRead(sessionOf(c))
	if aerr != nil {
		writeErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) LeadPeek(c *gin.Context) {
	n, aerr := h.svc.LeadPeek(sessionOf(c))
	if aerr != nil {
		writeErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (h *Handler) Share(c *gin.Context) {
	var body struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeErr(c, apperrors.InvalidArgument(err.Error()))
		return
	}
	if aerr := h.svc.Share(sessionOf(c), body.Text); aerr != nil {
		writeErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) GetShared(c *gin.Context) {
	artifacts, aerr := h.svc.GetShared(sessionOf(c))
	if aerr != nil {
		writeErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": artifacts})
}

func (h *Handler) GetTeamContext(c *gin.Context) {
	ctx, aerr := h.svc.GetTeamContext(sessionOf(c))
	if aerr != nil {
		writeErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, ctx)
}

func (h *Handler) Wait(c *gin.Context) {
	var body struct {
		TimeoutMs int `json:"timeoutMs"`
	}
	_ = c.ShouldBindJSON(&body)
	timeout := time.Duration(body.TimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	result, aerr := h.svc.Wait(sessionOf(c), timeout)
	if aerr != nil {
		writeErr(c, aerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"timedOut":  result.TimedOut,
		"dissolved": result.Dissolved,
		"groupChat": result.GroupChat,
		"dms":       result.Dms,
		"leadChat":  result.LeadChat,
	})
}
