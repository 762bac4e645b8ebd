package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"chatrelay/internal/apperr"
	"chatrelay/internal/auth"
	"chatrelay/internal/call"
	"chatrelay/internal/envelope"
	"chatrelay/internal/fanout"
	"chatrelay/internal/presence"
	"chatrelay/internal/receipt"
	"chatrelay/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	calls    *call.Coordinator
	msgs     *service.MessageService
	receipts *receipt.Tracker
	presence *presence.Tracker
}

func NewHandler(calls *call.Coordinator, msgs *service.MessageService, receipts *receipt.Tracker, presence *presence.Tracker) *Handler {
	return &Handler{calls: calls, msgs: msgs, receipts: receipts, presence: presence}
}

// writeError 把错误分类映射为 HTTP 状态码，无法识别的错误记录日志并返回 500。
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, fanout.ErrTransientBroker):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Str("user_id", auth.GetUserID(c)).Msg("request failed")
		c.JSON(status, gin.H{"error": http.StatusText(status)})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badPayload(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
}

// InitiateCall 处理发起通话请求 POST /calls。
func (h *Handler) InitiateCall(c *gin.Context) {
	var req struct {
		ChatID string    `json:"chatId"`
		Type   call.Type `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ChatID) == "" {
		badPayload(c)
		return
	}
	snap, err := h.calls.Initiate(c.Request.Context(), auth.GetUserID(c), req.ChatID, req.Type)
	if err != nil && snap.ID == "" {
		writeError(c, err)
		return
	}
	if err != nil {
		// the call exists; invitees may learn about it late
		log.Warn().Err(err).Str("call_id", snap.ID).Msg("notify invitees")
	}
	c.JSON(http.StatusCreated, gin.H{"call": snap})
}

// AcceptCall 处理接听通话请求。
func (h *Handler) AcceptCall(c *gin.Context) {
	snap, err := h.calls.Accept(c.Request.Context(), c.Param("id"), auth.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": snap})
}

func (h *Handler) RejectCall(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	// the body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badPayload(c)
			return
		}
	}
	snap, err := h.calls.Reject(c.Request.Context(), c.Param("id"), auth.GetUserID(c), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": snap})
}

func (h *Handler) EndCall(c *gin.Context) {
	snap, err := h.calls.End(c.Request.Context(), c.Param("id"), auth.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": snap})
}

// SignalCall 处理 POST /calls/:id/signal。带 candidate 的请求体按 ICE
// candidate 转发，其余按 offer 或 answer 转发。
func (h *Handler) SignalCall(c *gin.Context) {
	var req envelope.SignalCommand
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	kind := envelope.CallSignal
	if len(req.Candidate) > 0 {
		kind = envelope.CallICECandidate
	}
	if err := h.calls.Relay(c.Request.Context(), c.Param("id"), auth.GetUserID(c), req.TargetUserID, kind, req.Blob()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// CallHistory 处理获取通话记录请求 GET /calls/history?limit=&offset=。
func (h *Handler) CallHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	if offset < 0 {
		offset = 0
	}
	calls, err := h.calls.History(c.Request.Context(), auth.GetUserID(c), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls})
}

func (h *Handler) TURNCredentials(c *gin.Context) {
	cred, err := h.calls.Credentials(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cred)
}

// SendMessage 处理发送消息请求 POST /chats/:id/messages。
func (h *Handler) SendMessage(c *gin.Context) {
	var req service.SendInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	msg, err := h.msgs.Send(c.Request.Context(), c.Param("id"), auth.GetUserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// EditMessage 处理编辑消息请求，仅发送者可编辑。
func (h *Handler) EditMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	msg, err := h.msgs.Edit(c.Request.Context(), c.Param("id"), auth.GetUserID(c), req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// DeleteMessage 处理删除消息请求。
func (h *Handler) DeleteMessage(c *gin.Context) {
	if err := h.msgs.Delete(c.Request.Context(), c.Param("id"), auth.GetUserID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReportStatus 处理消息回执上报 POST /messages/:id/status，status 为 delivered 或 read。
func (h *Handler) ReportStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	next, err := receipt.Parse(req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.receipts.ReportStatus(c.Request.Context(), c.Param("id"), auth.GetUserID(c), next)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) AddMember(c *gin.Context) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		badPayload(c)
		return
	}
	if err := h.msgs.AddMember(c.Request.Context(), c.Param("id"), auth.GetUserID(c), req.UserID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) RemoveMember(c *gin.Context) {
	if err := h.msgs.RemoveMember(c.Request.Context(), c.Param("id"), auth.GetUserID(c), c.Param("userId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Presence 处理查询用户在线状态请求。
func (h *Handler) Presence(c *gin.Context) {
	p, err := h.presence.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
