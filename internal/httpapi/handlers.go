package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"callsignal/internal/auth"
	"callsignal/internal/callcontrol"
	"callsignal/internal/calls"
	"callsignal/internal/history"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls   *callcontrol.Controller
	History *history.Service
}

// Register mounts the /calls routes on a group that already runs the auth middleware.
func (h Handlers) Register(g *gin.RouterGroup) {
	g.POST("/send", h.SendCall)
	g.POST("/receive", h.ReceiveCall)
	g.POST("/reject", h.RejectCall)
	g.POST("/end", h.EndCall)
	g.GET("/active", h.ActiveCalls)
	g.GET("/users/online", h.OnlineUsers)
	g.GET("/history", h.CallHistory)
	g.GET("/history/summary", h.CallSummary)
	g.GET("/:callId/status", h.CallStatus)
}

type sendCallRequest struct {
	FriendID string `json:"friendId"`
	CallType string `json:"callType"`
}

type callIDRequest struct {
	CallID string `json:"callId"`
}

func actingUser(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required", "code": "unauthorized"})
		return "", false
	}
	return uid, true
}

func bindCallID(c *gin.Context) (string, bool) {
	var req callIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return "", false
	}
	if req.CallID == "" {
		badRequest(c, "callId is required")
		return "", false
	}
	return req.CallID, true
}

// SendCall starts a call to a friend.
func (h Handlers) SendCall(c *gin.Context) {
	uid, ok := actingUser(c)
	if !ok {
		return
	}
	var req sendCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if req.FriendID == "" {
		badRequest(c, "friendId is required")
		return
	}
	kind, err := calls.ParseKind(req.CallType)
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := h.Calls.Initiate(c.Request.Context(), uid, req.FriendID, kind)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ReceiveCall accepts a ringing call.
func (h Handlers) ReceiveCall(c *gin.Context) {
	uid, ok := actingUser(c)
	if !ok {
		return
	}
	callID, ok := bindCallID(c)
	if !ok {
		return
	}
	sess, err := h.Calls.Accept(c.Request.Context(), uid, callID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"callId": sess.CallID, "status": sess.Status})
}

func (h Handlers) RejectCall(c *gin.Context) {
	uid, ok := actingUser(c)
	if !ok {
		return
	}
	callID, ok := bindCallID(c)
	if !ok {
		return
	}
	sess, err := h.Calls.Reject(c.Request.Context(), uid, callID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"callId": sess.CallID, "rejectedBy": sess.RejectedBy})
}

func (h Handlers) EndCall(c *gin.Context) {
	uid, ok := actingUser(c)
	if !ok {
		return
	}
	callID, ok := bindCallID(c)
	if !ok {
		return
	}
	sess, err := h.Calls.End(c.Request.Context(), uid, callID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"callId": sess.CallID, "duration": sess.DurationSeconds, "endedBy": sess.EndedBy})
}

// CallStatus is readable by any authenticated user for operational tooling.
func (h Handlers) CallStatus(c *gin.Context) {
	sess, err := h.Calls.Status(c.Param("callId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h Handlers) ActiveCalls(c *gin.Context) {
	list := h.Calls.Active()
	c.JSON(http.StatusOK, gin.H{"count": len(list), "calls": list})
}

func (h Handlers) OnlineUsers(c *gin.Context) {
	list := h.Calls.Online()
	c.JSON(http.StatusOK, gin.H{"count": len(list), "users": list})
}

func (h Handlers) CallHistory(c *gin.Context) {
	uid, ok := actingUser(c)
	if !ok {
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := h.History.Recent(c.Request.Context(), uid, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(list), "calls": list})
}

func (h Handlers) CallSummary(c *gin.Context) {
	uid, ok := actingUser(c)
	if !ok {
		return
	}
	req := history.SummaryRequest{UserID: uid}
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &req.Range.From}, {"to", &req.Range.To}} {
		v := c.Query(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, p.key+" must be RFC3339")
			return
		}
		*p.dst = t.UTC()
	}
	sum, err := h.History.Summary(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
