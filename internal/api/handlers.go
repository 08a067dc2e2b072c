package api

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"campd/internal/job"
	"campd/internal/pool"
	"campd/internal/session"
	logx "campd/pkg/logx"
)

type handlers struct {
	deps Deps
	log  logx.Logger
}

type submitRequest struct {
	Type        string         `json:"type" binding:"required"`
	TargetID    string         `json:"target_id"`
	Payload     map[string]any `json:"payload"`
	Priority    *int           `json:"priority"`
	CallbackURL string         `json:"callback_url"`
}

// POST /jobs
func (h *handlers) submitJob(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	typ, err := job.ParseType(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	priority := typ.DefaultPriority()
	if req.Priority != nil {
		priority = *req.Priority
	}

	j := job.Job{
		ID:          uuid.NewString(),
		Type:        typ,
		TargetID:    req.TargetID,
		Payload:     req.Payload,
		Priority:    priority,
		CallbackURL: req.CallbackURL,
	}

	snap, err := h.deps.Pool.Submit(c.Request.Context(), j)
	if err != nil {
		if errors.Is(err, pool.ErrPoolDisabled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, snap)
}

// GET /jobs/:id
func (h *handlers) jobStatus(c *gin.Context) {
	id := c.Param("id")
	snap, ok := h.deps.Registry.Snapshot(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// DELETE /jobs/:id
func (h *handlers) cancelJob(c *gin.Context) {
	id := c.Param("id")
	if !h.deps.Pool.Cancel(id, "cancelled by operator") {
		snap, ok := h.deps.Registry.Snapshot(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{
			"error":  "job already finished",
			"status": snap.Status,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

type pushSessionRequest struct {
	// Blob is the base64-encoded session state captured elsewhere.
	Blob string `json:"blob" binding:"required"`
}

// POST /session
func (h *handlers) pushSession(c *gin.Context) {
	var req pushSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	blob, err := base64.StdEncoding.DecodeString(req.Blob)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "blob is not valid base64"})
		return
	}
	if len(blob) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "blob is empty"})
		return
	}

	if err := h.deps.Sessions.Push(c.Request.Context(), blob, c.ClientIP()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// A fresh session supersedes whatever tripped the breaker.
	h.deps.Pool.NotifySessionPushed()

	c.JSON(http.StatusOK, gin.H{"status": "session updated"})
}

// POST /pool/reset
func (h *handlers) resetPool(c *gin.Context) {
	h.deps.Pool.Reset(c.Request.Context(), c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"status": "pool reset"})
}

// POST /queue/clear
//
// Lighter than a reset: queued jobs are cancelled but workers keep running
// and the breaker is untouched.
func (h *handlers) clearQueue(c *gin.Context) {
	n := h.deps.Pool.ClearQueue(c.Request.Context(), c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"status": "queue cleared", "cancelled": n})
}

// POST /relogin
func (h *handlers) triggerReauth(c *gin.Context) {
	appCtx := h.deps.AppCtx
	if appCtx == nil {
		appCtx = context.Background()
	}

	// Re-auth runs in a dedicated throwaway client so worker clients are
	// never mutated mid-job.
	login := func(ctx context.Context) ([]byte, error) {
		cl, err := h.deps.Driver.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		defer cl.Close()
		return cl.LoginInteractive(ctx)
	}

	err := h.deps.Sessions.TriggerReauth(appCtx, login)
	if errors.Is(err, session.ErrReauthRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": session.ReauthRunning})
}

// GET /relogin/status
func (h *handlers) reauthStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Sessions.Reauth())
}

// GET /health
func (h *handlers) health(c *gin.Context) {
	hostname, _ := os.Hostname()
	counts := h.deps.Registry.Counts()
	ph := h.deps.Pool.Health()

	body := gin.H{
		"hostname":      hostname,
		"time":          time.Now().Format(time.RFC3339),
		"jobs":          counts,
		"alive_jobs":    counts.Alive(),
		"pool":          ph,
		"authenticated": h.deps.Sessions.Authenticated(),
		"reauth":        h.deps.Sessions.Reauth().Status,
	}
	if h.deps.Netspeed != nil {
		last, lastErr := h.deps.Netspeed.Last()
		ns := gin.H{"running": h.deps.Netspeed.Running()}
		if last != nil {
			ns["last"] = last
		}
		if lastErr != "" {
			ns["last_error"] = lastErr
		}
		body["netspeed"] = ns
	}

	status := http.StatusOK
	if ph.Disabled {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, body)
}

// GET /netspeed
//
// Returns the cached probe. ?run=1 performs a synchronous probe, which can
// take tens of seconds; callers opting in should set generous timeouts.
func (h *handlers) netspeed(c *gin.Context) {
	if h.deps.Netspeed == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "netspeed disabled"})
		return
	}
	if c.Query("run") == "1" {
		res, err := h.deps.Netspeed.Run(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
		return
	}
	last, lastErr := h.deps.Netspeed.Last()
	if last == nil {
		body := gin.H{"error": "no probe completed yet"}
		if lastErr != "" {
			body["last_error"] = lastErr
		}
		c.JSON(http.StatusNotFound, body)
		return
	}
	c.JSON(http.StatusOK, last)
}
