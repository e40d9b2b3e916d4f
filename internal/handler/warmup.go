package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fleetwarden/internal/model"
	"fleetwarden/internal/warmup"
)

type WarmupHandler struct {
	Scheduler *warmup.Scheduler
}

type moveBody struct {
	AccountID string      `json:"accountId"`
	Queue     model.Queue `json:"queue"`
}

type manualConfigBody struct {
	Groups            []string `json:"groups"`
	MessagesPerPeriod int      `json:"messagesPerPeriod"`
	// Period is a Go duration string such as "24h".
	Period   string   `json:"period"`
	Messages []string `json:"messages"`
}

func (h *WarmupHandler) Queues(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"queues": h.Scheduler.Queues()})
}

func (h *WarmupHandler) Move(c *gin.Context) {
	var body moveBody
	if err := c.ShouldBindJSON(&body); err != nil || body.AccountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	acc, err := h.Scheduler.MoveTo(body.AccountID, body.Queue)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acc, "queue": body.Queue})
}

func (h *WarmupHandler) GetManualConfig(c *gin.Context) {
	cfg, ok := h.Scheduler.ManualConfig()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"config": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": manualConfigJSON(cfg)})
}

func (h *WarmupHandler) PutManualConfig(c *gin.Context) {
	var body manualConfigBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	var period time.Duration
	if body.Period != "" {
		d, err := time.ParseDuration(body.Period)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid period"})
			return
		}
		period = d
	}
	cfg := model.ManualWarmupConfig{
		Groups:            body.Groups,
		MessagesPerPeriod: body.MessagesPerPeriod,
		Period:            period,
		Messages:          body.Messages,
	}
	if err := h.Scheduler.SetManualConfig(cfg); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": manualConfigJSON(cfg)})
}

func (h *WarmupHandler) Suggestions(c *gin.Context) {
	out := h.Scheduler.Suggestions()
	if out == nil {
		out = []warmup.Suggestion{}
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": out})
}

func manualConfigJSON(cfg model.ManualWarmupConfig) gin.H {
	groups, messages := cfg.Groups, cfg.Messages
	if groups == nil {
		groups = []string{}
	}
	if messages == nil {
		messages = []string{}
	}
	return gin.H{
		"groups":            groups,
		"messagesPerPeriod": cfg.MessagesPerPeriod,
		"period":            cfg.Period.String(),
		"messages":          messages,
	}
}
