package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetwarden/internal/stats"
)

type StatsHandler struct {
	Stats *stats.Service
}

func (h *StatsHandler) Summary(c *gin.Context) {
	c.JSON(http.StatusOK, h.Stats.Summary())
}
