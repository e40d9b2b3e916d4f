package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetwarden/internal/dispatch"
	"fleetwarden/internal/middleware"
	"fleetwarden/internal/model"
)

type BroadcastHandler struct {
	Dispatcher *dispatch.Dispatcher
}

type createBroadcastBody struct {
	Name               string   `json:"name"`
	Message            string   `json:"message"`
	AccountIDs         []string `json:"accountIds"`
	MessagesPerAccount int      `json:"messagesPerAccount"`
}

func (h *BroadcastHandler) Create(c *gin.Context) {
	var body createBroadcastBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	name := body.Name
	if name == "" {
		if op, ok := middleware.OperatorFromContext(c); ok {
			name = "broadcast by " + op
		}
	}
	s, err := h.Dispatcher.Dispatch(dispatch.Request{
		Name:               name,
		Origin:             model.OriginOperator,
		Message:            body.Message,
		AccountIDs:         body.AccountIDs,
		MessagesPerAccount: body.MessagesPerAccount,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"broadcast": s})
}

func (h *BroadcastHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"broadcasts": h.Dispatcher.List()})
}

func (h *BroadcastHandler) Get(c *gin.Context) {
	s, err := h.Dispatcher.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"broadcast": s})
}

func (h *BroadcastHandler) Cancel(c *gin.Context) {
	s, err := h.Dispatcher.Cancel(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"broadcast": s})
}
