package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fleetwarden/internal/activity"
	"fleetwarden/internal/model"
	"fleetwarden/internal/ratelimit"
	"fleetwarden/internal/registry"
	"fleetwarden/internal/warmup"
)

type AccountHandler struct {
	Registry *registry.Registry
	Warmup   *warmup.Scheduler
	Detector *ratelimit.Detector
	Activity activity.Store
}

type createAccountBody struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	Nickname    *string `json:"nickname"`
	Proxy       *string `json:"proxy"`
	PhoneNumber *string `json:"phoneNumber"`
}

type updateAccountBody struct {
	Username    *string               `json:"username"`
	Nickname    *string               `json:"nickname"`
	Proxy       *string               `json:"proxy"`
	PhoneNumber *string               `json:"phoneNumber"`
	HealthScore *int                  `json:"healthScore"`
	Status      *model.LifecycleState `json:"status"`
}

func (h *AccountHandler) Create(c *gin.Context) {
	var body createAccountBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	acc, err := h.Registry.Create(registry.NewAccount{
		ID:          body.ID,
		Username:    body.Username,
		Nickname:    body.Nickname,
		Proxy:       body.Proxy,
		PhoneNumber: body.PhoneNumber,
	}, time.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"account": acc})
}

func (h *AccountHandler) List(c *gin.Context) {
	var f registry.Filter
	if raw := c.Query("status"); raw != "" {
		st := model.LifecycleState(raw)
		if !st.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
			return
		}
		f.State = st
	}
	for key, dst := range map[string]**int{"minHealth": &f.MinHealth, "maxHealth": &f.MaxHealth} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + key})
			return
		}
		*dst = &v
	}
	c.JSON(http.StatusOK, gin.H{"accounts": h.Registry.List(f)})
}

func (h *AccountHandler) Get(c *gin.Context) {
	id := c.Param("id")
	acc, err := h.Registry.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{"account": acc}
	if q, err := h.Warmup.QueueOf(id); err == nil {
		resp["queue"] = q
	}
	if st, ok := h.Detector.Snapshot(id, time.Now()); ok {
		resp["rateLimit"] = st
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AccountHandler) Update(c *gin.Context) {
	var body updateAccountBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	acc, err := h.Registry.Update(c.Param("id"), registry.Patch{
		Username:    body.Username,
		Nickname:    body.Nickname,
		Proxy:       body.Proxy,
		PhoneNumber: body.PhoneNumber,
		HealthScore: body.HealthScore,
		State:       body.Status,
	}, time.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acc})
}

func (h *AccountHandler) Delete(c *gin.Context) {
	if err := h.Registry.Delete(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Ban records an external ban signal for the account.
func (h *AccountHandler) Ban(c *gin.Context) {
	acc, err := h.Registry.Ban(c.Param("id"), time.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acc})
}

func (h *AccountHandler) ListActivity(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.Registry.Get(id); err != nil {
		writeError(c, err)
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = v
	}
	entries, err := h.Activity.List(c.Request.Context(), id, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []activity.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"activity": entries})
}
