package api

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rawblock/qubic-flow-engine/internal/db"
	"github.com/rawblock/qubic-flow-engine/internal/epochs"
	"github.com/rawblock/qubic-flow-engine/internal/flow"
	"github.com/rawblock/qubic-flow-engine/internal/identity"
	"github.com/rawblock/qubic-flow-engine/internal/labels"
	"github.com/rawblock/qubic-flow-engine/internal/push"
	"github.com/rawblock/qubic-flow-engine/internal/rpc"
	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

type APIHandler struct {
	store    *db.Store
	node     *rpc.Client
	registry *labels.Registry
	tracker  *flow.Tracker
	epochMgr *epochs.Manager
	sender   *push.Sender
	wsHub    *Hub
}

func SetupRouter(store *db.Store, node *rpc.Client, registry *labels.Registry,
	tracker *flow.Tracker, epochMgr *epochs.Manager, sender *push.Sender, wsHub *Hub) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://example.net,https://www.example.net
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		store: store, node: node, registry: registry,
		tracker: tracker, epochMgr: epochMgr, sender: sender, wsHub: wsHub,
	}

	limiter := NewRateLimiter(120, 30)

	api := r.Group("/api/v1")
	api.Use(limiter.Middleware())
	{
		api.GET("/health", handler.handleHealth)
		api.GET("/stream", wsHub.Subscribe)
		api.GET("/balance/:address", handler.handleBalance)
		api.GET("/labels/search", handler.handleLabelSearch)

		api.GET("/epochs/:epoch", handler.handleEpoch)
		api.GET("/epochs/:epoch/rewards", handler.handleEpochRewards)

		api.GET("/flow/:epoch/graph", handler.handleFlowGraph)
		api.GET("/flow/:epoch/validate", handler.handleFlowValidate)

		api.GET("/push/key", handler.handlePushKey)

		protected := api.Group("")
		protected.Use(AuthMiddleware())
		{
			protected.POST("/subscriptions", handler.handleCreateSubscription)
			protected.DELETE("/subscriptions/:id", handler.handleDeleteSubscription)
		}
	}

	return r
}

// handleHealth returns engine status for service discovery. A critical epoch
// transition failure is surfaced here so operators see it without grepping
// logs.
func (h *APIHandler) handleHealth(c *gin.Context) {
	critical, epoch, reason := h.epochMgr.CriticalError()

	status := "operational"
	if critical {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      status,
		"dbConnected": h.store != nil,
		"criticalError": gin.H{
			"active": critical,
			"epoch":  epoch,
			"reason": reason,
		},
	})
}

func (h *APIHandler) handleBalance(c *gin.Context) {
	addr := c.Param("address")
	if _, err := identity.ToPubKey(addr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid address", "details": err.Error()})
		return
	}

	info, err := h.node.GetBalance(c.Request.Context(), addr)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch balance", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *APIHandler) handleLabelSearch(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing query parameter: q"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	// A failed refresh still serves the last loaded snapshot.
	_ = h.registry.EnsureFresh()
	c.JSON(http.StatusOK, gin.H{"results": h.registry.SearchByLabel(query, limit)})
}

func (h *APIHandler) epochParam(c *gin.Context) (uint32, bool) {
	epoch, err := strconv.ParseUint(c.Param("epoch"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid epoch number"})
		return 0, false
	}
	return uint32(epoch), true
}

func (h *APIHandler) handleEpoch(c *gin.Context) {
	epoch, ok := h.epochParam(c)
	if !ok {
		return
	}

	meta, found, err := h.store.GetEpochMeta(c.Request.Context(), epoch)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load epoch", "details": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown epoch"})
		return
	}

	resp := gin.H{"epoch": meta}
	if summary, hasSummary, err := h.store.GetEmissionSummary(c.Request.Context(), epoch); err == nil && hasSummary {
		resp["emission"] = summary
	}
	c.JSON(http.StatusOK, resp)
}

// handleEpochRewards returns the paired reward-distribution brackets of an
// epoch with per-range totals and per-share amounts.
func (h *APIHandler) handleEpochRewards(c *gin.Context) {
	epoch, ok := h.epochParam(c)
	if !ok {
		return
	}

	ranges, err := h.epochMgr.RewardDistributions(c.Request.Context(), epoch)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute reward ranges", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"epoch": epoch, "ranges": ranges})
}

func (h *APIHandler) handleFlowGraph(c *gin.Context) {
	epoch, ok := h.epochParam(c)
	if !ok {
		return
	}

	graph, err := h.tracker.BuildGraph(c.Request.Context(), epoch)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build flow graph", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, graph)
}

func (h *APIHandler) handleFlowValidate(c *gin.Context) {
	epoch, ok := h.epochParam(c)
	if !ok {
		return
	}

	report, err := h.tracker.Validate(c.Request.Context(), epoch)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Validation failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *APIHandler) handlePushKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"publicKey": h.sender.PublicKey()})
}

func (h *APIHandler) handleCreateSubscription(c *gin.Context) {
	var req struct {
		Endpoint  string   `json:"endpoint"`
		P256dh    string   `json:"p256dh"`
		Auth      string   `json:"auth"`
		Addresses []string `json:"addresses"`
		Events    []string `json:"events"`
		Threshold int64    `json:"threshold"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Endpoint == "" || req.P256dh == "" || req.Auth == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint, p256dh and auth are required"})
		return
	}
	if len(req.Addresses) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "At least one watched address is required"})
		return
	}
	for _, addr := range req.Addresses {
		if _, err := identity.ToPubKey(addr); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid watched address: " + addr})
			return
		}
	}
	if len(req.Events) == 0 {
		req.Events = []string{models.PushEventIncoming, models.PushEventOutgoing}
	}

	sub := models.PushSubscription{
		ID:        uuid.NewString(),
		Endpoint:  req.Endpoint,
		P256dh:    req.P256dh,
		Auth:      req.Auth,
		Addresses: req.Addresses,
		Events:    req.Events,
		Threshold: req.Threshold,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.SaveSubscription(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save subscription", "details": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": sub.ID})
}

func (h *APIHandler) handleDeleteSubscription(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subscription id"})
		return
	}
	if err := h.store.DeleteSubscription(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete subscription", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
