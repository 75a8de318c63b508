package api

import (
	"encoding/hex"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rawblock/coinjoind/internal/db"
	"github.com/rawblock/coinjoind/internal/maker"
	"github.com/rawblock/coinjoind/internal/registry"
	"github.com/rawblock/coinjoind/internal/taker"
	"github.com/rawblock/coinjoind/pkg/models"
)

// RunLauncher starts one taker run in the background and reports its
// lifecycle to a RunTracker. cmd/coinjoind supplies this as a thin closure
// over its *taker.Engine so the API package never imports wallet concerns.
type RunLauncher func(req taker.RunRequest)

// APIHandler backs the coordination core's HTTP control surface: read-only
// views of live peers, live offers, in-flight maker sessions and taker runs,
// and the persisted coinjoin_history, plus POST /runs, which starts a taker
// run. No CoinJoin protocol traffic flows through it —
// this is ambient observability, grounded on the teacher's gin/websocket
// scaffolding.
type APIHandler struct {
	orders     *registry.OrderBook
	peers      *registry.PeerRegistry
	mk         *maker.Engine // nil when this process runs taker-only
	store      *db.PostgresStore
	runs       *RunTracker
	wsHub      *Hub
	launchTake RunLauncher // nil when this process runs maker-only
}

// SetupRouter wires the control surface's routes. mk, store and launchTake
// may be nil — their endpoints degrade to 503 rather than panicking,
// matching the teacher's posture toward optional external dependencies.
func SetupRouter(orders *registry.OrderBook, peers *registry.PeerRegistry, mk *maker.Engine, store *db.PostgresStore, runs *RunTracker, wsHub *Hub, launchTake RunLauncher) *gin.Engine {
	r := gin.Default()

	// CORS — configurable via ALLOWED_ORIGINS, defaulting to "*" for local use.
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
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{orders: orders, peers: peers, mk: mk, store: store, runs: runs, wsHub: wsHub, launchTake: launchTake}

	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/stream", wsHub.Subscribe)
	}

	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware())
	auth.Use(NewRateLimiter(60, 10).Middleware())
	{
		auth.GET("/peers", handler.handlePeers)
		auth.GET("/offers", handler.handleOffers)
		auth.GET("/sessions", handler.handleSessions)
		auth.GET("/runs", handler.handleRuns)
		auth.POST("/runs", handler.handleStartRun)
		auth.GET("/history", handler.handleHistory)
	}

	return r
}

// handleHealth reports process status and which optional collaborators are
// wired in, for service discovery and readiness probes.
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "operational",
		"makerEnabled":  h.mk != nil,
		"dbConnected":   h.store != nil,
		"liveOffers":    h.orders.Count(),
	})
}

// handlePeers returns the live peer table.
func (h *APIHandler) handlePeers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"peers": h.peers.List()})
}

// handleOffers returns the non-stale orderbook, purging stale entries as a
// side effect per registry.OrderBook.Live's documented behavior.
func (h *APIHandler) handleOffers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"offers": h.orders.Live(time.Now())})
}

// handleSessions returns this process's in-flight maker sessions.
func (h *APIHandler) handleSessions(c *gin.Context) {
	if h.mk == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "maker engine not running on this process"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": h.mk.Sessions()})
}

// handleRuns returns this process's taker runs, most recent first.
func (h *APIHandler) handleRuns(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusOK, gin.H{"runs": []RunStatus{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": h.runs.List()})
}

// startRunRequest is the wire shape for POST /runs. Taker inputs and the
// PoDLE commitment key are wallet-derived — this core only drives the
// protocol over them, same boundary as the maker's input selector.
type startRunRequest struct {
	Amount         int64               `json:"amount" binding:"required"`
	N              int                 `json:"n" binding:"required"`
	Algo           int                 `json:"algo"`
	MaxFeeRate     float64             `json:"maxFeeRate"`
	Alpha          float64             `json:"alpha"`
	CJDestination  string              `json:"cjDestination" binding:"required"`
	ChangeAddress  string              `json:"changeAddress" binding:"required"`
	TakerInputs    []models.SignedUTXO `json:"takerInputs" binding:"required"`
	PoDLECommitHex string              `json:"podleCommitPrivHex" binding:"required"`
	IgnoredNicks   []string            `json:"ignoredNicks"`
}

// handleStartRun launches a taker run in the background and returns
// immediately with its run ID; poll GET /runs for progress.
func (h *APIHandler) handleStartRun(c *gin.Context) {
	if h.launchTake == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "taker engine not running on this process"})
		return
	}

	var body startRunRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	commitBytes, err := hex.DecodeString(body.PoDLECommitHex)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "podleCommitPrivHex: " + err.Error()})
		return
	}

	ignored := make(map[string]bool, len(body.IgnoredNicks))
	for _, n := range body.IgnoredNicks {
		ignored[n] = true
	}

	req := taker.RunRequest{
		Amount:          body.Amount,
		N:               body.N,
		Algo:            registry.Algorithm(body.Algo),
		MaxFeeRate:      body.MaxFeeRate,
		Alpha:           body.Alpha,
		CJDestination:   body.CJDestination,
		ChangeAddress:   body.ChangeAddress,
		TakerInputs:     body.TakerInputs,
		PoDLECommitPriv: new(big.Int).SetBytes(commitBytes),
		IgnoredNicks:    ignored,
		RunID:           uuid.NewString(),
	}

	h.launchTake(req)
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "runId": req.RunID})
}

// handleHistory returns the persisted coinjoin_history, newest first.
func (h *APIHandler) handleHistory(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store not connected"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	entries, err := h.store.ListHistory(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch history", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}
