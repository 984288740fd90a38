// Package api exposes the bridge over HTTP: order actions, state
// queries, and a replayable SSE event stream.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tradebridge/internal/balance"
	"tradebridge/internal/engineproc"
	"tradebridge/internal/events"
	"tradebridge/internal/order"
	"tradebridge/pkg/db"
)

// streamWaitTimeout bounds each blocking wait inside the SSE loop so
// disconnects are noticed and heartbeats go out.
const streamWaitTimeout = 15 * time.Second

// Server wires the HTTP layer to the bridge's components.
type Server struct {
	router   *order.Router
	store    *order.Store
	balances *balance.Store
	log      *events.Log
	database *db.Database // optional
	logger   zerolog.Logger
}

func NewServer(r *order.Router, store *order.Store, balances *balance.Store, log *events.Log, database *db.Database, logger zerolog.Logger) *Server {
	return &Server{
		router:   r,
		store:    store,
		balances: balances,
		log:      log,
		database: database,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers all endpoints on the given engine.
func (s *Server) Routes(e *gin.Engine) {
	apiGroup := e.Group("/api")
	{
		apiGroup.POST("/orders", s.placeOrder)
		apiGroup.POST("/orders/:id/cancel", s.cancelOrder)
		apiGroup.GET("/orders", s.listOrders)
		apiGroup.GET("/orders/:id", s.getOrder)
		apiGroup.GET("/orders/:id/fills", s.listFills)
		apiGroup.GET("/history/orders", s.orderHistory)
		apiGroup.GET("/balances", s.listBalances)
		apiGroup.GET("/activity", s.recentActivity)
		apiGroup.GET("/events", s.readEvents)
		apiGroup.GET("/stream", s.stream)
	}
	e.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

type placeOrderRequest struct {
	Symbol        string  `json:"symbol" binding:"required"`
	Side          string  `json:"side" binding:"required,oneof=BUY SELL"`
	Qty           float64 `json:"qty" binding:"required,gt=0"`
	Price         float64 `json:"price" binding:"required,gt=0"`
	ClientOrderID string  `json:"client_order_id"`
}

func (s *Server) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.router.PlaceOrder(c.Request.Context(), req.Side, req.Symbol, req.Qty, req.Price, req.ClientOrderID)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, order.ErrVenueNotConfigured) || errors.Is(err, engineproc.ErrChannelClosed) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Warn().Err(err).Str("client_order_id", id).Msg("place order failed")
		c.JSON(status, gin.H{"error": err.Error(), "client_order_id": id})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"client_order_id": id})
}

func (s *Server) cancelOrder(c *gin.Context) {
	id := c.Param("id")
	symbol := c.Query("symbol")

	if err := s.router.CancelOrder(c.Request.Context(), id, symbol); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, order.ErrVenueNotConfigured) || errors.Is(err, engineproc.ErrChannelClosed) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"client_order_id": id})
}

func (s *Server) listOrders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"orders": s.store.List()})
}

func (s *Server) getOrder(c *gin.Context) {
	id := c.Param("id")
	o, ok := s.store.Get(id)
	if !ok {
		// Fall back to persisted history for orders evicted from the
		// in-memory window in a past process lifetime.
		if s.database != nil {
			if row, err := s.database.GetOrder(id); err == nil {
				c.JSON(http.StatusOK, gin.H{"order": row})
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

func (s *Server) listFills(c *gin.Context) {
	if s.database == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "persistence disabled"})
		return
	}
	fills, err := s.database.ListFills(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"fills": fills})
}

// orderHistory reads persisted orders, including ones from previous
// process lifetimes that the in-memory store never saw.
func (s *Server) orderHistory(c *gin.Context) {
	if s.database == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "persistence disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	orders, err := s.database.ListOrders(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) listBalances(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"balances": s.balances.List()})
}

func (s *Server) recentActivity(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"activity": s.log.Recent()})
}

// readEvents is the snapshot form of the stream: one read_since call.
func (s *Server) readEvents(c *gin.Context) {
	since := parseSince(c.Query("since"))
	evs, last := s.log.ReadSince(since)
	c.JSON(http.StatusOK, gin.H{"events": evs, "last_id": last})
}

// stream serves the event log as Server-Sent Events, replayable from a
// last-seen id via ?since= or the Last-Event-ID header.
func (s *Server) stream(c *gin.Context) {
	since := parseSince(c.Query("since"))
	if since < 0 {
		if h := c.GetHeader("Last-Event-ID"); h != "" {
			since = parseSince(h)
		}
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	cursor := since
	c.Stream(func(w io.Writer) bool {
		if c.Request.Context().Err() != nil {
			return false
		}

		evs, last := s.log.ReadSince(cursor)
		if len(evs) == 0 {
			if !s.log.WaitNewer(cursor, streamWaitTimeout) {
				// Heartbeat comment keeps intermediaries from closing
				// the idle connection.
				c.SSEvent("heartbeat", time.Now().Unix())
				return true
			}
			evs, last = s.log.ReadSince(cursor)
		}

		for _, st := range evs {
			// The log id doubles as the SSE event id so clients can
			// resume with Last-Event-ID.
			data, err := json.Marshal(st.Event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", st.ID, st.Event.Type, data)
		}
		cursor = last
		return true
	})
}

func parseSince(raw string) int64 {
	if raw == "" {
		return -1
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}
