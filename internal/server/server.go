package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"dmarket_go/internal/domain"
	"dmarket_go/internal/engine"
	"dmarket_go/internal/event"
	"dmarket_go/internal/infra"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	subscriberBuffer = 64
	writeTimeout     = 5 * time.Second
)

// LoopView is the read side of a game loop.
type LoopView interface {
	Game() string
	ActiveOrders() []domain.ActiveOrder
	Machines() []engine.MachineView
}

// Server exposes health, metrics and order state over HTTP and streams
// order state changes over a websocket.
type Server struct {
	loops    []LoopView
	balance  *domain.BalanceGuard
	metrics  *infra.Metrics
	hub      *hub[*event.OrderStateEvent]
	upgrader websocket.Upgrader
	router   *gin.Engine
	http     *http.Server
	logger   *slog.Logger
}

type outboundMessage struct {
	Type event.Type `json:"type"`
	Data any        `json:"data"`
}

// New creates a status server listening on addr.
func New(addr string, loops []LoopView, balance *domain.BalanceGuard, metrics *infra.Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		loops:    loops,
		balance:  balance,
		metrics:  metrics,
		hub:      newHub[*event.OrderStateEvent](),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   slog.Default().With(slog.String("module", "status_server")),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", s.handleMetrics)
	r.GET("/orders", s.handleOrders)
	r.GET("/machines", s.handleMachines)
	r.GET("/ws", s.handleStream)
	s.router = r

	s.http = &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// SetLoops replaces the loops served. Call it before Start.
func (s *Server) SetLoops(loops []LoopView) {
	s.loops = loops
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Publish broadcasts an order state change to websocket subscribers.
// It never blocks and is safe to use as a loop's OnUpdate callback.
func (s *Server) Publish(ev *event.OrderStateEvent) {
	s.hub.Broadcast(ev)
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Status server listening", slog.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server stopped", slog.Any("error", err))
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	games := make([]string, 0, len(s.loops))
	for _, l := range s.loops {
		games = append(games, l.Game())
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "games": games})
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"metrics": s.metrics.Snapshot(),
		"balance": s.balance.Snapshot(),
	})
}

func (s *Server) handleOrders(c *gin.Context) {
	game := c.Query("game")
	orders := make([]domain.ActiveOrder, 0)
	for _, l := range s.loops {
		if game == "" || l.Game() == game {
			orders = append(orders, l.ActiveOrders()...)
		}
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) handleMachines(c *gin.Context) {
	game := c.Query("game")
	machines := make([]engine.MachineView, 0)
	for _, l := range s.loops {
		if game == "" || l.Game() == game {
			machines = append(machines, l.Machines()...)
		}
	}
	c.JSON(http.StatusOK, machines)
}

func (s *Server) handleStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe(subscriberBuffer)
	defer s.hub.Unsubscribe(sub)

	// reader: notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-sub.ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(outboundMessage{Type: ev.GetType(), Data: ev}); err != nil {
				return
			}
		}
	}
}
