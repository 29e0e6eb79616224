package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/Sponsorn/mythic-tournament/internal/app/state"
	"github.com/Sponsorn/mythic-tournament/pkg/logger"
	"github.com/Sponsorn/mythic-tournament/pkg/metrics"
)

// Envelope is every websocket message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	id     string
	out    chan []byte
	cancel context.CancelFunc
}

// Gateway fans state changes out to websocket clients and runs their admin
// commands.
type Gateway struct {
	live      LiveState
	roster    Roster
	refresher Refresher
	opts      options

	mu      sync.Mutex
	clients map[string]*client

	logger logger.Logger
}

func newGateway(live LiveState, roster Roster, refresher Refresher, o options) *Gateway {
	return &Gateway{
		live:      live,
		roster:    roster,
		refresher: refresher,
		opts:      o,
		clients:   make(map[string]*client),
		logger:    o.logger.Named("gateway"),
	}
}

func (g *Gateway) start(ctx context.Context) func() {
	unsubscribe := g.live.Subscribe(g.onEvent)
	g.logger.Info(ctx, "gateway subscribed to state")
	return func() {
		unsubscribe()
		g.closeAll()
	}
}

// Clients returns the number of connected clients.
func (g *Gateway) Clients() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// HandleWS upgrades GET /ws.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: g.opts.origins})
	if err != nil {
		g.logger.Warn(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{id: uuid.NewString(), out: make(chan []byte, g.opts.outbox), cancel: cancel}
	if err := g.register(c); err != nil {
		g.logger.Error(ctx, "failed to encode state sync", logger.Error(err))
		return
	}
	defer g.unregister(c)
	g.logger.Debug(ctx, "client connected", logger.String("client", c.id))

	go g.writeLoop(ctx, conn, c)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					g.logger.Debug(ctx, "client read failed", logger.String("client", c.id), logger.Error(err))
				}
			}
			return
		}
		g.handleMessage(ctx, c, data)
	}
}

func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, g.opts.writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
		}
	}
}

// register queues state:sync before the client can see any broadcast.
func (g *Gateway) register(c *client) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	msg, err := json.Marshal(outbound{Type: string(state.EventSync), Data: g.live.Snapshot()})
	if err != nil {
		return err
	}
	c.out <- msg
	g.clients[c.id] = c
	metrics.UpdateWSClients(len(g.clients))
	return nil
}

func (g *Gateway) unregister(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.clients[c.id]; ok {
		delete(g.clients, c.id)
		metrics.UpdateWSClients(len(g.clients))
	}
}

func (g *Gateway) closeAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, c := range g.clients {
		c.cancel()
		delete(g.clients, id)
	}
	metrics.UpdateWSClients(0)
}

// onEvent runs inside the state manager's emission and must not block.
func (g *Gateway) onEvent(ev state.Event) {
	g.broadcast(string(ev.Type), ev.Data)
	if ev.Type != state.EventRunComplete {
		return
	}
	if rc, ok := ev.Data.(state.RunCompleted); ok {
		g.broadcast(string(state.EventRecapShow), state.RecapShown{
			Recap:    rc.Recap,
			Duration: g.opts.recap.Milliseconds(),
		})
	}
}

func (g *Gateway) broadcast(typ string, data any) {
	msg, err := json.Marshal(outbound{Type: typ, Data: data})
	if err != nil {
		g.logger.Error(context.Background(), "failed to encode event", logger.String("type", typ), logger.Error(err))
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.clients {
		g.sendLocked(c, msg)
	}
}

// send delivers to one client.
func (g *Gateway) send(c *client, typ string, data any) {
	msg, err := json.Marshal(outbound{Type: typ, Data: data})
	if err != nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.clients[c.id]; ok {
		g.sendLocked(c, msg)
	}
}

// sendLocked drops a client whose outbox is full.
func (g *Gateway) sendLocked(c *client, msg []byte) {
	select {
	case c.out <- msg:
	default:
		delete(g.clients, c.id)
		c.cancel()
		metrics.RecordBroadcastDrop()
		metrics.UpdateWSClients(len(g.clients))
		g.logger.Warn(context.Background(), "dropped slow client", logger.String("client", c.id))
	}
}

func (g *Gateway) handleMessage(ctx context.Context, c *client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		g.send(c, adminResponseType, adminResponse{Success: false, Message: "invalid message"})
		return
	}
	cmd, known := adminCommands[env.Type]
	if !known {
		if isAdminType(env.Type) {
			metrics.RecordAdminCommand(env.Type, "unknown")
			g.send(c, adminResponseType, adminResponse{Success: false, Message: ErrUnknownCommand.Error()})
		}
		return
	}

	var req adminRequest
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &req); err != nil {
			metrics.RecordAdminCommand(env.Type, "bad_request")
			g.send(c, adminResponseType, adminResponse{Success: false, Message: ErrBadRequest.Error()})
			return
		}
	}
	if err := g.authorize(req.Secret); err != nil {
		metrics.RecordAdminCommand(env.Type, "unauthorized")
		g.logger.Warn(ctx, "admin command rejected",
			logger.String("client", c.id),
			logger.String("command", env.Type),
			logger.Error(err),
		)
		g.send(c, adminResponseType, adminResponse{Success: false, Message: "Unauthorized"})
		return
	}

	resp := cmd(g, ctx, req)
	outcome := "ok"
	if !resp.Success {
		outcome = "error"
	}
	metrics.RecordAdminCommand(env.Type, outcome)
	g.logger.Info(ctx, "admin command",
		logger.String("client", c.id),
		logger.String("command", env.Type),
		logger.Bool("success", resp.Success),
		logger.String("message", resp.Message),
	)
	g.send(c, adminResponseType, resp)
}

// Close drops every client.
func (g *Gateway) Close() error {
	g.closeAll()
	return nil
}
