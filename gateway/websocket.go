package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/semsub/errors"
	"github.com/c360/semsub/notify"
	"github.com/c360/semsub/scheduler"
)

// connection is one subscription client. Its session id owns every
// subscription made through it; closing the connection removes them.
type connection struct {
	server  *Server
	conn    *websocket.Conn
	session string
	remote  string
	// Authorization header values of the upgrade request, used when a
	// frame carries none
	authorization []string

	sink    *notify.ChannelSink
	replies chan serverFrame

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	remote := clientAddress(r)
	if !s.allow(remote) {
		writeError(w, errorResponse(errors.WrapTransient(errors.ErrRateLimited, "Server", "handleSubscribe", "admit client")))
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		writeError(w, errorBody{
			Code:        "invalid_request",
			Description: "WebSocket upgrade required",
			Status:      http.StatusBadRequest,
		})
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		s.logger.Debug("WebSocket upgrade failed", "remote", remote, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := uuid.NewString()
	c := &connection{
		server:        s,
		conn:          ws,
		session:       session,
		remote:        remote,
		authorization: r.Header.Values("Authorization"),
		sink:          notify.NewChannelSink(s.config.NotificationBuffer),
		replies:       make(chan serverFrame, 16),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		logger:        s.logger.With("session", session, "remote", remote),
	}

	s.trackConnection(c)
	s.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()

	c.logger.Debug("Subscription connection opened")
}

func (c *connection) readLoop() {
	defer c.server.wg.Done()
	defer c.finish()

	cfg := c.server.config
	c.conn.SetReadLimit(cfg.MaxRequestSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("Subscription connection lost", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.replyError(invalidRequest("readLoop", "malformed frame"), "")
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *connection) handleFrame(frame clientFrame) {
	if !c.server.allow(c.remote) {
		c.replyError(errors.WrapTransient(errors.ErrRateLimited, "connection", "handleFrame", "admit client"), "")
		return
	}

	switch {
	case frame.Subscribe != nil && frame.Unsubscribe == nil:
		c.subscribe(*frame.Subscribe)
	case frame.Unsubscribe != nil && frame.Subscribe == nil:
		c.unsubscribe(*frame.Unsubscribe)
	default:
		c.replyError(invalidRequest("handleFrame", "frame must hold exactly one of subscribe or unsubscribe"), "")
	}
}

func (c *connection) authorizationValues(frameValue string) []string {
	if frameValue != "" {
		return []string{frameValue}
	}
	return c.authorization
}

func (c *connection) subscribe(f subscribeFrame) {
	creds, err := c.server.authorize(c.ctx, c.authorizationValues(f.Authorization), c.remote)
	if err != nil {
		c.replyError(err, "")
		return
	}

	var sink notify.Sink = c.sink
	var natsSink *notify.NATSSink
	switch f.Delivery {
	case "", DeliveryWebSocket:
	case DeliveryNATS:
		if c.server.publisher == nil {
			c.replyError(invalidRequest("subscribe", "NATS delivery is not enabled"), "")
			return
		}
		natsSink = notify.NewNATSSink(c.server.publisher, c.server.subjectPrefix, c.logger)
		sink = natsSink
	default:
		c.replyError(invalidRequest("subscribe", "unknown delivery "+f.Delivery), "")
		return
	}

	out, err := c.server.sched.Submit(c.ctx, scheduler.Request{
		Kind:             scheduler.KindSubscribe,
		SPARQL:           f.SPARQL,
		DefaultGraphURIs: f.DefaultGraphURIs,
		NamedGraphURIs:   f.NamedGraphURIs,
		Credentials:      creds,
		Session:          c.session,
		Alias:            f.Alias,
		Sink:             sink,
	})
	if err != nil {
		c.replyError(err, "")
		return
	}

	reply := &subscribedFrame{
		SubscriptionID: out.SubscriptionID,
		Alias:          out.Alias,
		FirstResults:   out.Results,
	}
	if natsSink != nil {
		reply.Subject = natsSink.Subject(out.SubscriptionID)
	}
	c.reply(serverFrame{Subscribed: reply})
}

func (c *connection) unsubscribe(f unsubscribeFrame) {
	creds, err := c.server.authorize(c.ctx, c.authorizationValues(f.Authorization), c.remote)
	if err != nil {
		c.replyError(err, f.SubscriptionID)
		return
	}

	out, err := c.server.sched.Submit(c.ctx, scheduler.Request{
		Kind:           scheduler.KindUnsubscribe,
		SubscriptionID: f.SubscriptionID,
		Credentials:    creds,
		Session:        c.session,
	})
	if err != nil {
		c.replyError(err, f.SubscriptionID)
		return
	}
	c.reply(serverFrame{Unsubscribed: &unsubscribedFrame{SubscriptionID: out.SubscriptionID, Alias: out.Alias}})
}

func (c *connection) reply(f serverFrame) {
	select {
	case c.replies <- f:
	case <-c.done:
	}
}

func (c *connection) replyError(err error, subscriptionID string) {
	body := errorResponse(err)
	body.SubscriptionID = subscriptionID
	c.reply(serverFrame{Error: &body})
}

// writeLoop is the only writer on the socket
func (c *connection) writeLoop() {
	defer c.server.wg.Done()

	ticker := time.NewTicker(c.server.config.PingInterval)
	defer ticker.Stop()

	order := newEventOrder()

	for {
		select {
		case <-c.done:
			return

		case f := <-c.replies:
			if !c.write(f) {
				return
			}
			for _, ev := range order.replied(f) {
				if !c.write(eventFrame(ev)) {
					return
				}
			}

		case ev, ok := <-c.sink.Events():
			if !ok {
				return
			}
			if !order.deliver(ev) {
				continue
			}
			if !c.write(eventFrame(ev)) {
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.server.config.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("Ping failed", "error", err)
				c.close()
				return
			}
		}
	}
}

// eventOrder keeps a subscription's notifications behind its subscribed
// frame. Once a subscription is unsubscribed or its failure event is
// written, later events for it are dropped.
type eventOrder struct {
	announced map[string]bool
	ended     map[string]bool
	held      map[string][]notify.Event
}

func newEventOrder() *eventOrder {
	return &eventOrder{
		announced: make(map[string]bool),
		ended:     make(map[string]bool),
		held:      make(map[string][]notify.Event),
	}
}

// replied records a written reply and returns the held events it releases
func (o *eventOrder) replied(f serverFrame) []notify.Event {
	switch {
	case f.Subscribed != nil:
		id := f.Subscribed.SubscriptionID
		o.announced[id] = true
		released := o.held[id]
		delete(o.held, id)
		for i, ev := range released {
			if ev.Err != nil {
				o.end(id)
				return released[:i+1]
			}
		}
		return released
	case f.Unsubscribed != nil:
		o.end(f.Unsubscribed.SubscriptionID)
	}
	return nil
}

func (o *eventOrder) end(id string) {
	delete(o.announced, id)
	delete(o.held, id)
	o.ended[id] = true
}

// deliver reports whether ev can be written now; otherwise it is held or,
// for an ended subscription, dropped.
func (o *eventOrder) deliver(ev notify.Event) bool {
	switch {
	case o.announced[ev.SubscriptionID]:
		if ev.Err != nil {
			o.end(ev.SubscriptionID)
		}
		return true
	case o.ended[ev.SubscriptionID]:
		return false
	}
	o.held[ev.SubscriptionID] = append(o.held[ev.SubscriptionID], ev)
	return false
}

func (c *connection) write(f serverFrame) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
	if err := c.conn.WriteJSON(f); err != nil {
		c.logger.Debug("Write failed", "error", err)
		c.close()
		return false
	}
	return true
}

func eventFrame(ev notify.Event) serverFrame {
	if ev.Notification != nil {
		return serverFrame{Notification: ev.Notification}
	}
	body := errorResponse(ev.Err)
	body.SubscriptionID = ev.SubscriptionID
	return serverFrame{Error: &body}
}

// finish releases everything the connection owns
func (c *connection) finish() {
	c.cancel()
	removed := c.server.sessions.UnregisterSession(c.session)
	c.close()
	_ = c.sink.Close()
	c.server.untrackConnection(c)
	c.logger.Debug("Subscription connection closed", "subscriptions_removed", removed)
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
