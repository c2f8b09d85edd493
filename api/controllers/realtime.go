package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/angelmondragon/fulfillment-backend/api/responses"
	"github.com/angelmondragon/fulfillment-backend/internal/orders"
	"github.com/angelmondragon/fulfillment-backend/internal/realtime"
	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

const (
	outboundBuffer   = 32
	maxClientMessage = 4096

	eventError   = "error"
	eventWatched = "watched"

	actionWatch   = "watch"
	actionUnwatch = "unwatch"
)

// RealtimeSession is the per-connection subscription set.
type RealtimeSession interface {
	Open(ctx context.Context, handler realtime.Handler) error
	WatchOrder(ctx context.Context, orderID uuid.UUID, handler realtime.Handler) error
	Unwatch(key string)
	Close()
}

type SessionFactory func(userID uuid.UUID, role enums.ActorRole) RealtimeSession

// OrderViewer gates which orders a connection may watch.
type OrderViewer interface {
	Get(ctx context.Context, orderID uuid.UUID, actor orders.Actor) (*models.Order, error)
}

type clientMessage struct {
	Action  string    `json:"action"`
	OrderID uuid.UUID `json:"order_id"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// RealtimeSocket upgrades the request and streams the caller's notification
// events, plus driver claim queue changes for drivers. Clients send
// {"action":"watch","order_id":...} to follow an order they can see.
func RealtimeSocket(newSession SessionFactory, viewer OrderViewer, cfg config.RealtimeConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if newSession == nil || viewer == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "realtime unavailable"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			if logg != nil {
				logg.Warn(r.Context(), "websocket upgrade failed")
			}
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		sc := &socketConn{
			conn:   conn,
			cfg:    cfg,
			logg:   logg,
			viewer: viewer,
			actor:  actor,
			out:    make(chan realtime.Event, outboundBuffer),
		}
		session := newSession(actor.ID, actor.Role)
		defer func() {
			cancel()
			session.Close()
			sc.wg.Wait()
			_ = conn.Close()
		}()

		if err := session.Open(ctx, sc.enqueue); err != nil {
			sc.writeFailure(err)
			return
		}
		sc.wg.Add(1)
		go sc.writePump(ctx)
		sc.readPump(ctx, session)
	}
}

type socketConn struct {
	conn   *websocket.Conn
	cfg    config.RealtimeConfig
	logg   *logger.Logger
	viewer OrderViewer
	actor  orders.Actor
	out    chan realtime.Event
	wg     sync.WaitGroup
}

// enqueue drops the event when the client is not keeping up.
func (c *socketConn) enqueue(ctx context.Context, evt realtime.Event) {
	select {
	case c.out <- evt:
	case <-ctx.Done():
	default:
		if c.logg != nil {
			c.logg.Warn(c.logg.WithField(ctx, "event_type", evt.Type), "realtime client too slow, event dropped")
		}
	}
}

func (c *socketConn) readPump(ctx context.Context, session RealtimeSession) {
	c.conn.SetReadLimit(maxClientMessage)
	pongWait := c.pongWait()
	if pongWait > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reportError(ctx, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed message"))
			continue
		}
		switch msg.Action {
		case actionWatch:
			c.watch(ctx, session, msg.OrderID)
		case actionUnwatch:
			session.Unwatch(realtime.OrderWatchKey(msg.OrderID))
		default:
			c.reportError(ctx, nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown action"))
		}
	}
}

func (c *socketConn) watch(ctx context.Context, session RealtimeSession, orderID uuid.UUID) {
	order, err := c.viewer.Get(ctx, orderID, c.actor)
	if err != nil {
		c.reportError(ctx, &orderID, err)
		return
	}
	if err := session.WatchOrder(ctx, orderID, c.enqueue); err != nil {
		c.reportError(ctx, &orderID, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "watch order"))
		return
	}
	c.enqueue(ctx, realtime.Event{
		Type:    eventWatched,
		OrderID: &orderID,
		Status:  order.Status,
		SentAt:  time.Now().UTC(),
	})
}

func (c *socketConn) writePump(ctx context.Context) {
	defer c.wg.Done()
	var pings <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), c.deadline())
			return
		case evt := <-c.out:
			_ = c.conn.SetWriteDeadline(c.deadline())
			if err := c.conn.WriteJSON(evt); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-pings:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, c.deadline()); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

// reportError queues err for the client as an error event.
func (c *socketConn) reportError(ctx context.Context, orderID *uuid.UUID, err error) {
	evt, mErr := errorEvent(orderID, err)
	if mErr != nil {
		if c.logg != nil {
			c.logg.Error(ctx, "encode realtime error event", mErr)
		}
		return
	}
	c.enqueue(ctx, evt)
}

func (c *socketConn) writeFailure(err error) {
	evt, mErr := errorEvent(nil, err)
	if mErr != nil {
		return
	}
	_ = c.conn.SetWriteDeadline(c.deadline())
	_ = c.conn.WriteJSON(evt)
}

func (c *socketConn) deadline() time.Time {
	timeout := c.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return time.Now().Add(timeout)
}

func (c *socketConn) pongWait() time.Duration {
	if c.cfg.PingInterval <= 0 {
		return 0
	}
	return c.cfg.PingInterval * 2
}

func errorEvent(orderID *uuid.UUID, err error) (realtime.Event, error) {
	payload, mErr := json.Marshal(pkgerrors.ResultOf(err))
	if mErr != nil {
		return realtime.Event{}, fmt.Errorf("marshal error result: %w", mErr)
	}
	return realtime.Event{
		Type:    eventError,
		OrderID: orderID,
		Payload: payload,
		SentAt:  time.Now().UTC(),
	}, nil
}
