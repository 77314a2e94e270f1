package websocket

import (
	"fmt"
	"math"
	"regexp"
	"sync"

	"bedtime-sketch/core"
	"bedtime-sketch/session"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// Registry is the part of session.Registry the socket layer uses.
type Registry interface {
	Get(id string) (*session.Session, error)
	Close(id string) error
}

var (
	connected      = make(map[string]int)
	connectedMutex sync.RWMutex
)

// ConnectedSessions returns the number of sockets joined to each session.
func ConnectedSessions() map[string]int {
	connectedMutex.RLock()
	defer connectedMutex.RUnlock()

	out := make(map[string]int, len(connected))
	for k, v := range connected {
		out[k] = v
	}
	return out
}

// SetupSocketIO wires pointer events from the browser into sessions and pushes
// notifications, dirty state, submission progress and stories back to the session room.
func SetupSocketIO(reg Registry) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	localhostOrigin := regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)
	opts.SetCors(&types.Cors{
		Origin:      []any{localhostOrigin},
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		c := &client{srv: srv, reg: reg, socket: socket}
		c.log = logrus.WithField("socket_id", socket.Id())
		c.log.Debug("Socket connected")

		socket.On("join-session", c.handleJoin)
		socket.On("pointer-down", c.withPoint(func(s *session.Session, p core.Point) { s.PointerDown(p) }))
		socket.On("pointer-move", c.withPoint(func(s *session.Session, p core.Point) { s.PointerMove(p) }))
		socket.On("pointer-up", c.withSession(func(s *session.Session, _ ackInvoker) { s.PointerUp() }))
		socket.On("pointer-leave", c.withSession(func(s *session.Session, _ ackInvoker) { s.PointerLeave() }))
		socket.On("clear", c.withSession(func(s *session.Session, ack ackInvoker) {
			s.Clear()
			respond(c.socket, ack, "", okPayload(nil), nil)
		}))
		socket.On("toggle-theme", c.withSession(func(s *session.Session, ack ackInvoker) {
			theme := s.ToggleTheme()
			respond(c.socket, ack, "theme", okPayload(map[string]any{"theme": string(theme)}), nil)
		}))
		socket.On("submit", c.withSession(func(s *session.Session, ack ackInvoker) {
			accepted := s.Submit()
			respond(c.socket, ack, "", okPayload(map[string]any{
				"accepted": accepted,
				"state":    s.Status().State.String(),
			}), nil)
		}))

		socket.On("disconnecting", func(...any) { c.leave() })
		socket.On("disconnect", func(...any) {
			socket.RemoveAllListeners("")
			c.log.Debug("Socket disconnected")
		})
	})

	return srv
}

// client is the per-socket state: the session it joined, if any.
type client struct {
	srv    *socketio.Server
	reg    Registry
	socket *socketio.Socket
	log    *logrus.Entry

	mu        sync.Mutex
	sessionID string
}

func (c *client) handleJoin(datas ...any) {
	ack, args := extractAck(datas)
	if len(args) == 0 {
		err := fmt.Errorf("session id is required")
		respond(c.socket, ack, "join-session-ack", errorPayload(err), err)
		return
	}
	id, ok := args[0].(string)
	if !ok || id == "" {
		err := fmt.Errorf("invalid session id")
		respond(c.socket, ack, "join-session-ack", errorPayload(err), err)
		return
	}

	s, err := c.reg.Get(id)
	if err != nil {
		respond(c.socket, ack, "join-session-ack", errorPayload(err), err)
		return
	}

	c.mu.Lock()
	previous := c.sessionID
	c.sessionID = id
	c.mu.Unlock()
	if previous != "" && previous != id {
		c.socket.Leave(socketio.Room(previous))
		decrementConnected(previous)
	}

	room := socketio.Room(id)
	c.socket.Join(room)
	s.SetListener(&roomListener{srv: c.srv, room: room})
	if previous != id {
		incrementConnected(id)
	}

	c.log.WithField("session_id", id).Info("Socket joined session")
	status := s.Status()
	respond(c.socket, ack, "join-session-ack", okPayload(map[string]any{
		"id":         status.ID,
		"hasDrawing": status.HasDrawing,
		"state":      status.State.String(),
		"theme":      string(status.Theme),
	}), nil)
}

func (c *client) current() (*session.Session, error) {
	c.mu.Lock()
	id := c.sessionID
	c.mu.Unlock()
	if id == "" {
		return nil, fmt.Errorf("join a session first")
	}
	return c.reg.Get(id)
}

func (c *client) withSession(fn func(s *session.Session, ack ackInvoker)) func(...any) {
	return func(datas ...any) {
		ack, _ := extractAck(datas)
		s, err := c.current()
		if err != nil {
			respond(c.socket, ack, "", errorPayload(err), err)
			return
		}
		fn(s, ack)
	}
}

func (c *client) withPoint(fn func(s *session.Session, p core.Point)) func(...any) {
	return func(datas ...any) {
		ack, args := extractAck(datas)
		s, err := c.current()
		if err != nil {
			respond(c.socket, ack, "", errorPayload(err), err)
			return
		}
		if len(args) == 0 {
			return
		}
		p, err := parsePoint(args[0])
		if err != nil {
			c.log.WithError(err).Debug("Dropping malformed pointer event")
			return
		}
		fn(s, p)
	}
}

// leave runs while the socket still knows its rooms. The session is torn down
// once its last socket is gone.
func (c *client) leave() {
	c.mu.Lock()
	id := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()
	if id == "" {
		return
	}

	if remaining := decrementConnected(id); remaining > 0 {
		return
	}
	if err := c.reg.Close(id); err != nil {
		c.log.WithError(err).WithField("session_id", id).Debug("Session already closed")
		return
	}
	c.log.WithField("session_id", id).Info("Last socket left, session closed")
}

func incrementConnected(id string) int {
	connectedMutex.Lock()
	defer connectedMutex.Unlock()

	connected[id]++
	return connected[id]
}

func decrementConnected(id string) int {
	connectedMutex.Lock()
	defer connectedMutex.Unlock()

	connected[id]--
	n := connected[id]
	if n <= 0 {
		delete(connected, id)
	}
	return n
}

// parsePoint reads {x, y} as decoded from the socket JSON.
func parsePoint(v any) (core.Point, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return core.Point{}, fmt.Errorf("point must be an object, got %T", v)
	}
	x, okX := toFloat(m["x"])
	y, okY := toFloat(m["y"])
	if !okX || !okY {
		return core.Point{}, fmt.Errorf("point needs numeric x and y")
	}
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return core.Point{}, fmt.Errorf("point must be finite")
	}
	return core.Point{X: x, Y: y}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
