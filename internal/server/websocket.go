package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/camrelay/camrelay/internal/relay"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

var (
	// ErrPeerClosed is returned by Client.Send after the connection has gone away.
	ErrPeerClosed = errors.New("server: peer closed")
	// ErrSendBufferFull is returned when a slow peer's outbound queue is full.
	ErrSendBufferFull = errors.New("server: send buffer full")
)

type outboundMessage struct {
	messageType int
	payload     []byte
}

// Client is one WebSocket connection. It implements relay.Peer.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan outboundMessage
	server *Server

	mu     sync.Mutex
	closed bool
}

// ID returns the connection id assigned at upgrade time.
func (c *Client) ID() string {
	return c.id
}

// Send queues msg for the write pump. It never blocks: when the queue is
// full the message is rejected with ErrSendBufferFull.
func (c *Client) Send(msg relay.Message) error {
	out := outboundMessage{messageType: websocket.BinaryMessage, payload: msg.Binary}
	if !msg.IsBinary() {
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		out = outboundMessage{messageType: websocket.TextMessage, payload: payload}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrPeerClosed
	}

	select {
	case c.send <- out:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Options configure the WebSocket server.
type Options struct {
	// MaxMessageBytes bounds a single inbound message; zero means unlimited.
	MaxMessageBytes int64
	// OriginAllowed validates the Origin header on upgrade requests. Nil accepts any origin.
	OriginAllowed func(string) bool
}

// Server manages WebSocket connections and hands their traffic to the supervisor.
type Server struct {
	supervisor *relay.Supervisor
	opts       Options
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	upgrader   websocket.Upgrader
	mu         sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new WebSocket server.
func NewServer(supervisor *relay.Supervisor, opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		supervisor: supervisor,
		opts:       opts,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || opts.OriginAllowed == nil {
					return true
				}
				return opts.OriginAllowed(origin)
			},
		},
	}
}

// GetClientCount returns the number of connected clients (thread-safe)
func (s *Server) GetClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Run starts the WebSocket server event loop. It returns after Close.
func (s *Server) Run() {
	for {
		select {
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			s.mu.Unlock()

		case client := <-s.unregister:
			s.removeClient(client)

		case <-s.ctx.Done():
			return
		}
	}
}

// Close stops the event loop and closes every open connection. Each
// connection's read pump then reports its disconnect to the supervisor.
func (s *Server) Close() {
	s.cancel()

	s.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for client := range s.clients {
		conns = append(conns, client.conn)
	}
	s.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (s *Server) removeClient(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
	}
	client.closeSend()
}

func (s *Server) unregisterClient(client *Client) {
	select {
	case s.unregister <- client:
	case <-s.ctx.Done():
		s.removeClient(client)
	}
}

// HandleWebSocket handles WebSocket connection upgrades
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] upgrade error: %v", err)
		return
	}

	client := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan outboundMessage, sendBufferSize),
		server: s,
	}

	select {
	case s.register <- client:
	case <-s.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump reads messages from the WebSocket connection. It is the only
// goroutine handling this client's inbound traffic, which keeps
// per-connection ordering.
func (c *Client) readPump() {
	sup := c.server.supervisor
	sess := sup.Connect(c)

	defer func() {
		sup.Disconnect(sess)
		c.server.unregisterClient(c)
		c.conn.Close()
	}()

	if c.server.opts.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(c.server.opts.MaxMessageBytes)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("[WebSocket] connection %s read error: %v", c.id, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch messageType {
		case websocket.BinaryMessage:
			if message == nil {
				message = []byte{}
			}
			sup.Handle(c.server.ctx, sess, relay.Message{Type: relay.TypeStream, Binary: message})

		case websocket.TextMessage:
			var msg relay.Message
			if err := json.Unmarshal(message, &msg); err != nil {
				log.Printf("[WebSocket] connection %s sent malformed message: %v", c.id, err)
				continue
			}
			sup.Handle(c.server.ctx, sess, msg)
		}
	}
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.messageType, message.payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
