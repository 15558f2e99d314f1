// Package ws WebSocket 行情推送
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fracshare/trading/internal/metrics"
	"github.com/fracshare/trading/pkg/logger"
)

// Config 服务配置
type Config struct {
	AllowedOrigins          []string
	MaxSubscriptionsPerConn int
}

// Server 订单簿推送服务器。客户端订阅 book.<productId> 频道，
// 引擎每次簿变更后通过 Publish 推送聚合快照。
type Server struct {
	log *logger.Logger
	cfg Config

	mu      sync.RWMutex
	clients map[*client]struct{}
	subs    map[string]map[*client]struct{}

	upgrader websocket.Upgrader
}

type client struct {
	conn      *websocket.Conn
	server    *Server
	channels  map[string]struct{}
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
}

// NewServer 创建服务器
func NewServer(log *logger.Logger, cfg Config) *Server {
	if cfg.MaxSubscriptionsPerConn <= 0 {
		cfg.MaxSubscriptionsPerConn = 50
	}
	s := &Server{
		log:     log,
		cfg:     cfg,
		clients: make(map[*client]struct{}),
		subs:    make(map[string]map[*client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return allowOrigin(r, s.cfg.AllowedOrigins)
		},
	}
	return s
}

// HandleWS 处理 WebSocket 连接
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("ws upgrade failed")
		return
	}

	c := &client{
		conn:     conn,
		server:   s,
		channels: make(map[string]struct{}),
		send:     make(chan []byte, 256),
		closed:   make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	metrics.SetWSClients(len(s.clients))
	s.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

type wsRequest struct {
	Op      string `json:"op"`
	Channel string `json:"channel"`
}

type wsResponse struct {
	Op      string      `json:"op,omitempty"`
	Channel string      `json:"channel,omitempty"`
	Success bool        `json:"success,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (c *client) readPump() {
	defer func() {
		c.close()
		c.server.removeClient(c)
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var req wsRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.sendError("invalid request")
			continue
		}

		switch req.Op {
		case "subscribe":
			c.subscribe(req.Channel)
		case "unsubscribe":
			c.unsubscribe(req.Channel)
		case "ping":
			c.sendResponse(&wsResponse{Op: "pong"})
		default:
			c.sendError("unknown op")
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := ParseBookChannel(channel); err != nil {
		c.sendError(err.Error())
		return
	}
	if len(c.channels) >= c.server.cfg.MaxSubscriptionsPerConn {
		c.sendError("too many subscriptions")
		return
	}

	if _, exists := c.channels[channel]; !exists {
		c.channels[channel] = struct{}{}
		c.server.addSub(channel, c)
	}
	c.sendResponse(&wsResponse{Op: "subscribe", Channel: channel, Success: true})
}

func (c *client) unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.channels[channel]; exists {
		delete(c.channels, channel)
		c.server.dropSub(channel, c)
	}
	c.sendResponse(&wsResponse{Op: "unsubscribe", Channel: channel, Success: true})
}

func (c *client) sendResponse(resp *wsResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *client) sendError(msg string) {
	c.sendResponse(&wsResponse{Error: msg})
}

func (c *client) trySend(data []byte) {
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (s *Server) addSub(channel string, c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.subs[channel]
	if !ok {
		set = make(map[*client]struct{})
		s.subs[channel] = set
	}
	set[c] = struct{}{}
}

func (s *Server) dropSub(channel string, c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.subs[channel]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(s.subs, channel)
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	metrics.SetWSClients(len(s.clients))

	c.mu.Lock()
	for channel := range c.channels {
		if set, ok := s.subs[channel]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(s.subs, channel)
			}
		}
	}
	c.mu.Unlock()

	c.close()
}

// Publish 向频道订阅者推送数据
func (s *Server) Publish(channel string, data interface{}) {
	payload, err := json.Marshal(&wsResponse{Channel: channel, Data: data})
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.subs[channel] {
		c.trySend(payload)
	}
}

// ClientCount 连接数
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// CloseAll 关闭全部连接
func (s *Server) CloseAll() {
	s.mu.RLock()
	conns := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
}

// Run 独立端口运行推送服务
func (s *Server) Run(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.CloseAll()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Infof("websocket server listening", map[string]interface{}{"addr": addr})
	return server.ListenAndServe()
}

// BookChannel 产品对应的频道名
func BookChannel(productID int64) string {
	return "book." + strconv.FormatInt(productID, 10)
}

// ParseBookChannel 校验并解析 book.<productId> 频道
func ParseBookChannel(channel string) (int64, error) {
	parts := strings.Split(channel, ".")
	if len(parts) != 2 || parts[0] != "book" {
		return 0, fmt.Errorf("invalid channel")
	}
	productID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || productID <= 0 {
		return 0, fmt.Errorf("invalid product id")
	}
	return productID, nil
}

func allowOrigin(r *http.Request, allowed []string) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		// Non-browser clients usually don't send Origin.
		return true
	}
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
