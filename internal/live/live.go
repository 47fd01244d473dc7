package live

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/logging"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/EdwinCycling/MaaltijdPlus/internal/maaltijd"
	"github.com/EdwinCycling/MaaltijdPlus/pkg/gopool"
	"github.com/EdwinCycling/MaaltijdPlus/tools"
	"github.com/EdwinCycling/MaaltijdPlus/tools/metrics"
)

var lep = logging.Entry{Severity: logging.Notice, Payload: ""}

// code-words given as names to the feed clients
var codewords = []string{
	"basilicum", "saffraan", "rozemarijn", "dragon", "kaneel",
	"kardemom", "laurier", "salie", "tijm", "venkel", "gember",
	"nootmuskaat", "oregano", "peterselie", "koriander", "foelie",
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 50 * time.Second
)

// Client is one connected feed consumer.
type Client struct {
	id    uint
	name  string
	IP    string
	wsc   *websocket.Conn
	msgwt chan []byte
	done  chan struct{}
	lgr   *log.Logger
}

func (c *Client) Name() string {
	return c.name
}

// writePump sends the broadcast messages and the keep-alive pings
// until the connection dies or the client is removed.
func (c *Client) writePump() error {

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.msgwt:
			if !ok {
				return nil
			}
			_ = c.wsc.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.wsc.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.wsc.WriteControl(websocket.PingMessage, []byte(`"ping"`), time.Now().Add(writeWait)); err != nil {
				return err
			}
		case <-c.done:
			return nil
		}
	}
}

// readPump drains the inbound side. The feed is one-way, reading only
// surfaces close and control frames.
func (c *Client) readPump() error {

	c.wsc.SetReadLimit(512)

	for {
		if _, _, err := c.wsc.ReadMessage(); err != nil {
			return err
		}
	}
}

// Hub is a global object living over the entire service life-cycle.
// It manages the connected feed clients and broadcasts every stored
// meal to them.
type Hub struct {
	mu    sync.Mutex
	seq   uint
	names map[string]bool
	ns    sync.Map
	feed  chan *maaltijd.Meal
	pool  *gopool.Pool
	clgr  *logging.Logger
	hlgr  *log.Logger
}

func NewHub(pool *gopool.Pool, clgr *logging.Logger, hlgr *log.Logger) *Hub {

	h := &Hub{
		names: make(map[string]bool),
		feed:  make(chan *maaltijd.Meal, 100),
		pool:  pool,
		clgr:  clgr,
		hlgr:  hlgr,
	}

	// receives new meal records to broadcast among the feed clients
	go h.broadcaster()

	return h
}

// Register wires an upgraded websocket connection into the hub and
// schedules its pumps on the worker pool.
func (h *Hub) Register(conn *websocket.Conn, ip string) *Client {

	tools.IPCount.Add(ip)

	client := &Client{
		IP:    ip,
		wsc:   conn,
		msgwt: make(chan []byte, 20),
		done:  make(chan struct{}),
		lgr: &log.Logger{
			Out:   os.Stdout,
			Level: log.InfoLevel,
			Formatter: &log.JSONFormatter{
				DisableTimestamp:  true,
				DisableHTMLEscape: true,
			},
		},
	}

	h.mu.Lock()
	client.id = h.seq
	client.name = h.randName()
	h.seq++
	h.mu.Unlock()

	h.ns.Store(client.id, client)

	h.hlgr.Infof("[live] client from [%v] registered as [%v]", ip, client.name)

	if h.clgr != nil {
		e := lep
		e.Payload = fmt.Sprintf(`{"client":%d, "IP":"%s", "name":"%s", "active_clients":%d, "ts":%d}`,
			client.id, client.IP, client.name, h.Len(), time.Now().Unix())
		h.clgr.Log(e)
	}

	metrics.ChLiveClients <- h.Len()
	tip, conns := tools.IPCount.TopIP()
	if tip != "" {
		metrics.ChTopDemandingIP <- map[string]int{tip: conns}
	}

	h.pool.Schedule(func() {
		defer h.Remove(client)
		if err := client.writePump(); err != nil {
			client.lgr.Debugf("[live] client %s write loop ended: %v", client.name, err)
		}
	})

	go func() {
		defer h.Remove(client)
		if err := client.readPump(); err != nil {
			client.lgr.Debugf("[live] client %s closed the connection: %v", client.name, err)
		}
	}()

	return client
}

// Remove releases the client's resources. Safe to call more than
// once, only the first call tears the connection down.
func (h *Hub) Remove(client *Client) {

	if client == nil {
		return
	}
	if _, loaded := h.ns.LoadAndDelete(client.id); !loaded {
		return
	}

	close(client.done)
	_ = client.wsc.Close()

	h.mu.Lock()
	delete(h.names, client.name)
	h.mu.Unlock()

	tools.IPCount.Remove(client.IP)
	metrics.ChLiveClients <- h.Len()

	h.hlgr.Infof("[live] client [%v] from [%v] removed", client.name, client.IP)
}

// Broadcast queues a meal for delivery to all connected clients.
func (h *Hub) Broadcast(m *maaltijd.Meal) {
	select {
	case h.feed <- m:
	default:
		h.hlgr.Warn("[live] broadcast queue is full, dropping the update")
	}
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	n := 0
	h.ns.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Close tears down all connected clients.
func (h *Hub) Close() {
	h.ns.Range(func(_, value interface{}) bool {
		h.Remove(value.(*Client))
		return true
	})
}

// broadcaster marshals each meal once and fans it out. A client that
// cannot keep up misses the update instead of blocking the feed.
func (h *Hub) broadcaster() {

	for m := range h.feed {

		raw, err := json.Marshal(m)
		if err != nil {
			h.hlgr.Errorf("[live] unable to marshal meal %s. error: %v", m.ID, err)
			continue
		}

		h.ns.Range(func(_, value interface{}) bool {
			client := value.(*Client)
			select {
			case client.msgwt <- raw:
			default:
				h.hlgr.Warnf("[live] client %s is lagging, update dropped", client.name)
			}
			return true
		})
	}
}

// Give a code-word as name to the client connection
func (h *Hub) randName() string {
	var suffix string
	for {
		name := codewords[rand.Intn(len(codewords))] + suffix
		if !h.names[name] {
			h.names[name] = true
			return name
		}
		suffix += strconv.Itoa(rand.Intn(10))
	}
}
