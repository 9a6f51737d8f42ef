// Package broadcast fans new heads out to live subscribers over a
// websocket server (spec §6 "Broadcaster"): a single topic named
// "broadcast", one JSON message per new head. The assembler only
// depends on the Broadcaster interface; Hub is the one concrete
// websocket implementation this module ships.
package broadcast

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

const topic = "broadcast"

// Head is the JSON shape published for every new head (spec §6);
// hex-valued fields are 0x-prefixed and lowercase, and the numeric
// quantities built with HexUint (GasUsed, Number, Timestamp) are
// minimal (no leading zeros beyond a single "0").
type Head struct {
	ParentHash       string `json:"parentHash"`
	ExtraData        string `json:"extraData"`
	ReceiptsRoot     string `json:"receiptsRoot"`
	TransactionsRoot string `json:"transactionsRoot"`
	GasUsed          string `json:"gasUsed"`
	LogsBloom        string `json:"logsBloom"`
	Number           string `json:"number"`
	Timestamp        string `json:"timestamp"`
}

// HexUint renders n as the minimal-hex, 0x-prefixed string the wire
// format uses for Number/Timestamp.
func HexUint(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}

type message struct {
	Type string `json:"type"`
	Data Head   `json:"data"`
}

// Broadcaster is the hook the assembler publishes new heads through;
// it is the only contract this module specifies for the live
// subscriber surface (spec §6).
type Broadcaster interface {
	PublishHead(head Head)
}

var _ Broadcaster = (*Hub)(nil)

// Hub upgrades every connection to /broadcast and fans out PublishHead
// calls to each. A slow or dead subscriber never blocks the others:
// each has its own bounded outbound channel, and a full channel drops
// that subscriber rather than backing up the publisher.
type Hub struct {
	logger   hclog.Logger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger hclog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		subscribers: map[*subscriber]struct{}{},
	}
}

// ServeHTTP upgrades the connection and registers it as a subscriber
// to topic. Any path may be mounted to it; the topic is conveyed in
// the message envelope, not the URL.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("broadcast: upgrade failed", "err", err)

		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, 16)}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	go h.writePump(sub)
	go h.readPump(sub) // drains and discards; subscribers never send us anything
}

// ListenAndServe starts an HTTP server that only serves the hub.
func (h *Hub) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, h) //nolint:gosec // dev/local broadcaster, no external TLS requirement here
}

func (h *Hub) readPump(sub *subscriber) {
	defer h.remove(sub)

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(sub *subscriber) {
	defer sub.conn.Close()

	for payload := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck

		if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.remove(sub)

			return
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
}

// PublishHead sends {type:"head", data: head} to every current
// subscriber.
func (h *Hub) PublishHead(head Head) {
	payload, err := json.Marshal(message{Type: "head", Data: head})
	if err != nil {
		h.logger.Error("broadcast: marshalling head", "err", err)

		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subscribers {
		select {
		case sub.send <- payload:
		default:
			h.logger.Warn("broadcast: dropping slow subscriber")
			delete(h.subscribers, sub)
			close(sub.send)
		}
	}
}

// Topic is exported for logging/metrics call sites that want to name
// it without hardcoding the string again.
func Topic() string { return topic }
