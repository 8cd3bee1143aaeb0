package realtime

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeTimeout = 10 * time.Second

// Broker fans pipeline events (run lifecycle, new briefs) out to
// connected clients, over WebSocket or SSE.
type Broker struct {
	clients    map[chan []byte]bool
	register   chan chan []byte
	unregister chan chan []byte
	broadcast  chan []byte
	mu         sync.RWMutex
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		clients:    make(map[chan []byte]bool),
		register:   make(chan chan []byte),
		unregister: make(chan chan []byte),
		broadcast:  make(chan []byte, 1000),
	}
}

// Run starts the broker loop
func (b *Broker) Run() {
	for {
		select {
		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			b.mu.Unlock()
			log.Printf("Event client connected. Total: %d", len(b.clients))

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				close(client)
				log.Printf("Event client disconnected. Total: %d", len(b.clients))
			}
			b.mu.Unlock()

		case msg := <-b.broadcast:
			b.mu.RLock()
			for client := range b.clients {
				select {
				case client <- msg:
				default:
					// Skip if client buffer is full to prevent blocking
				}
			}
			b.mu.RUnlock()
		}
	}
}

// ServeWS upgrades the request and streams events over WebSocket.
func (b *Broker) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	clientChan := make(chan []byte, 10)
	b.register <- clientChan

	// Drain reads so close frames and pings are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				b.unregister <- clientChan
				conn.Close()
				return
			}
		}
	}()

	for msg := range clientChan {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			b.unregister <- clientChan
			conn.Close()
			return
		}
	}
	conn.Close()
}

// ServeHTTP handles the SSE endpoint
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	clientChan := make(chan []byte, 10)
	b.register <- clientChan

	notify := r.Context().Done()

	for {
		select {
		case <-notify:
			b.unregister <- clientChan
			return
		case msg, ok := <-clientChan:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			w.(http.Flusher).Flush()
		}
	}
}

// Broadcast sends a message to all connected clients
func (b *Broker) Broadcast(event string, payload interface{}) {
	data := map[string]interface{}{
		"event":   event,
		"payload": payload,
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		log.Printf("Error marshalling broadcast message: %v", err)
		return
	}

	b.enqueue(jsonBytes)
}

func (b *Broker) enqueue(msg []byte) {
	select {
	case b.broadcast <- msg:
	default:
		// Drop if broadcast buffer full
	}
}

// Publish implements the pipeline's event sink.
func (b *Broker) Publish(event string, payload interface{}) {
	b.Broadcast(event, payload)
}
