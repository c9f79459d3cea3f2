package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RakeshDevCode/Algotradepro/internal/model"
)

// Client represents a single browser WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Instrument keys this client follows. A client that never sent
	// SUBSCRIBE follows everything.
	subMu     sync.RWMutex
	followAll bool
	subs      map[string]bool
}

func (c *Client) wants(key string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.followAll || c.subs[key]
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		c.hub.log.Info("ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var base struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch base.Type {
		case "SUBSCRIBE":
			var sub SubscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				c.sendError("", "invalid SUBSCRIBE: "+err.Error())
				continue
			}
			go c.handleSubscribe(sub)

		case "UNSUBSCRIBE":
			var unsub UnsubscribeMsg
			if err := json.Unmarshal(msg, &unsub); err != nil {
				c.sendError("", "invalid UNSUBSCRIBE: "+err.Error())
				continue
			}
			c.handleUnsubscribe(unsub)

		default:
			if base.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      base.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				c.enqueue(pong)
			}
		}
	}
}

// handleSubscribe follows the instruments, asks the aggregator to watch
// them and replies with a snapshot.
func (c *Client) handleSubscribe(msg SubscribeMsg) {
	list, err := model.ParseInstrumentList(strings.Join(msg.Instruments, ","))
	if len(list) == 0 {
		reason := "instruments are required"
		if err != nil {
			reason = err.Error()
		}
		c.sendError(msg.ReqID, reason)
		return
	}

	c.subMu.Lock()
	c.followAll = false
	for _, inst := range list {
		c.subs[inst.Key()] = true
	}
	c.subMu.Unlock()

	if err := c.hub.svc.Watch(list); err != nil {
		c.hub.log.Warn("watch failed", "instruments", len(list), "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap := c.hub.svc.GetSnapshot(ctx, list, msg.Refresh)

	c.sendJSON(SnapshotResponse{Type: "SNAPSHOT", ReqID: msg.ReqID, Snapshot: snap})
	c.hub.log.Debug("client subscribed", "instruments", len(list))
}

// handleUnsubscribe stops delivery for the listed instruments. The feed
// subscription stays; the server protocol has no unsubscribe. Unsubscribing
// everything leaves the client following nothing. Valid entries are applied
// even when others are rejected.
func (c *Client) handleUnsubscribe(msg UnsubscribeMsg) {
	list, err := model.ParseInstrumentList(strings.Join(msg.Instruments, ","))
	if len(list) > 0 {
		c.subMu.Lock()
		c.followAll = false
		for _, inst := range list {
			delete(c.subs, inst.Key())
		}
		c.subMu.Unlock()
	}
	switch {
	case err != nil:
		c.sendError(msg.ReqID, err.Error())
	case len(list) == 0:
		c.sendError(msg.ReqID, "instruments are required")
	}
}

func (c *Client) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.hub.log.Error("json marshal failed", "error", err)
		return
	}
	c.enqueue(data)
}

func (c *Client) sendError(reqID, msg string) {
	c.sendJSON(ErrorResponse{Type: "ERROR", ReqID: reqID, Error: msg})
}

// enqueue drops the message when the client is slow or already removed.
func (c *Client) enqueue(data []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.log.Warn("client send buffer full, dropping message")
	}
}
