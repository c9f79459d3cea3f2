package feed

import (
	"encoding/json"
	"fmt"

	"github.com/RakeshDevCode/Algotradepro/internal/model"
)

// MaxInstrumentsPerMessage caps the instrument list of one subscribe request.
const MaxInstrumentsPerMessage = 100

type subscribeRequest struct {
	RequestCode     int               `json:"RequestCode"`
	InstrumentCount int               `json:"InstrumentCount"`
	InstrumentList  []instrumentEntry `json:"InstrumentList"`
}

type instrumentEntry struct {
	ExchangeSegment string `json:"ExchangeSegment"`
	SecurityID      string `json:"SecurityId"`
}

// SubscribeToInstruments asks the server to stream list, in batches of at most
// MaxInstrumentsPerMessage. Without a live connection nothing is sent and
// ErrNotConnected is returned.
func (c *Client) SubscribeToInstruments(list []model.Instrument) error {
	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		state := c.state
		c.mu.Unlock()
		c.log.Warn("subscribe skipped, feed not connected", "state", state.String(), "instruments", len(list))
		return ErrNotConnected
	}
	conn := c.conn
	for _, inst := range list {
		if !c.subKeys[inst.Key()] {
			c.subKeys[inst.Key()] = true
			c.subscribed = append(c.subscribed, inst)
		}
	}
	c.mu.Unlock()

	return c.sendSubscriptions(conn, list)
}

func (c *Client) sendSubscriptions(conn Transport, list []model.Instrument) error {
	for start := 0; start < len(list); start += MaxInstrumentsPerMessage {
		end := start + MaxInstrumentsPerMessage
		if end > len(list) {
			end = len(list)
		}
		batch := list[start:end]
		req := subscribeRequest{
			RequestCode:     RequestSubscribe,
			InstrumentCount: len(batch),
			InstrumentList:  make([]instrumentEntry, len(batch)),
		}
		for i, inst := range batch {
			req.InstrumentList[i] = instrumentEntry{
				ExchangeSegment: string(inst.Segment),
				SecurityID:      inst.SecurityID,
			}
		}
		msg, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("feed: encode subscribe: %w", err)
		}
		if err := c.write(conn, msg); err != nil {
			return fmt.Errorf("%w: subscribe: %v", ErrTransport, err)
		}
		c.log.Debug("subscribe sent", "count", len(batch))
	}
	return nil
}

// Subscribe registers cb for ticks of securityID. A later registration for
// the same id replaces the earlier one.
func (c *Client) Subscribe(securityID string, cb func(model.Tick)) {
	c.mu.Lock()
	c.callbacks[securityID] = cb
	c.mu.Unlock()
}

// Unsubscribe drops the local callback for securityID. The server keeps
// streaming; such ticks are discarded.
func (c *Client) Unsubscribe(securityID string) {
	c.mu.Lock()
	delete(c.callbacks, securityID)
	c.mu.Unlock()
}

// SubscribedInstruments lists what was sent to the server since the last connect.
func (c *Client) SubscribedInstruments() []model.Instrument {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Instrument(nil), c.subscribed...)
}

func (c *Client) dispatch(t model.Tick) {
	c.mu.Lock()
	cb := c.callbacks[t.SecurityID]
	c.lastTick = c.now()
	c.mu.Unlock()

	if c.OnTick != nil {
		c.OnTick(t)
	}
	if cb != nil {
		cb(t)
	}
}

func (c *Client) clearRegistryLocked() {
	c.callbacks = make(map[string]func(model.Tick))
	c.subscribed = nil
	c.subKeys = make(map[string]bool)
}
