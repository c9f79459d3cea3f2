package gateway

import (
	"strconv"
	"time"

	"github.com/RakeshDevCode/Algotradepro/internal/model"
)

const replayDepth = 256

// ChannelFor returns the WS channel carrying quotes for an instrument key.
func ChannelFor(key string) string { return "quote:" + key }

// Broadcast sends q to every client subscribed to its instrument.
// The envelope is built by hand to keep json.Marshal off the tick path.
func (h *Hub) Broadcast(q model.Quote) {
	now := h.now().UTC()
	if h.Latency != nil {
		h.Latency.Observe(q.UpdatedAt, now)
	}

	key := q.Key()
	channel := ChannelFor(key)
	data := q.JSON()

	h.mu.Lock()
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	h.seq++
	seq := h.seq
	h.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	rb, ok := h.replay[channel]
	if !ok {
		rb = NewReplayBuffer(replayDepth)
		h.replay[channel] = rb
	}
	h.mu.Unlock()

	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"type":"QUOTE","channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')

	rb.Push(channelSeq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wants(key) {
			continue
		}
		select {
		case client.send <- buf:
		default:
		}
	}
}
