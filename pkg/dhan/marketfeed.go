package dhan

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/RakeshDevCode/Algotradepro/internal/model"
)

type ohlcValues struct {
	Open  float64 `json:"open"`
	Close float64 `json:"close"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
}

type ohlcEntry struct {
	LastPrice *float64   `json:"last_price"`
	OHLC      ohlcValues `json:"ohlc"`
}

type ohlcResponse struct {
	Data   map[string]map[string]ohlcEntry `json:"data"`
	Status string                          `json:"status"`
}

// FetchQuotes pulls last price and day OHLC for instruments. The result is
// keyed by Instrument.Key(); instruments the broker did not return are absent.
// Calls are paced by the configured quote rate.
func (c *Client) FetchQuotes(ctx context.Context, instruments []model.Instrument) (map[string]model.Quote, error) {
	out := make(map[string]model.Quote, len(instruments))
	if len(instruments) == 0 {
		return out, nil
	}

	body := make(map[string][]int64)
	byKey := make(map[string]model.Instrument, len(instruments))
	for _, inst := range instruments {
		id, err := strconv.ParseInt(inst.SecurityID, 10, 64)
		if err != nil {
			c.log.Warn("quote skipped, non-numeric security id", "instrument", inst.Key())
			continue
		}
		seg := string(inst.Segment)
		body[seg] = append(body[seg], id)
		byKey[inst.Key()] = inst
	}
	if len(body) == 0 {
		return out, nil
	}

	if c.quoteLimiter != nil {
		if err := c.quoteLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limit wait: %v", ErrRestUnavailable, err)
		}
	}

	var resp ohlcResponse
	if err := c.do(ctx, http.MethodPost, "/marketfeed/ohlc", body, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "" && resp.Status != "success" {
		return nil, &APIError{Method: http.MethodPost, Path: "/marketfeed/ohlc", Status: http.StatusOK,
			Message: "status " + resp.Status}
	}

	now := c.now()
	for seg, entries := range resp.Data {
		for id, e := range entries {
			key := seg + ":" + id
			inst, ok := byKey[key]
			if !ok {
				continue
			}
			if e.LastPrice == nil {
				c.log.Warn("quote skipped, missing last_price", "instrument", key)
				continue
			}
			q := model.Quote{
				SecurityID: inst.SecurityID,
				Segment:    inst.Segment,
				Symbol:     inst.Symbol,
				Name:       inst.Name,
				Price:      *e.LastPrice,
				Open:       e.OHLC.Open,
				High:       e.OHLC.High,
				Low:        e.OHLC.Low,
				Close:      e.OHLC.Close,
				Provenance: model.ProvenanceLive,
				Source:     model.SourceREST,
				UpdatedAt:  now,
			}
			q.Change, q.ChangePercent = model.PriceChange(q.Price, q.Close)
			out[key] = q
		}
	}
	return out, nil
}
