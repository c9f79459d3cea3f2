package dhan

import (
	"context"
	"fmt"
	"net/http"

	"github.com/RakeshDevCode/Algotradepro/internal/model"
)

// GetPositions returns open and intraday positions.
func (c *Client) GetPositions(ctx context.Context) (ParseResult[model.Position], error) {
	var records []positionRecord
	if err := c.do(ctx, http.MethodGet, "/positions", nil, &records); err != nil {
		return ParseResult[model.Position]{}, err
	}
	res := parseAll(records, positionRecord.normalize)
	c.logRecordErrors("/positions", res.Errors)
	return res, nil
}

// GetHoldings returns demat holdings.
func (c *Client) GetHoldings(ctx context.Context) (ParseResult[model.Holding], error) {
	var records []holdingRecord
	if err := c.do(ctx, http.MethodGet, "/holdings", nil, &records); err != nil {
		return ParseResult[model.Holding]{}, err
	}
	res := parseAll(records, holdingRecord.normalize)
	c.logRecordErrors("/holdings", res.Errors)
	return res, nil
}

// GetFundLimit returns the account balance summary.
func (c *Client) GetFundLimit(ctx context.Context) (model.FundLimit, error) {
	var rec fundLimitRecord
	if err := c.do(ctx, http.MethodGet, "/fundlimit", nil, &rec); err != nil {
		return model.FundLimit{}, err
	}
	fl, rerr := rec.normalize()
	if rerr != nil {
		return model.FundLimit{}, fmt.Errorf("dhan: fundlimit: %w", rerr)
	}
	return fl, nil
}
