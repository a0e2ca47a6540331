package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"ratiowatch/internal/model"
)

// serverTimeLayout is the timestamp format of the quote server.
const serverTimeLayout = "2006-01-02 15:04:05.999999"

type quoteSide struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// quote is one message entry of the quote server.
type quote struct {
	Stock     string    `json:"stock"`
	Timestamp string    `json:"timestamp"`
	TopBid    quoteSide `json:"top_bid"`
	TopAsk    quoteSide `json:"top_ask"`
}

// DecodeQuotes decodes a single quote object or an array of them into observations priced at
// the bid/ask midpoint. Timestamps that cannot be parsed are left zero so that the normalizer
// reports the observation as malformed instead of the whole message being dropped.
func DecodeQuotes(payload []byte) ([]model.Observation, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, nil
	}

	var quotes []quote
	if payload[0] == '[' {
		if err := json.Unmarshal(payload, &quotes); err != nil {
			return nil, fmt.Errorf("decode quotes: %w", err)
		}
	} else {
		var q quote
		if err := json.Unmarshal(payload, &q); err != nil {
			return nil, fmt.Errorf("decode quote: %w", err)
		}
		quotes = []quote{q}
	}

	observations := make([]model.Observation, 0, len(quotes))
	for _, q := range quotes {
		observations = append(observations, model.Observation{
			Symbol:    q.Stock,
			Timestamp: parseTimestamp(q.Timestamp),
			Price:     (q.TopBid.Price + q.TopAsk.Price) / 2,
		})
	}
	return observations, nil
}

func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(serverTimeLayout, s); err == nil {
		return t
	}
	return time.Time{}
}
