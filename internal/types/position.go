package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a locally tracked open position, owned by the risk gate. It
// exists from entry-order acknowledgment until the close is observed.
type Position struct {
	Instrument string          `json:"instrument"`
	EntryCost  decimal.Decimal `json:"entry_cost"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryTime  time.Time       `json:"entry_time"`
}

// BrokerPosition is a position as reported by the broker. Broker state is
// ground truth; local Position records are reconciled against it.
type BrokerPosition struct {
	Instrument string          `json:"instrument"`
	Quantity   decimal.Decimal `json:"quantity"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
}

// AccountBalance is the broker account snapshot used to capture the daily
// start balance.
type AccountBalance struct {
	// Total includes capital locked in open positions.
	Total decimal.Decimal `json:"total"`
	// Available is the free balance usable for new entries.
	Available decimal.Decimal `json:"available"`
}
