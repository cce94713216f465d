package domain

import "time"

// OutboxEventType enumerates the market-data event types (spec.md section 3/6).
type OutboxEventType string

const (
	EventTradeExecuted  OutboxEventType = "TRADE_EXECUTED"
	EventOrderAccepted  OutboxEventType = "ORDER_ACCEPTED"
	EventOrderCancelled OutboxEventType = "ORDER_CANCELLED"
	EventOrderExpired   OutboxEventType = "ORDER_EXPIRED"
	EventBookChanged    OutboxEventType = "BOOK_CHANGED"
)

// OutboxEvent is an append-only row describing a state change that must be
// published in lockstep with the transaction that produced it (spec.md
// section 4.C). PayloadJSON is produced by internal/outboxcodec.
type OutboxEvent struct {
	EventID     string
	Symbol      string
	Type        OutboxEventType
	PayloadJSON []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// TradeExecutedPayload is the JSON schema for a TRADE_EXECUTED event (spec.md section 6).
type TradeExecutedPayload struct {
	Symbol       string    `json:"symbol"`
	TradeID      string    `json:"trade_id"`
	PriceCents   int64     `json:"price_in_cents"`
	Quantity     int64     `json:"quantity"`
	BuyerID      string    `json:"buyer_id"`
	SellerID     string    `json:"seller_id"`
	MakerOrderID string    `json:"maker_order_id"`
	TakerOrderID string    `json:"taker_order_id"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// OrderAcceptedPayload is the JSON schema for an ORDER_ACCEPTED event.
type OrderAcceptedPayload struct {
	OrderID         string    `json:"order_id"`
	Symbol          string    `json:"symbol"`
	Side            Side      `json:"side"`
	Type            OrderType `json:"type"`
	Quantity        int64     `json:"quantity"`
	LimitPriceCents *int64    `json:"limit_price_in_cents,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// OrderCancelledPayload is the JSON schema for an ORDER_CANCELLED event.
type OrderCancelledPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// OrderExpiredPayload is the JSON schema for an ORDER_EXPIRED event.
type OrderExpiredPayload struct {
	OrderID string `json:"order_id"`
}
