package domain

import "time"

// Trade is an immutable fact recorded for every executed fill (spec.md section 3).
type Trade struct {
	TradeID      string
	Symbol       string
	PriceCents   int64
	Quantity     int64
	BuyOrderID   string
	SellOrderID  string
	BuyerID      string
	SellerID     string
	MakerOrderID string
	TakerOrderID string
	ExecutedAt   time.Time
}
