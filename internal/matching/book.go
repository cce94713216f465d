// Package matching implements spec.md sections 4.E (Book) and 4.F (Matching
// Engine): the in-memory, per-symbol, price-time-sequence order book and
// the single-writer engine that serializes intents against it. The Book's
// heap-of-orders idea is grounded on the teacher's
// internal/core/matching/order_book.go (container/heap over *Order), but is
// redesigned per spec.md section 9 ("eager loading... streaming read in
// sequence order" and an explicit simulate/commit split): Match never
// mutates the Book. It plans fills against a read-only view; the Engine
// applies that plan to the Book only after the owning transaction commits
// (spec.md section 4.F steps 5, 8, 9). A maker skipped for self-trade is
// therefore never removed from the book in the first place — "re-inserting"
// it after the taker resolves is then simply a no-op, which is what spec.md
// section 9's "push onto a side-stack and re-insert" reduces to once
// simulate and commit are split.
package matching

import (
	"sort"
	"time"

	"github.com/opencandle/exchange/internal/domain"
)

// RestingOrder is the minimal tuple the Book needs to match and to snapshot
// (spec.md section 9: "the Book stores only the minimal tuple needed for
// matching").
type RestingOrder struct {
	OrderID   string
	TraderID  string
	Remaining int64
	Sequence  int64
}

// side is one half of a Book: a map from price to the FIFO queue of
// resting orders at that price (price-time-sequence priority, spec.md
// section 4.E), plus a sorted slice of the occupied prices for O(log n)
// best-price lookup.
type side struct {
	ascending bool // true for asks (best = lowest), false for bids (best = highest)
	levels    map[int64][]*RestingOrder
	prices    []int64 // always kept sorted ascending; direction of "best" depends on ascending
}

func newSide(ascending bool) *side {
	return &side{ascending: ascending, levels: make(map[int64][]*RestingOrder)}
}

func searchInt64s(haystack []int64, needle int64) int {
	return sort.Search(len(haystack), func(i int) bool { return haystack[i] >= needle })
}

func (s *side) insertPrice(price int64) {
	i := searchInt64s(s.prices, price)
	if i < len(s.prices) && s.prices[i] == price {
		return
	}
	s.prices = append(s.prices, 0)
	copy(s.prices[i+1:], s.prices[i:])
	s.prices[i] = price
}

func (s *side) removePriceIfEmpty(price int64) {
	if len(s.levels[price]) > 0 {
		return
	}
	delete(s.levels, price)
	i := searchInt64s(s.prices, price)
	if i < len(s.prices) && s.prices[i] == price {
		s.prices = append(s.prices[:i], s.prices[i+1:]...)
	}
}

// orderedPrices returns price levels best-first.
func (s *side) orderedPrices() []int64 {
	if s.ascending {
		return s.prices
	}
	out := make([]int64, len(s.prices))
	for i, p := range s.prices {
		out[len(s.prices)-1-i] = p
	}
	return out
}

func (s *side) add(price int64, order *RestingOrder) {
	s.insertPrice(price)
	s.levels[price] = append(s.levels[price], order)
}

func (s *side) removeByID(orderID string) (price int64, ok bool) {
	for p, orders := range s.levels {
		for i, o := range orders {
			if o.OrderID == orderID {
				s.levels[p] = append(orders[:i], orders[i+1:]...)
				s.removePriceIfEmpty(p)
				return p, true
			}
		}
	}
	return 0, false
}

func (s *side) bestPrice() (int64, bool) {
	if len(s.prices) == 0 {
		return 0, false
	}
	if s.ascending {
		return s.prices[0], true
	}
	return s.prices[len(s.prices)-1], true
}

// Book is the in-memory order book for a single symbol, exclusively owned
// by that symbol's Engine goroutine (spec.md section 3, "Ownership").
type Book struct {
	Symbol        string
	bids          *side // descending (best = highest price)
	asks          *side // ascending (best = lowest price)
	index         map[string]bool
	lastTradeCents int64
	hasLastTrade  bool
	lastUpdate    time.Time
}

// NewBook creates an empty book for symbol.
func NewBook(symbol string) *Book {
	return &Book{
		Symbol: symbol,
		bids:   newSide(false),
		asks:   newSide(true),
		index:  make(map[string]bool),
	}
}

func (b *Book) sideFor(buy bool) *side {
	if buy {
		return b.bids
	}
	return b.asks
}

// Add inserts a resting order at the tail of its price level (spec.md
// section 4.E, "add"). isBuy selects bids vs asks.
func (b *Book) Add(isBuy bool, price int64, order *RestingOrder) {
	b.sideFor(isBuy).add(price, order)
	b.index[order.OrderID] = true
	b.lastUpdate = time.Now().UTC()
}

// Cancel removes orderID from whichever side holds it; a no-op if absent
// (spec.md section 4.E, "cancel").
func (b *Book) Cancel(orderID string) {
	if !b.index[orderID] {
		return
	}
	if _, ok := b.bids.removeByID(orderID); ok {
		delete(b.index, orderID)
		b.lastUpdate = time.Now().UTC()
		return
	}
	if _, ok := b.asks.removeByID(orderID); ok {
		delete(b.index, orderID)
		b.lastUpdate = time.Now().UTC()
	}
}

// Contains reports whether orderID currently rests in the book.
func (b *Book) Contains(orderID string) bool {
	return b.index[orderID]
}

// bestPriceFor returns the best resting price on the given side.
func (b *Book) bestPriceFor(isBuy bool) (int64, bool) {
	return b.sideFor(isBuy).bestPrice()
}

// PeekBest returns the best resting order on the given side, or nil.
func (b *Book) PeekBest(isBuy bool) *RestingOrder {
	s := b.sideFor(isBuy)
	price, ok := s.bestPrice()
	if !ok {
		return nil
	}
	orders := s.levels[price]
	if len(orders) == 0 {
		return nil
	}
	return orders[0]
}

// Fill is one maker/taker match produced by Match.
type Fill struct {
	MakerOrderID  string
	MakerTraderID string
	PriceCents    int64
	Quantity      int64
}

// MatchPlan is the read-only result of simulating a taker against the book
// (spec.md section 4.F step 5). Nothing in the Book changes until the
// owning transaction commits and Apply is called.
type MatchPlan struct {
	Fills          []Fill
	RemainingQty   int64
	ConsumedMakers []string         // orderIDs fully consumed; remove on Apply
	PartialMakers  map[string]int64 // orderID -> new remaining quantity; update on Apply
}

// Match simulates takerQty of takerSide crossing the opposite side of the
// book, honoring price-time-sequence priority, the maker-price rule, and
// order-level self-trade prevention (spec.md section 4.F step 5). It does
// not mutate the Book.
func (b *Book) Match(takerTraderID string, takerSide domain.Side, takerQty int64, hasLimit bool, limitCents int64) MatchPlan {
	plan := MatchPlan{PartialMakers: make(map[string]int64)}
	opposite := b.sideFor(takerSide == domain.SideSell) // buy taker crosses asks, sell taker crosses bids
	remaining := takerQty

	for _, price := range opposite.orderedPrices() {
		if remaining == 0 {
			break
		}
		if hasLimit {
			if takerSide == domain.SideBuy && price > limitCents {
				break
			}
			if takerSide == domain.SideSell && price < limitCents {
				break
			}
		}

		for _, maker := range opposite.levels[price] {
			if remaining == 0 {
				break
			}
			if maker.TraderID == takerTraderID {
				continue // self-trade prevention: skip, never remove (spec.md section 5)
			}
			crossQty := maker.Remaining
			if remaining < crossQty {
				crossQty = remaining
			}
			plan.Fills = append(plan.Fills, Fill{
				MakerOrderID:  maker.OrderID,
				MakerTraderID: maker.TraderID,
				PriceCents:    price,
				Quantity:      crossQty,
			})
			remaining -= crossQty
			leftover := maker.Remaining - crossQty
			if leftover == 0 {
				plan.ConsumedMakers = append(plan.ConsumedMakers, maker.OrderID)
			} else {
				plan.PartialMakers[maker.OrderID] = leftover
			}
		}
	}

	plan.RemainingQty = remaining
	return plan
}

// Apply mutates the Book to reflect a committed MatchPlan: consumed makers
// are removed, partially-filled makers have their remaining quantity
// reduced, and the last trade price is updated (spec.md section 4.F step 8).
// Apply does not add the taker; a taker with quantity left to rest is added
// separately with Add.
func (b *Book) Apply(plan MatchPlan, makerSide bool) {
	for _, orderID := range plan.ConsumedMakers {
		b.sideFor(makerSide).removeByID(orderID)
		delete(b.index, orderID)
	}
	for orderID, leftover := range plan.PartialMakers {
		for _, o := range b.sideFor(makerSide).levels[findPriceOf(b.sideFor(makerSide), orderID)] {
			if o.OrderID == orderID {
				o.Remaining = leftover
			}
		}
	}
	if len(plan.Fills) > 0 {
		b.lastTradeCents = plan.Fills[len(plan.Fills)-1].PriceCents
		b.hasLastTrade = true
	}
	b.lastUpdate = time.Now().UTC()
}

func findPriceOf(s *side, orderID string) int64 {
	for p, orders := range s.levels {
		for _, o := range orders {
			if o.OrderID == orderID {
				return p
			}
		}
	}
	return 0
}

// Level is one aggregated price level in a Snapshot.
type Level struct {
	PriceCents int64
	Quantity   int64
}

// Snapshot is a pure read of the book's current depth (spec.md section 4.E, "snapshot").
type Snapshot struct {
	Symbol         string
	Bids           []Level
	Asks           []Level
	BestBid        *int64
	BestAsk        *int64
	LastTradeCents *int64
	Timestamp      time.Time
}

// Snapshot returns a full depth snapshot of the book.
func (b *Book) Snapshot() Snapshot {
	snap := Snapshot{Symbol: b.Symbol, Timestamp: time.Now().UTC()}
	for _, price := range b.bids.orderedPrices() {
		snap.Bids = append(snap.Bids, Level{PriceCents: price, Quantity: sumRemaining(b.bids.levels[price])})
	}
	for _, price := range b.asks.orderedPrices() {
		snap.Asks = append(snap.Asks, Level{PriceCents: price, Quantity: sumRemaining(b.asks.levels[price])})
	}
	if bid, ok := b.bids.bestPrice(); ok {
		snap.BestBid = &bid
	}
	if ask, ok := b.asks.bestPrice(); ok {
		snap.BestAsk = &ask
	}
	if b.hasLastTrade {
		snap.LastTradeCents = &b.lastTradeCents
	}
	return snap
}

func sumRemaining(orders []*RestingOrder) int64 {
	var total int64
	for _, o := range orders {
		total += o.Remaining
	}
	return total
}
