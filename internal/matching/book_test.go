package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencandle/exchange/internal/domain"
)

func TestBookAddAndSnapshot(t *testing.T) {
	b := NewBook("ACME")
	b.Add(true, 500, &RestingOrder{OrderID: "bid-1", TraderID: "t1", Remaining: 10, Sequence: 1})
	b.Add(true, 510, &RestingOrder{OrderID: "bid-2", TraderID: "t2", Remaining: 5, Sequence: 2})
	b.Add(false, 520, &RestingOrder{OrderID: "ask-1", TraderID: "t3", Remaining: 7, Sequence: 3})

	snap := b.Snapshot()
	require.Len(t, snap.Bids, 2)
	// best bid first: 510 before 500.
	assert.Equal(t, int64(510), snap.Bids[0].PriceCents)
	assert.Equal(t, int64(500), snap.Bids[1].PriceCents)
	require.NotNil(t, snap.BestBid)
	assert.Equal(t, int64(510), *snap.BestBid)
	require.NotNil(t, snap.BestAsk)
	assert.Equal(t, int64(520), *snap.BestAsk)
	assert.Nil(t, snap.LastTradeCents)
}

func TestBookCancelIsNoopWhenAbsent(t *testing.T) {
	b := NewBook("ACME")
	b.Add(true, 500, &RestingOrder{OrderID: "bid-1", TraderID: "t1", Remaining: 10, Sequence: 1})
	b.Cancel("does-not-exist")
	assert.True(t, b.Contains("bid-1"))
}

func TestBookCancelRemovesOrder(t *testing.T) {
	b := NewBook("ACME")
	b.Add(true, 500, &RestingOrder{OrderID: "bid-1", TraderID: "t1", Remaining: 10, Sequence: 1})
	b.Cancel("bid-1")
	assert.False(t, b.Contains("bid-1"))
	assert.Empty(t, b.Snapshot().Bids)
}

func TestMatchPriceTimePriority(t *testing.T) {
	b := NewBook("ACME")
	b.Add(false, 500, &RestingOrder{OrderID: "ask-1", TraderID: "seller1", Remaining: 3, Sequence: 1})
	b.Add(false, 500, &RestingOrder{OrderID: "ask-2", TraderID: "seller2", Remaining: 4, Sequence: 2})
	b.Add(false, 510, &RestingOrder{OrderID: "ask-3", TraderID: "seller3", Remaining: 10, Sequence: 3})

	plan := b.Match("buyer1", domain.SideBuy, 5, true, 510)
	require.Len(t, plan.Fills, 2)
	assert.Equal(t, "ask-1", plan.Fills[0].MakerOrderID)
	assert.Equal(t, int64(3), plan.Fills[0].Quantity)
	assert.Equal(t, "ask-2", plan.Fills[1].MakerOrderID)
	assert.Equal(t, int64(2), plan.Fills[1].Quantity)
	assert.Equal(t, int64(0), plan.RemainingQty)
	assert.Contains(t, plan.ConsumedMakers, "ask-1")
	assert.Equal(t, int64(2), plan.PartialMakers["ask-2"])
}

func TestMatchRespectsLimitPrice(t *testing.T) {
	b := NewBook("ACME")
	b.Add(false, 500, &RestingOrder{OrderID: "ask-1", TraderID: "seller1", Remaining: 3, Sequence: 1})
	b.Add(false, 520, &RestingOrder{OrderID: "ask-2", TraderID: "seller2", Remaining: 3, Sequence: 2})

	plan := b.Match("buyer1", domain.SideBuy, 10, true, 510)
	require.Len(t, plan.Fills, 1)
	assert.Equal(t, "ask-1", plan.Fills[0].MakerOrderID)
	assert.Equal(t, int64(7), plan.RemainingQty)
}

func TestMatchSkipsSelfTradeWithoutMutatingBook(t *testing.T) {
	b := NewBook("ACME")
	b.Add(false, 500, &RestingOrder{OrderID: "ask-1", TraderID: "sametrader", Remaining: 5, Sequence: 1})
	b.Add(false, 500, &RestingOrder{OrderID: "ask-2", TraderID: "othertrader", Remaining: 5, Sequence: 2})

	plan := b.Match("sametrader", domain.SideBuy, 5, false, 0)
	require.Len(t, plan.Fills, 1)
	assert.Equal(t, "ask-2", plan.Fills[0].MakerOrderID)

	// Match is read-only: the skipped self-trade maker must still be resting.
	assert.True(t, b.Contains("ask-1"))
	assert.True(t, b.Contains("ask-2"))

	b.Apply(plan, false)
	assert.True(t, b.Contains("ask-1"), "self-trade maker must remain resting after Apply")
	assert.False(t, b.Contains("ask-2"), "fully consumed maker must be removed after Apply")
}

func TestApplyUpdatesPartialMakerRemaining(t *testing.T) {
	b := NewBook("ACME")
	b.Add(false, 500, &RestingOrder{OrderID: "ask-1", TraderID: "seller1", Remaining: 5, Sequence: 1})

	plan := b.Match("buyer1", domain.SideBuy, 2, false, 0)
	b.Apply(plan, false)

	best := b.PeekBest(false)
	require.NotNil(t, best)
	assert.Equal(t, int64(3), best.Remaining)
	assert.Equal(t, int64(500), *b.Snapshot().LastTradeCents)
}
