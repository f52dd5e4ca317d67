package detector

import (
	"testing"
	"time"

	"github.com/betbot/copybot/internal/domain"
)

func TestDiffPositions_IncreaseIsBuy(t *testing.T) {
	prev := map[string]PositionRecord{"tok": {TokenID: "tok", Quantity: 100}}
	curr := map[string]PositionRecord{"tok": {TokenID: "tok", Quantity: 150, MarketID: "mkt", MarketTitle: "Some market"}}

	changes := DiffPositions("0xabc", prev, curr, 0.01, time.Now())
	if len(changes) != 1 {
		t.Fatalf("changes got=%d want=1", len(changes))
	}
	ch := changes[0]
	if ch.Side != domain.SideBuy || !approx(ch.Delta, 50) {
		t.Fatalf("got side=%s delta=%v want BUY 50", ch.Side, ch.Delta)
	}
	if ch.MarketID != "mkt" || ch.MarketTitle != "Some market" {
		t.Fatalf("market fields not carried: %+v", ch)
	}
}

func TestDiffPositions_NewAndGone(t *testing.T) {
	prev := map[string]PositionRecord{"gone": {TokenID: "gone", Quantity: 30}}
	curr := map[string]PositionRecord{"new": {TokenID: "new", Quantity: 80}}

	changes := DiffPositions("0xabc", prev, curr, 0.01, time.Now())
	if len(changes) != 2 {
		t.Fatalf("changes got=%d want=2", len(changes))
	}
	// 输出按 tokenID 排序：gone < new
	if changes[0].TokenID != "gone" || changes[0].Side != domain.SideSell || !approx(changes[0].Delta, 30) {
		t.Fatalf("gone change got=%+v", changes[0])
	}
	if changes[1].TokenID != "new" || changes[1].Side != domain.SideBuy || !approx(changes[1].Delta, 80) {
		t.Fatalf("new change got=%+v", changes[1])
	}
}

func TestDiffPositions_MinDelta(t *testing.T) {
	prev := map[string]PositionRecord{"tok": {TokenID: "tok", Quantity: 100}}

	// 低于阈值忽略
	curr := map[string]PositionRecord{"tok": {TokenID: "tok", Quantity: 100.005}}
	if changes := DiffPositions("0xabc", prev, curr, 0.01, time.Now()); len(changes) != 0 {
		t.Fatalf("sub-threshold change must be ignored: %+v", changes)
	}

	// 恰好等于阈值算变化
	curr = map[string]PositionRecord{"tok": {TokenID: "tok", Quantity: 100.01}}
	changes := DiffPositions("0xabc", prev, curr, 0.01, time.Now())
	if len(changes) != 1 || changes[0].Side != domain.SideBuy {
		t.Fatalf("threshold-equal change must count: %+v", changes)
	}
}

func TestDiffPositions_DecreaseIsSell(t *testing.T) {
	prev := map[string]PositionRecord{"tok": {TokenID: "tok", Quantity: 100, AvgPrice: 0.55}}
	curr := map[string]PositionRecord{"tok": {TokenID: "tok", Quantity: 40, AvgPrice: 0.55}}

	changes := DiffPositions("0xabc", prev, curr, 0.01, time.Now())
	if len(changes) != 1 {
		t.Fatalf("changes got=%d want=1", len(changes))
	}
	if changes[0].Side != domain.SideSell || !approx(changes[0].Delta, 60) {
		t.Fatalf("got side=%s delta=%v want SELL 60", changes[0].Side, changes[0].Delta)
	}

	tr := changes[0].ToDetectedTrade()
	if tr.Side != domain.SideSell || !approx(tr.Size, 60) || !approx(tr.Price, 0.55) {
		t.Fatalf("ToDetectedTrade got=%+v", tr)
	}
}

func approx(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
