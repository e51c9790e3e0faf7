package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestLiquidationPrice_Long(t *testing.T) {
	entry := decimal.NewFromInt(50000)

	// 10x long: 50,000 * (1 - 0.09) = 45,500
	liq := LiquidationPrice(PositionSideLong, entry, 10)
	if !liq.Equal(decimal.NewFromInt(45500)) {
		t.Errorf("expected 45500, got %s", liq)
	}
}

func TestLiquidationPrice_Short(t *testing.T) {
	entry := decimal.NewFromInt(50000)

	// 10x short: 50,000 * (1 + 0.09) = 54,500
	liq := LiquidationPrice(PositionSideShort, entry, 10)
	if !liq.Equal(decimal.NewFromInt(54500)) {
		t.Errorf("expected 54500, got %s", liq)
	}
}

func TestLiquidationPrice_LeverageClampedToOne(t *testing.T) {
	entry := decimal.NewFromInt(1000)

	// Leverage below 1 is treated as 1: 1000 * (1 - 0.9) = 100
	liq := LiquidationPrice(PositionSideLong, entry, 0)
	if !liq.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected 100, got %s", liq)
	}
}

func TestLiquidationPrice_Monotonicity(t *testing.T) {
	entry := decimal.NewFromInt(50000)

	// Increasing leverage must move the liquidation price closer to entry.
	prevLong := LiquidationPrice(PositionSideLong, entry, 1)
	prevShort := LiquidationPrice(PositionSideShort, entry, 1)

	for _, lev := range []int{2, 3, 5, 10, 25, 50, 100} {
		long := LiquidationPrice(PositionSideLong, entry, lev)
		short := LiquidationPrice(PositionSideShort, entry, lev)

		if !long.GreaterThan(prevLong) {
			t.Errorf("long liq at %dx (%s) should exceed previous (%s)", lev, long, prevLong)
		}
		if !short.LessThan(prevShort) {
			t.Errorf("short liq at %dx (%s) should be below previous (%s)", lev, short, prevShort)
		}
		if !long.LessThan(entry) || !short.GreaterThan(entry) {
			t.Errorf("liq prices at %dx must bracket entry: long=%s short=%s", lev, long, short)
		}
		prevLong, prevShort = long, short
	}
}

func TestUnrealizedPnL(t *testing.T) {
	long := &Position{
		Side:       PositionSideLong,
		Size:       decimal.NewFromFloat(0.5),
		EntryPrice: decimal.NewFromInt(50000),
	}
	short := &Position{
		Side:       PositionSideShort,
		Size:       decimal.NewFromFloat(0.5),
		EntryPrice: decimal.NewFromInt(50000),
	}

	current := decimal.NewFromInt(52000)

	if pnl := long.UnrealizedPnL(current); !pnl.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("long pnl: expected 1000, got %s", pnl)
	}
	if pnl := short.UnrealizedPnL(current); !pnl.Equal(decimal.NewFromInt(-1000)) {
		t.Errorf("short pnl: expected -1000, got %s", pnl)
	}
}

func TestLiquidationCrossed(t *testing.T) {
	long := &Position{Side: PositionSideLong, LiquidationPrice: decimal.NewFromInt(45500)}
	short := &Position{Side: PositionSideShort, LiquidationPrice: decimal.NewFromInt(54500)}

	if long.LiquidationCrossed(decimal.NewFromInt(45501)) {
		t.Error("long should not cross above liquidation price")
	}
	if !long.LiquidationCrossed(decimal.NewFromInt(45500)) {
		t.Error("long should cross at liquidation price")
	}
	if !long.LiquidationCrossed(decimal.NewFromInt(44000)) {
		t.Error("long should cross below liquidation price")
	}

	if short.LiquidationCrossed(decimal.NewFromInt(54499)) {
		t.Error("short should not cross below liquidation price")
	}
	if !short.LiquidationCrossed(decimal.NewFromInt(54500)) {
		t.Error("short should cross at liquidation price")
	}
}
