package risk

import (
	"fmt"

	"github.com/ksred/screener-api/internal/types"
)

// Decision is the gate's verdict on a proposed trade.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func reject(format string, args ...interface{}) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Evaluate validates a proposed trade against the limits using the supplied
// spend and position state. It is a pure function: no I/O, no side effects.
// Checks run in a fixed order and the first violation wins. A value exactly
// equal to a cap is allowed.
//
// Position-count and duplicate checks only apply to buys; sells reduce
// exposure and are never rejected on those grounds.
func Evaluate(
	intent types.OrderIntent,
	settings RiskSettings,
	spendToday float64,
	spendThisWeek float64,
	openPositionCount int,
	existingPosition *types.Position,
) Decision {
	if !settings.Enabled {
		return allow()
	}

	value := intent.Value()

	perTradeCap := settings.MaxTradeAmount
	if intent.MaxOrderValue > 0 {
		perTradeCap = intent.MaxOrderValue
	}
	if perTradeCap > 0 && value > perTradeCap {
		return reject("order value %.2f exceeds per-trade cap %.2f", value, perTradeCap)
	}

	if settings.DailySpendLimit > 0 && spendToday+value > settings.DailySpendLimit {
		return reject("order value %.2f would exceed daily spend limit %.2f (spent %.2f today)",
			value, settings.DailySpendLimit, spendToday)
	}

	if settings.WeeklySpendLimit > 0 && spendThisWeek+value > settings.WeeklySpendLimit {
		return reject("order value %.2f would exceed weekly spend limit %.2f (spent %.2f this week)",
			value, settings.WeeklySpendLimit, spendThisWeek)
	}

	if intent.Side != types.SideBuy {
		return allow()
	}

	if settings.MaxOpenPositions > 0 &&
		openPositionCount >= settings.MaxOpenPositions &&
		existingPosition == nil {
		return reject("open position count %d is at the maximum %d",
			openPositionCount, settings.MaxOpenPositions)
	}

	if existingPosition != nil && !settings.AllowDuplicatePositions {
		return reject("position already open for %s and duplicates are disallowed", intent.Symbol)
	}

	return allow()
}
