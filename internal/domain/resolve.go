package domain

// ResolveAction maps a consensus signal and the current position state to a
// trade action. The mapping is total: every (signal, held, pnlPct) triple
// yields exactly one action.
//
// Without a position: buy-class signals buy, strong_sell avoids, everything
// else goes to the watch list. With a position: buy-class signals add unless
// the position already gained more than 20%, strong_sell exits in full, sell
// reduces by half, hold holds.
func ResolveAction(signal Signal, held bool, pnlPct float64) TradeAction {
	if !held {
		switch signal {
		case SignalStrongBuy, SignalBuy:
			return ActionBuy
		case SignalStrongSell:
			return ActionAvoid
		default: // sell, hold
			return ActionWatch
		}
	}

	switch signal {
	case SignalStrongBuy, SignalBuy:
		if pnlPct > 20 {
			return ActionHold
		}
		return ActionAdd
	case SignalStrongSell:
		return ActionSell
	case SignalSell:
		return ActionReduce
	default:
		return ActionHold
	}
}
