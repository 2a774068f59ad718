package compliance

import (
	"fmt"
	"time"

	"github.com/quantfleet/engine/internal/clock"
	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RecordTrade updates the rule state after an execution and returns any
// violations it produced. A sell that pushes the account over the PDT limit
// stops trading for the rest of the day.
func (m *Manager) RecordTrade(symbol string, side types.OrderSide, qty, price decimal.Decimal, ts time.Time) []types.ComplianceViolation {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history[symbol] = append(m.history[symbol], types.TradeHistoryEntry{
		Side:      side,
		Quantity:  qty,
		Price:     price,
		Timestamp: ts,
	})

	var out []types.ComplianceViolation
	switch side {
	case types.OrderSideBuy:
		m.recordBuy(symbol, qty, price, ts)
	case types.OrderSideSell:
		out = m.recordSell(symbol, qty, price, ts)
	}
	return out
}

// recordBuy merges the execution into today's intraday position and, for
// cash accounts, books the unsettled lot.
func (m *Manager) recordBuy(symbol string, qty, price decimal.Decimal, ts time.Time) {
	if pos, ok := m.intraday[symbol]; ok && clock.SameDay(pos.OpenTime, ts) {
		total := pos.Quantity.Add(qty)
		pos.AvgPrice = pos.AvgPrice.Mul(pos.Quantity).Add(price.Mul(qty)).Div(total)
		pos.Quantity = total
	} else {
		m.intraday[symbol] = &IntradayPosition{
			Quantity: qty,
			AvgPrice: price,
			OpenTime: ts,
		}
	}

	if m.accountType == types.AccountCash {
		tradeDate := clock.Midnight(ts)
		m.unsettled = append(m.unsettled, types.UnsettledPosition{
			Symbol:         symbol,
			Quantity:       qty,
			PurchaseDate:   tradeDate,
			SettlementDate: m.calendar.AddBusinessDays(tradeDate, 1),
			CostBasis:      qty.Mul(price),
		})
	}
}

// recordSell matches the execution against a same-day open, emitting a day
// trade and re-running the PDT count.
func (m *Manager) recordSell(symbol string, qty, price decimal.Decimal, ts time.Time) []types.ComplianceViolation {
	var out []types.ComplianceViolation

	pos, ok := m.intraday[symbol]
	if ok && clock.SameDay(pos.OpenTime, ts) {
		matched := decimal.Min(qty, pos.Quantity)
		if matched.IsPositive() {
			dt := types.DayTrade{
				Symbol:    symbol,
				TradeDate: clock.Midnight(ts),
				BuyTime:   pos.OpenTime,
				SellTime:  ts,
				Quantity:  matched,
				BuyPrice:  pos.AvgPrice,
				SellPrice: price,
			}
			m.dayTrades = append(m.dayTrades, dt)
			m.logger.Info("day trade recorded",
				zap.String("symbol", symbol),
				zap.String("quantity", matched.String()),
				zap.String("pnl", dt.PnL().StringFixed(2)))

			pos.Quantity = pos.Quantity.Sub(matched)
			if !pos.Quantity.IsPositive() {
				delete(m.intraday, symbol)
			}

			if v := m.pdtStopCheck(ts); v != nil {
				out = append(out, *v)
			}
		}
	}

	if v := m.washSalePostCheck(symbol, price, ts); v != nil {
		out = append(out, *v)
	}
	return out
}

// pdtStopCheck stops the account for the day when a freshly recorded day
// trade crosses the PDT limit on a sub-threshold margin account.
func (m *Manager) pdtStopCheck(ts time.Time) *types.ComplianceViolation {
	if m.accountType != types.AccountMargin || m.account == nil {
		return nil
	}
	if m.account.Equity.GreaterThanOrEqual(decimal.NewFromInt(pdtEquityThreshold)) {
		return nil
	}

	count := m.dayTradesInWindow(clock.Midnight(ts))
	if count <= pdtMaxDayTrades {
		return nil
	}

	v := types.ComplianceViolation{
		Kind:     types.ViolationPDT,
		Severity: types.SeverityCritical,
		Action:   types.ActionStopDay,
		Title:    "Pattern Day Trader limit crossed",
		Description: fmt.Sprintf("day trade %d in %d business days executed with equity under $%d; trading stopped for the day",
			count, pdtWindowDays, pdtEquityThreshold),
		Regulation: "FINRA 4210",
		Details:    map[string]any{"day_trades": count},
		Timestamp:  ts,
	}
	m.violations = append(m.violations, v)
	m.tradingStopped = true
	m.stopReason = v.Description
	m.logger.Error("trading stopped for the day", zap.String("reason", v.Description))
	return &v
}

// washSalePostCheck flags sells below the trailing 30-day average buy price.
// Informational only; the loss may be disallowed if repurchased.
func (m *Manager) washSalePostCheck(symbol string, price decimal.Decimal, ts time.Time) *types.ComplianceViolation {
	cutoff := ts.AddDate(0, 0, -washSaleWindowDays)

	totalQty := decimal.Zero
	totalCost := decimal.Zero
	for _, entry := range m.history[symbol] {
		if entry.Side == types.OrderSideBuy && entry.Timestamp.After(cutoff) {
			totalQty = totalQty.Add(entry.Quantity)
			totalCost = totalCost.Add(entry.Price.Mul(entry.Quantity))
		}
	}
	if !totalQty.IsPositive() {
		return nil
	}

	avgBuy := totalCost.Div(totalQty)
	if price.GreaterThanOrEqual(avgBuy) {
		return nil
	}

	v := types.ComplianceViolation{
		Kind:     types.ViolationWashSale,
		Severity: types.SeverityInfo,
		Action:   types.ActionAllow,
		Title:    "Sale at a loss inside wash sale window",
		Description: fmt.Sprintf("%s sold at %s below the 30-day average buy price %s; repurchase within %d days disallows the loss",
			symbol, price.StringFixed(2), avgBuy.StringFixed(2), washSaleWindowDays),
		Regulation: "IRC Section 1091",
		Timestamp:  ts,
	}
	m.violations = append(m.violations, v)
	return &v
}

// ResetDaily clears the intraday state and prunes expired records. Run once
// per trading day before the open.
func (m *Manager) ResetDaily(today time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	today = clock.Midnight(today)

	m.tradingStopped = false
	m.stopReason = ""
	m.intraday = make(map[string]*IntradayPosition)

	kept := m.unsettled[:0]
	for _, u := range m.unsettled {
		if u.SettlementDate.After(today) {
			kept = append(kept, u)
		}
	}
	m.unsettled = kept

	dtCutoff := today.AddDate(0, 0, -dayTradeRetentionDays)
	keptDT := m.dayTrades[:0]
	for _, dt := range m.dayTrades {
		if !dt.TradeDate.Before(dtCutoff) {
			keptDT = append(keptDT, dt)
		}
	}
	m.dayTrades = keptDT

	histCutoff := today.AddDate(0, 0, -historyRetentionDays)
	for symbol, entries := range m.history {
		keptH := entries[:0]
		for _, e := range entries {
			if !e.Timestamp.Before(histCutoff) {
				keptH = append(keptH, e)
			}
		}
		if len(keptH) == 0 {
			delete(m.history, symbol)
			continue
		}
		m.history[symbol] = keptH
	}

	m.logger.Info("daily compliance reset",
		zap.Int("unsettled", len(m.unsettled)),
		zap.Int("day_trades", len(m.dayTrades)))
}
