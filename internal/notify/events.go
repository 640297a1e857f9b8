package notify

import (
	"fmt"

	"snipebot/internal/models"
)

func Opened(p models.Position) Event {
	return Event{
		Kind:       PositionOpened,
		PositionID: p.ID,
		Mint:       p.Mint,
		Symbol:     p.Symbol,
		Title:      fmt.Sprintf("Открыта позиция %s (%s)", p.Symbol, shortMint(p.Mint)),
		Lines: []string{
			fmt.Sprintf("Цена входа: %s", formatFloat(p.EntryPrice)),
			fmt.Sprintf("Количество: %s", formatFloat(p.Quantity)),
			fmt.Sprintf("Вложено: %s", formatFloat(p.CostBasis)),
			fmt.Sprintf("TP: +%.0f%%  SL: -%.0f%%", p.TakeProfit*100, p.StopLoss*100),
		},
	}
}

func Reduced(p models.Position, soldQty, proceeds float64) Event {
	return Event{
		Kind:       PositionReduced,
		PositionID: p.ID,
		Mint:       p.Mint,
		Symbol:     p.Symbol,
		Title:      fmt.Sprintf("Частичная продажа %s (%s)", p.Symbol, shortMint(p.Mint)),
		Lines: []string{
			fmt.Sprintf("Продано: %s, выручка %s", formatFloat(soldQty), formatFloat(proceeds)),
			fmt.Sprintf("Остаток: %s", formatFloat(p.Quantity)),
			fmt.Sprintf("Ступень TP: %d", p.TakeProfitStage),
		},
	}
}

func Closed(p models.Position) Event {
	pnl := p.RealizedPnL()
	pct := 0.0
	if cost := p.InitialCost(); cost > 0 {
		pct = pnl / cost * 100
	}
	return Event{
		Kind:       PositionClosed,
		PositionID: p.ID,
		Mint:       p.Mint,
		Symbol:     p.Symbol,
		Title:      fmt.Sprintf("Позиция %s закрыта: %s", p.Symbol, p.SellReason),
		Lines: []string{
			fmt.Sprintf("Вход: %s  Выход: %s", formatFloat(p.EntryPrice), formatFloat(p.ExitPrice)),
			fmt.Sprintf("PnL: %s (%.2f%%)", formatFloat(pnl), pct),
			fmt.Sprintf("Транзакция: %s", p.SellTxRef),
		},
	}
}

func Failed(p models.Position) Event {
	return Event{
		Kind:       PositionFailed,
		PositionID: p.ID,
		Mint:       p.Mint,
		Symbol:     p.Symbol,
		Title:      fmt.Sprintf("Позиция %s требует ручного вмешательства", p.Symbol),
		Lines: []string{
			fmt.Sprintf("Попыток продажи: %d", p.SellAttempts),
			fmt.Sprintf("Количество: %s", formatFloat(p.Quantity)),
			fmt.Sprintf("Ошибка: %s", p.LastError),
		},
	}
}

func BuyFailedEvent(mint, symbol string, err error) Event {
	return Event{
		Kind:   BuyFailed,
		Mint:   mint,
		Symbol: symbol,
		Title:  fmt.Sprintf("Покупка %s не удалась", symbol),
		Lines:  []string{err.Error()},
	}
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%.8g", v)
}
