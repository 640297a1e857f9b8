package config

import (
	"errors"
	"fmt"
)

func (c *Config) Validate() error {
	var errs []error

	t := c.Trading
	// Market prices are quoted in USD, so entry prices must be too.
	if t.QuoteMint != USDT && t.QuoteMint != USDC {
		errs = append(errs, fmt.Errorf("quote_mint должен быть USDT или USDC, получено %q", t.QuoteMint))
	}
	if t.TakeProfit <= 0 {
		errs = append(errs, fmt.Errorf("take_profit должен быть > 0, получено %v", t.TakeProfit))
	}
	if t.StopLoss <= 0 || t.StopLoss >= 1 {
		errs = append(errs, fmt.Errorf("stop_loss должен быть в (0,1), получено %v", t.StopLoss))
	}
	if t.TrailingDelta < 0 || t.TrailingDelta >= 1 {
		errs = append(errs, fmt.Errorf("trailing_delta должен быть в [0,1), получено %v", t.TrailingDelta))
	}
	if t.LiquidityDropRatio < 0 || t.LiquidityDropRatio > 1 {
		errs = append(errs, fmt.Errorf("liquidity_drop_ratio должен быть в [0,1], получено %v", t.LiquidityDropRatio))
	}
	if t.AmountPerTrade <= 0 {
		errs = append(errs, fmt.Errorf("amount_per_trade должен быть > 0"))
	}
	if t.MaxPositions < 1 {
		errs = append(errs, fmt.Errorf("max_positions должен быть >= 1"))
	}
	if t.MaxCapital < t.AmountPerTrade {
		errs = append(errs, fmt.Errorf("max_capital (%v) меньше amount_per_trade (%v)", t.MaxCapital, t.AmountPerTrade))
	}
	if t.SlippageBps <= 0 || t.SlippageBps > 10_000 {
		errs = append(errs, fmt.Errorf("slippage_bps должен быть в (0,10000], получено %d", t.SlippageBps))
	}

	prev := 0.0
	for i, st := range t.TakeProfitStages {
		if st.Ratio <= prev {
			errs = append(errs, fmt.Errorf("ступень TP #%d: ratio %v должен возрастать", i+1, st.Ratio))
		}
		if st.Ratio > t.TakeProfit {
			errs = append(errs, fmt.Errorf("ступень TP #%d: ratio %v больше take_profit %v", i+1, st.Ratio, t.TakeProfit))
		}
		if st.Fraction <= 0 || st.Fraction > 1 {
			errs = append(errs, fmt.Errorf("ступень TP #%d: fraction должен быть в (0,1]", i+1))
		}
		prev = st.Ratio
	}

	s := c.Supervisor
	if s.PollInterval <= 0 || s.ConfirmInterval <= 0 || s.ConfirmTimeout <= 0 {
		errs = append(errs, fmt.Errorf("интервалы супервизора должны быть > 0"))
	}
	if s.SellBackoff <= 0 || s.SellBackoffMax < s.SellBackoff {
		errs = append(errs, fmt.Errorf("sell_backoff должен быть > 0 и не больше sell_backoff_max"))
	}
	if s.MaxSellAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_sell_attempts должен быть >= 1"))
	}
	if s.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency должен быть >= 1"))
	}
	if s.DrainTimeout <= 0 {
		errs = append(errs, fmt.Errorf("drain_timeout должен быть > 0"))
	}

	r := c.Retry
	if r.Attempts < 1 || r.BaseDelay <= 0 || r.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("параметры retry должны быть положительными"))
	}

	if c.Feed.Enabled && c.Feed.ReconnectMin <= 0 {
		errs = append(errs, fmt.Errorf("feed.reconnect_min должен быть > 0"))
	}
	if c.Market.RPS <= 0 || c.Exchange.RPS <= 0 {
		errs = append(errs, fmt.Errorf("rps должен быть > 0"))
	}
	if !c.Runtime.DryRun && (c.Exchange.RPCURL == "" || c.Exchange.SignerURL == "" || c.Exchange.Wallet == "") {
		errs = append(errs, fmt.Errorf("для реальной торговли нужны rpc_url, signer_url и wallet"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("Некорректная конфигурация: %w", errors.Join(errs...))
	}
	return nil
}
