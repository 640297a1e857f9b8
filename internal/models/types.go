package models

import "time"

type PositionState string
type SwapSide string
type TxState string
type TradeAction string
type TradeOutcome string

const (
	PositionOpen    PositionState = "OPEN"
	PositionExiting PositionState = "EXITING"
	PositionClosed  PositionState = "CLOSED"
	PositionFailed  PositionState = "FAILED"

	SwapBuy  SwapSide = "BUY"
	SwapSell SwapSide = "SELL"

	TxPending   TxState = "PENDING"
	TxConfirmed TxState = "CONFIRMED"
	TxFailed    TxState = "FAILED"

	TradeBuy  TradeAction = "BUY"
	TradeSell TradeAction = "SELL"

	OutcomeSuccess  TradeOutcome = "success"
	OutcomeFailed   TradeOutcome = "failed"
	OutcomeTimeout  TradeOutcome = "timeout"
	OutcomeRejected TradeOutcome = "rejected"
	OutcomePending  TradeOutcome = "pending"
)

func (s PositionState) Active() bool {
	return s == PositionOpen || s == PositionExiting
}

func (s PositionState) Terminal() bool {
	return s == PositionClosed || s == PositionFailed
}

type TokenDescriptor struct {
	Mint             string    `json:"mint"`
	Name             string    `json:"name"`
	Symbol           string    `json:"symbol"`
	InitialLiquidity float64   `json:"initial_liquidity"`
	CreatedAt        time.Time `json:"created_at"`
	Source           string    `json:"source"`
}

func (d TokenDescriptor) Age(now time.Time) time.Duration {
	if d.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(d.CreatedAt)
}

type TokenSnapshot struct {
	Mint          string        `json:"mint"`
	Symbol        string        `json:"symbol"`
	Name          string        `json:"name"`
	Decimals      int           `json:"decimals"`
	Price         float64       `json:"price"`
	Liquidity     float64       `json:"liquidity"`
	MarketCap     float64       `json:"market_cap"`
	Holders       int           `json:"holders"`
	TopHoldersPct float64       `json:"top_holders_pct"`
	PriceChange1h float64       `json:"price_change_1h"`
	Age           time.Duration `json:"age"`
	Risk          RiskFlags     `json:"risk"`
	RugScore      int           `json:"rug_score"`
	FetchedAt     time.Time     `json:"fetched_at"`
}

type Position struct {
	ID     string `json:"id"`
	Mint   string `json:"mint"`
	Symbol string `json:"symbol"`
	Wallet string `json:"wallet"`

	EntryPrice     float64   `json:"entry_price"`
	Quantity       float64   `json:"quantity"`
	CostBasis      float64   `json:"cost_basis"`
	EntryLiquidity float64   `json:"entry_liquidity"`
	TokenDecimals  int       `json:"token_decimals"`
	OpenedAt       time.Time `json:"opened_at"`
	EntryTxRef     string    `json:"entry_tx_ref"`

	TakeProfit      float64 `json:"take_profit"`
	StopLoss        float64 `json:"stop_loss"`
	TrailingDelta   float64 `json:"trailing_delta"`
	HighWater       float64 `json:"high_water"`
	TakeProfitStage int     `json:"take_profit_stage"`

	State            PositionState `json:"state"`
	LastEvaluatedAt  time.Time     `json:"last_evaluated_at"`
	LastPrice        float64       `json:"last_price"`
	MissingSnapshots int           `json:"missing_snapshots"`

	SellAttempts    int       `json:"sell_attempts"`
	SellReason      string    `json:"sell_reason"`
	SellFraction    float64   `json:"sell_fraction"`
	SellQty         float64   `json:"sell_qty"`
	SellTxRef       string    `json:"sell_tx_ref"`
	SellSubmittedAt time.Time `json:"sell_submitted_at"`
	SellExpectedOut float64   `json:"sell_expected_out"`
	SellPrice       float64   `json:"sell_price"`
	NextSellAt      time.Time `json:"next_sell_at"`
	PrevSells       []SellTx  `json:"prev_sells,omitempty"`

	ExitPrice    float64   `json:"exit_price"`
	Proceeds     float64   `json:"proceeds"`
	ReleasedCost float64   `json:"released_cost"`
	ClosedAt     time.Time `json:"closed_at"`
	LastError    string    `json:"last_error"`
}

// SellTx is a sell whose confirmation timed out. Its signature may still
// land until the blockhash expires.
type SellTx struct {
	TxRef       string    `json:"tx_ref"`
	ExpectedOut float64   `json:"expected_out"`
	Price       float64   `json:"price"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// InitialCost is the cost basis before any partial exits.
func (p Position) InitialCost() float64 {
	return p.CostBasis + p.ReleasedCost
}

func (p Position) RealizedPnL() float64 {
	if p.State != PositionClosed {
		return 0
	}
	return p.Proceeds - p.InitialCost()
}

type Factor struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Points float64 `json:"points"`
}

type ScoredCandidate struct {
	Mint     string   `json:"mint"`
	Score    float64  `json:"score"`
	Accepted bool     `json:"accepted"`
	Verdict  string   `json:"verdict"`
	Factors  []Factor `json:"factors"`
}

type SwapRequest struct {
	Side           SwapSide `json:"side"`
	InputMint      string   `json:"input_mint"`
	OutputMint     string   `json:"output_mint"`
	Amount         float64  `json:"amount"`
	InputDecimals  int      `json:"input_decimals"`
	OutputDecimals int      `json:"output_decimals"`
	SlippageBps    int      `json:"slippage_bps"`
}

type Fill struct {
	TxRef          string    `json:"tx_ref"`
	InAmount       float64   `json:"in_amount"`
	OutAmount      float64   `json:"out_amount"`
	Price          float64   `json:"price"`
	PriceImpactPct float64   `json:"price_impact_pct"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

type TxStatus struct {
	State TxState `json:"state"`
	Err   string  `json:"err,omitempty"`
}

type TradeRecord struct {
	ID         string        `json:"id"`
	PositionID string        `json:"position_id"`
	Action     TradeAction   `json:"action"`
	Attempt    int           `json:"attempt"`
	Mint       string        `json:"mint"`
	Symbol     string        `json:"symbol"`
	Wallet     string        `json:"wallet"`
	State      PositionState `json:"state"`
	Reason     string        `json:"reason"`

	EntryPrice     float64 `json:"entry_price"`
	Quantity       float64 `json:"quantity"`
	CostBasis      float64 `json:"cost_basis"`
	InputMint      string  `json:"input_mint"`
	OutputMint     string  `json:"output_mint"`
	InAmount       float64 `json:"in_amount"`
	OutAmount      float64 `json:"out_amount"`
	Price          float64 `json:"price"`
	PriceImpactPct float64 `json:"price_impact_pct"`
	SlippageBps    int     `json:"slippage_bps"`
	Liquidity      float64 `json:"liquidity"`

	Outcome   TradeOutcome `json:"outcome"`
	TxRef     string       `json:"tx_ref"`
	Error     string       `json:"error,omitempty"`
	LatencyMs int64        `json:"latency_ms"`

	RecordedAt time.Time `json:"recorded_at"`
}
