package jupiter

import "time"

type asset struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Symbol               string     `json:"symbol"`
	Decimals             int        `json:"decimals"`
	USDPrice             float64    `json:"usdPrice"`
	Liquidity            float64    `json:"liquidity"`
	Mcap                 float64    `json:"mcap"`
	FDV                  float64    `json:"fdv"`
	HolderCount          int        `json:"holderCount"`
	TopHoldersPercentage *float64   `json:"topHoldersPercentage"`
	CreatedAt            *time.Time `json:"createdAt"`
	Audit                struct {
		MintAuthorityDisabled   *bool    `json:"mintAuthorityDisabled"`
		FreezeAuthorityDisabled *bool    `json:"freezeAuthorityDisabled"`
		TopHoldersPercentage    *float64 `json:"topHoldersPercentage"`
	} `json:"audit"`
	Stats1h struct {
		PriceChange float64 `json:"priceChange"`
	} `json:"stats1h"`
}

func (a asset) topHolders() float64 {
	switch {
	case a.Audit.TopHoldersPercentage != nil:
		return *a.Audit.TopHoldersPercentage
	case a.TopHoldersPercentage != nil:
		return *a.TopHoldersPercentage
	default:
		return 100
	}
}

func (a asset) marketCap() float64 {
	if a.Mcap > 0 {
		return a.Mcap
	}
	return a.FDV
}

type rugReport struct {
	Score     int  `json:"score"`
	Rugged    bool `json:"rugged"`
	TokenMeta struct {
		Mutable *bool `json:"mutable"`
	} `json:"tokenMeta"`
	Markets []struct {
		LP struct {
			LPLockedPct float64 `json:"lpLockedPct"`
		} `json:"lp"`
	} `json:"markets"`
}

func (r rugReport) mutable() bool {
	return r.TokenMeta.Mutable == nil || *r.TokenMeta.Mutable
}

func (r rugReport) lpLockedPct() (float64, bool) {
	if len(r.Markets) == 0 {
		return 0, false
	}
	best := 0.0
	for _, m := range r.Markets {
		if m.LP.LPLockedPct > best {
			best = m.LP.LPLockedPct
		}
	}
	return best, true
}
