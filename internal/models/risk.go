package models

import (
	"fmt"
	"strings"
)

// RiskFlags is an immutable set of rug-risk signals attached to a snapshot.
type RiskFlags uint16

const (
	RiskMintAuthority RiskFlags = 1 << iota
	RiskFreezeAuthority
	RiskLPUnlocked
	RiskLiquidityPulled
	RiskMutableMetadata
	RiskHighRugScore
)

var riskNames = []struct {
	flag RiskFlags
	name string
}{
	{RiskMintAuthority, "mint_authority_active"},
	{RiskFreezeAuthority, "freeze_authority_active"},
	{RiskLPUnlocked, "lp_unlocked"},
	{RiskLiquidityPulled, "liquidity_pulled"},
	{RiskMutableMetadata, "mutable_metadata"},
	{RiskHighRugScore, "high_rug_score"},
}

func (f RiskFlags) Has(flag RiskFlags) bool {
	return flag != 0 && f&flag == flag
}

func (f RiskFlags) With(flag RiskFlags) RiskFlags {
	return f | flag
}

func (f RiskFlags) Intersect(other RiskFlags) RiskFlags {
	return f & other
}

func (f RiskFlags) Empty() bool {
	return f == 0
}

func (f RiskFlags) Names() []string {
	names := make([]string, 0, len(riskNames))
	for _, rn := range riskNames {
		if f&rn.flag != 0 {
			names = append(names, rn.name)
		}
	}
	return names
}

func (f RiskFlags) String() string {
	if f == 0 {
		return "none"
	}
	return strings.Join(f.Names(), ",")
}

func ParseRiskFlag(name string) (RiskFlags, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, rn := range riskNames {
		if rn.name == name {
			return rn.flag, nil
		}
	}
	return 0, fmt.Errorf("Неизвестный флаг риска: %s", name)
}

func ParseRiskFlags(names []string) (RiskFlags, error) {
	var flags RiskFlags
	for _, name := range names {
		flag, err := ParseRiskFlag(name)
		if err != nil {
			return 0, err
		}
		flags = flags.With(flag)
	}
	return flags, nil
}
