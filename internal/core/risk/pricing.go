package risk

import "github.com/shopspring/decimal"

// microsPerDollar converts decimal USD into the integer micro-USD the budget
// ledger stores.
var microsPerDollar = decimal.NewFromInt(1_000_000)

var tokensPerPriceUnit = decimal.NewFromInt(1000)

// EstimateCostMicros prices a token estimate for an agent type in integer
// micro-USD. Unknown agent types are charged the most conservative (highest)
// rate in the table; rounding is always up so estimates never under-budget.
func EstimateCostMicros(cfg Config, agentType string, tokens int64) int64 {
	price, ok := cfg.Prices[normalizeAgent(agentType)]
	if !ok {
		price = highestPrice(cfg)
	}

	cost := price.
		Mul(decimal.NewFromInt(tokens)).
		Div(tokensPerPriceUnit).
		Mul(microsPerDollar).
		Ceil()
	return cost.IntPart()
}

// highestPrice returns the maximum rate in the table, or zero when the table
// is empty.
func highestPrice(cfg Config) decimal.Decimal {
	max := decimal.Zero
	for _, p := range cfg.Prices {
		if p.GreaterThan(max) {
			max = p
		}
	}
	return max
}

func normalizeAgent(agentType string) string {
	// Price table keys are lower-case agent types.
	out := make([]byte, 0, len(agentType))
	for i := 0; i < len(agentType); i++ {
		c := agentType[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
