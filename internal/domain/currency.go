package domain

// EquivalentCurrency returns the currency treated as interchangeable with the
// given one at 1:1 parity for balance-sufficiency checks. Only USD and USDT
// form such a pair; every other code maps to itself.
//
// The pair is a fallback, never a pool: a requirement is funded from exactly
// one of the two balances, whichever actually holds enough. Summing them
// would overstate available funds.
func EquivalentCurrency(currency string) string {
	switch currency {
	case "USD":
		return "USDT"
	case "USDT":
		return "USD"
	}
	return currency
}
