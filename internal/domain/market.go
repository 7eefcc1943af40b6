package domain

import "time"

// TokenType identifies which side of a binary market a token represents.
type TokenType string

const (
	TokenYes TokenType = "YES"
	TokenNo  TokenType = "NO"
)

// Opposite returns the other side of the market.
func (t TokenType) Opposite() TokenType {
	if t == TokenYes {
		return TokenNo
	}
	return TokenYes
}

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive          MarketStatus = "active"
	MarketStatusClosed          MarketStatus = "closed"
	MarketStatusResolved        MarketStatus = "resolved"
	MarketStatusAcceptingOrders MarketStatus = "accepting_orders"
)

// Outcome is the resolution result of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Market is one prediction market from the catalog. Markets are created by
// the external discovery fetcher; the engine only reads them and flips status
// on resolution.
type Market struct {
	MarketID        int64
	ConditionID     string
	Question        string
	YesTokenID      string
	NoTokenID       string
	Category        string
	Status          MarketStatus
	AcceptingOrders bool
	EndDate         time.Time
	Outcome         *Outcome
	UpdatedAt       time.Time
}

// TokenIDs returns both token IDs, YES first.
func (m Market) TokenIDs() [2]string {
	return [2]string{m.YesTokenID, m.NoTokenID}
}

// TokenType maps a token ID back to its side. Returns false when the token
// does not belong to this market.
func (m Market) TokenType(tokenID string) (TokenType, bool) {
	switch tokenID {
	case m.YesTokenID:
		return TokenYes, true
	case m.NoTokenID:
		return TokenNo, true
	}
	return "", false
}

// Tradeable reports whether new entries may execute against this market.
func (m Market) Tradeable() bool {
	return m.AcceptingOrders &&
		(m.Status == MarketStatusActive || m.Status == MarketStatusAcceptingOrders)
}
