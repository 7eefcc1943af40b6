package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrNoLiquidity       = errors.New("no liquidity")
	ErrStaleBook         = errors.New("orderbook stale")
	ErrMarketNotTradable = errors.New("market not accepting orders")
	ErrPositionClosed    = errors.New("position already closed")
	ErrInvalidAction     = errors.New("invalid action parameters")
	ErrWSDisconnect      = errors.New("websocket disconnected")
	ErrFillTimeout       = errors.New("fill confirmation timed out")
	ErrInconsistentState = errors.New("state inconsistency")
)
