package domain

// PersistedState is the durable slice of engine state: portfolio, order
// history, watchlist, and the selected instrument survive restarts. Live
// prices and history are deliberately absent; the feed reseeds from fixed
// initial values on every startup.
type PersistedState struct {
	Portfolio Portfolio `json:"portfolio"`
	Orders    []*Order  `json:"orders"` // insertion order (seq ascending)
	Watchlist []string  `json:"watchlist"`
	Selected  string    `json:"selected"`
	NextSeq   uint64    `json:"next_seq"`
}
