package swap

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/rgbln/rgbsettle/rgb"
)

var (
	// ErrNotWhitelisted is returned when no trade is whitelisted for a
	// payment hash.
	ErrNotWhitelisted = errors.New("no trade whitelisted")
)

// Entry are the whitelisted terms for a payment hash.
type Entry struct {
	ContractID rgb.ContractID
	Type       Type
}

// Whitelist holds the trades agreed out of band. Every entry is consumed at
// most once.
type Whitelist struct {
	mtx     sync.Mutex
	entries map[lntypes.Hash]Entry
}

// NewWhitelist returns an empty whitelist.
func NewWhitelist() *Whitelist {
	return &Whitelist{
		entries: make(map[lntypes.Hash]Entry),
	}
}

// Add whitelists a trade, replacing any trade for the same payment hash.
func (w *Whitelist) Add(trade *Trade) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	w.entries[trade.PaymentHash] = Entry{
		ContractID: trade.ContractID,
		Type:       trade.Type,
	}

	log.Debugf("Whitelisted %v trade of %d assets of %v for hash=%v",
		trade.Type.Side, trade.Type.AmountRgb, trade.ContractID,
		trade.PaymentHash)
}

// AddString parses an encoded trade and whitelists it.
func (w *Whitelist) AddString(s string) (*Trade, error) {
	trade, err := ParseTrade(s)
	if err != nil {
		return nil, err
	}

	w.Add(trade)

	return trade, nil
}

// Lookup returns the entry for a payment hash, if any.
func (w *Whitelist) Lookup(hash lntypes.Hash) (Entry, bool) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	entry, ok := w.entries[hash]
	return entry, ok
}

// TakeIf removes the entry for hash if check accepts it. The lookup, check
// and removal happen atomically, so an entry is never handed out twice. If
// check fails, its error is returned and the entry is kept.
func (w *Whitelist) TakeIf(hash lntypes.Hash,
	check func(Entry) error) (Entry, error) {

	w.mtx.Lock()
	defer w.mtx.Unlock()

	entry, ok := w.entries[hash]
	if !ok {
		return Entry{}, fmt.Errorf("%w: hash=%v", ErrNotWhitelisted,
			hash)
	}

	if err := check(entry); err != nil {
		return Entry{}, err
	}

	delete(w.entries, hash)

	return entry, nil
}

// Len returns the number of whitelisted trades.
func (w *Whitelist) Len() int {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return len(w.entries)
}
