package rgbsettle

import (
	"sync"

	lfn "github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

// PaymentStatus is the state of a payment as seen by the local node.
type PaymentStatus uint8

const (
	// PaymentPending means the payment is in flight.
	PaymentPending PaymentStatus = iota

	// PaymentSucceeded means the payment was claimed or settled.
	PaymentSucceeded

	// PaymentFailed means the payment failed for good.
	PaymentFailed
)

// String returns the name of the status.
func (s PaymentStatus) String() string {
	switch s {
	case PaymentPending:
		return "pending"

	case PaymentSucceeded:
		return "succeeded"

	case PaymentFailed:
		return "failed"

	default:
		return "unknown"
	}
}

// PaymentInfo is what is known about a single payment.
type PaymentInfo struct {
	Preimage lfn.Option[lntypes.Preimage]
	Secret   lfn.Option[[32]byte]
	Status   PaymentStatus
	Amount   lfn.Option[lnwire.MilliSatoshi]
}

// PaymentStore tracks inbound and outbound payments by payment hash.
type PaymentStore struct {
	mtx      sync.Mutex
	inbound  map[lntypes.Hash]PaymentInfo
	outbound map[lntypes.Hash]PaymentInfo
}

// NewPaymentStore creates an empty payment store.
func NewPaymentStore() *PaymentStore {
	return &PaymentStore{
		inbound:  make(map[lntypes.Hash]PaymentInfo),
		outbound: make(map[lntypes.Hash]PaymentInfo),
	}
}

// AddOutbound records a payment we're about to send.
func (p *PaymentStore) AddOutbound(hash lntypes.Hash,
	amt lnwire.MilliSatoshi) {

	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.outbound[hash] = PaymentInfo{
		Status: PaymentPending,
		Amount: lfn.Some(amt),
	}
}

// RecordClaimed marks an inbound payment as claimed, adding it if it was
// never seen before.
func (p *PaymentStore) RecordClaimed(hash lntypes.Hash,
	preimage lfn.Option[lntypes.Preimage], secret lfn.Option[[32]byte],
	amt lnwire.MilliSatoshi) {

	p.mtx.Lock()
	defer p.mtx.Unlock()

	info := p.inbound[hash]
	info.Status = PaymentSucceeded
	info.Amount = lfn.Some(amt)
	if preimage.IsSome() {
		info.Preimage = preimage
	}
	if secret.IsSome() {
		info.Secret = secret
	}

	p.inbound[hash] = info
}

// RecordSent marks an outbound payment as settled. Unknown hashes are
// ignored and false is returned.
func (p *PaymentStore) RecordSent(hash lntypes.Hash,
	preimage lntypes.Preimage) bool {

	p.mtx.Lock()
	defer p.mtx.Unlock()

	info, ok := p.outbound[hash]
	if !ok {
		return false
	}

	info.Status = PaymentSucceeded
	info.Preimage = lfn.Some(preimage)
	p.outbound[hash] = info

	return true
}

// RecordFailed marks an outbound payment as failed. Unknown hashes are
// ignored and false is returned.
func (p *PaymentStore) RecordFailed(hash lntypes.Hash) bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	info, ok := p.outbound[hash]
	if !ok {
		return false
	}

	info.Status = PaymentFailed
	p.outbound[hash] = info

	return true
}

// Inbound returns the inbound payment with the given hash.
func (p *PaymentStore) Inbound(hash lntypes.Hash) lfn.Option[PaymentInfo] {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	info, ok := p.inbound[hash]
	if !ok {
		return lfn.None[PaymentInfo]()
	}

	return lfn.Some(info)
}

// Outbound returns the outbound payment with the given hash.
func (p *PaymentStore) Outbound(hash lntypes.Hash) lfn.Option[PaymentInfo] {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	info, ok := p.outbound[hash]
	if !ok {
		return lfn.None[PaymentInfo]()
	}

	return lfn.Some(info)
}
