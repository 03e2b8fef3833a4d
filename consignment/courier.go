package consignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rgbln/rgbsettle/jsonrpc"
)

const (
	// DefaultProxyTimeout is the default time we wait for the proxy to
	// accept a consignment.
	DefaultProxyTimeout = 90 * time.Second

	// postMethod is the proxy method that stores a consignment for a
	// recipient.
	postMethod = "consignment.post"

	// consignmentField is the multipart field carrying the file.
	consignmentField = "file"
)

var (
	// ErrProofRelayFailed is returned when a consignment could not be
	// delivered to the counterparty, either because the proxy was
	// unreachable or because it rejected the consignment.
	ErrProofRelayFailed = errors.New("unable to relay consignment")
)

// Courier delivers consignments to the counterparty of a transfer.
type Courier interface {
	// DeliverConsignment delivers the consignment file at path, keyed by
	// the transaction it is anchored in. Delivery is attempted once.
	DeliverConsignment(ctx context.Context, txid chainhash.Hash,
		path string) error
}

// ProxyCourierCfg is the configuration of a ProxyCourier.
type ProxyCourierCfg struct {
	// URL is the JSON-RPC endpoint of the proxy.
	URL string `long:"url" description:"The JSON-RPC endpoint of the RGB proxy server used to relay consignments"`

	// Timeout bounds a single delivery.
	Timeout time.Duration `long:"timeout" description:"The time to wait for the proxy to accept a consignment. Valid time units are {s, m, h}."`

	// UserAgent identifies us towards the proxy.
	UserAgent string `no-flag:"true"`
}

// postParams are the parameters of a consignment.post call.
type postParams struct {
	RecipientID string `json:"recipient_id"`
}

// ProxyCourier delivers consignments through an RGB proxy server that the
// counterparty polls.
type ProxyCourier struct {
	client *jsonrpc.Client
}

// NewProxyCourier creates a courier for the proxy described by cfg.
func NewProxyCourier(cfg *ProxyCourierCfg) *ProxyCourier {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultProxyTimeout
	}

	client := jsonrpc.NewClient(cfg.URL, timeout)
	client.SetUserAgent(cfg.UserAgent)

	return &ProxyCourier{
		client: client,
	}
}

// DeliverConsignment posts the consignment at path to the proxy, keyed by
// txid. A null or false result counts as a rejection.
//
// NOTE: This implements the Courier interface.
func (p *ProxyCourier) DeliverConsignment(ctx context.Context,
	txid chainhash.Hash, path string) error {

	log.Infof("Posting consignment for txid=%v to proxy %v", txid,
		p.client.URL())

	var accepted bool
	err := p.client.CallWithFile(
		ctx, postMethod, &postParams{RecipientID: txid.String()},
		consignmentField, path, &accepted,
	)
	if err != nil {
		return fmt.Errorf("%w: txid=%v: %v", ErrProofRelayFailed, txid,
			err)
	}
	if !accepted {
		return fmt.Errorf("%w: txid=%v: rejected by proxy",
			ErrProofRelayFailed, txid)
	}

	return nil
}

// A compile-time interface to ensure ProxyCourier meets the Courier
// interface.
var _ Courier = (*ProxyCourier)(nil)
