package rgbrpc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/rgbln/rgbsettle/fn"
	"github.com/rgbln/rgbsettle/jsonrpc"
	"github.com/rgbln/rgbsettle/rgb"
)

const (
	// DefaultTimeout is the default timeout of calls to the RGB node.
	DefaultTimeout = 30 * time.Second

	methodOwnedValues = "contract.owned_values"
	methodCompose     = "transfer.compose"
	methodConsume     = "transfer.consume"
)

// Config is the configuration of the RGB node client.
type Config struct {
	URL     string        `long:"url" description:"The JSON-RPC endpoint of the RGB node"`
	Timeout time.Duration `long:"timeout" description:"The timeout of calls to the RGB node"`
}

// Client is an rgb.AssetLedger backed by an RGB node speaking JSON-RPC.
type Client struct {
	rpc *jsonrpc.Client

	retryConfig fn.RetryConfig
}

// NewClient creates a client for the RGB node in cfg.
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		rpc:         jsonrpc.NewClient(cfg.URL, timeout),
		retryConfig: fn.DefaultRetryConfig(),
	}
}

// ListOwnedValues returns the allocations of the contract owned by the local
// wallet.
func (c *Client) ListOwnedValues(ctx context.Context,
	contractID rgb.ContractID) ([]rgb.OwnedValue, error) {

	resp, err := fn.RetryFuncN(
		ctx, c.retryConfig, func() (*ownedValuesResponse, error) {
			var resp ownedValuesResponse
			err := c.rpc.Call(
				ctx, methodOwnedValues, &ownedValuesRequest{
					ContractID: contractID.String(),
				}, &resp,
			)

			return &resp, err
		},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to list owned values of %v: %w",
			contractID, err)
	}

	values := make([]rgb.OwnedValue, 0, len(resp.Allocations))
	for _, a := range resp.Allocations {
		seal, err := unmarshalOutPoint(a.Outpoint)
		if err != nil {
			return nil, err
		}

		values = append(values, rgb.OwnedValue{
			Seal:  seal,
			Value: a.Value,
		})
	}

	log.Tracef("Contract %v has %d owned values", contractID, len(values))

	return values, nil
}

// Transfer asks the RGB node to commit a transfer into the packet.
func (c *Client) Transfer(ctx context.Context,
	req *rgb.TransferRequest) (*psbt.Packet, *rgb.Consignment, error) {

	b64, err := req.Packet.B64Encode()
	if err != nil {
		return nil, nil, fmt.Errorf("unable to encode psbt: %w", err)
	}

	inputs := make([]string, 0, len(req.Inputs))
	for _, op := range req.Inputs {
		inputs = append(inputs, op.String())
	}

	var resp composeResponse
	err = c.rpc.Call(ctx, methodCompose, &composeRequest{
		ContractID:    req.ContractID.String(),
		Psbt:          b64,
		Inputs:        inputs,
		Beneficiaries: marshalBeneficiaries(req.Beneficiaries),
		Change:        marshalBeneficiaries(req.Change),
	}, &resp)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to compose transfer of "+
			"%v: %w", req.ContractID, err)
	}

	pkt, err := psbt.NewFromRawBytes(strings.NewReader(resp.Psbt), true)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid psbt from rgb node: %w",
			err)
	}

	bundles, err := unmarshalAnchors(resp.Anchors)
	if err != nil {
		return nil, nil, err
	}

	return pkt, &rgb.Consignment{
		ContractID: req.ContractID,
		Bundles:    bundles,
		Blob:       resp.Consignment,
	}, nil
}

// FinalizeTransfer asks the RGB node to consume a consignment.
func (c *Client) FinalizeTransfer(ctx context.Context, cons *rgb.Consignment,
	r rgb.Reveal) (rgb.Validity, error) {

	var resp consumeResponse
	err := c.rpc.Call(ctx, methodConsume, &consumeRequest{
		ContractID:  cons.ContractID.String(),
		Consignment: cons.Blob,
		Reveal: reveal{
			Outpoint:    r.OutPoint.String(),
			Blinding:    r.BlindingFactor,
			CloseMethod: r.CloseMethod.String(),
			WitnessVout: r.WitnessVout,
		},
	}, &resp)
	if err != nil {
		return rgb.ValidityInvalid, fmt.Errorf("unable to consume "+
			"consignment at %v: %w", r.OutPoint, err)
	}

	return unmarshalValidity(resp.Status)
}

var _ rgb.AssetLedger = (*Client)(nil)
