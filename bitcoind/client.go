package bitcoind

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/rgbln/rgbsettle/fn"
	"github.com/rgbln/rgbsettle/wallet"
)

// Config is the bitcoind RPC configuration.
type Config struct {
	Host string `long:"host" description:"The host:port of bitcoind's RPC interface"`
	User string `long:"user" description:"Username for bitcoind's RPC interface"`
	Pass string `long:"pass" description:"Password for bitcoind's RPC interface"`
}

// Client is a wallet.ChainQuery backed by bitcoind's JSON-RPC interface.
type Client struct {
	rpc *rpcclient.Client

	retryConfig fn.RetryConfig
}

// NewClient creates a client for the bitcoind instance in cfg. No connection
// is made until the first call.
func NewClient(cfg *Config) (*Client, error) {
	rpc, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:                 cfg.Host,
		User:                 cfg.User,
		Pass:                 cfg.Pass,
		DisableConnectOnNew:  true,
		DisableAutoReconnect: false,
		DisableTLS:           true,
		HTTPPostMode:         true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create bitcoind client: %w",
			err)
	}

	return &Client{
		rpc:         rpc,
		retryConfig: fn.DefaultRetryConfig(),
	}, nil
}

// Stop shuts the client down.
func (c *Client) Stop() {
	c.rpc.Shutdown()
}

// ErrUnsupportedNetwork is returned when checking a network bitcoind has no
// known chain name for.
var ErrUnsupportedNetwork = errors.New("unsupported network")

// chainNames maps the networks to the chain names bitcoind reports.
var chainNames = map[wire.BitcoinNet]string{
	chaincfg.MainNetParams.Net:       "main",
	chaincfg.TestNet3Params.Net:      "test",
	chaincfg.TestNet4Params.Net:      "testnet4",
	chaincfg.RegressionNetParams.Net: "regtest",
	chaincfg.SigNetParams.Net:        "signet",
}

// CheckNetwork makes sure bitcoind runs on the network of params.
func (c *Client) CheckNetwork(ctx context.Context,
	params *chaincfg.Params) error {

	want, ok := chainNames[params.Net]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnsupportedNetwork, params.Name)
	}

	info, err := receive(ctx, c.rpc.GetBlockChainInfo)
	if err != nil {
		return fmt.Errorf("unable to get blockchain info: %w", err)
	}

	if info.Chain != want {
		return fmt.Errorf("bitcoind runs on chain %q, expected %q",
			info.Chain, want)
	}

	return nil
}

// PublishTransaction broadcasts tx. A rejected transaction is not retried.
func (c *Client) PublishTransaction(ctx context.Context,
	tx *wire.MsgTx) error {

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return fmt.Errorf("unable to serialize tx: %w", err)
	}

	param, err := json.Marshal(hex.EncodeToString(buf.Bytes()))
	if err != nil {
		return err
	}

	_, err = receive(ctx, func() (json.RawMessage, error) {
		return c.rpc.RawRequest(
			"sendrawtransaction", []json.RawMessage{param},
		)
	})
	if err != nil {
		return fmt.Errorf("%w: unable to broadcast %v: %v",
			wallet.ErrOperationFailed, tx.TxHash(), err)
	}

	log.Infof("Broadcast txid=%v", tx.TxHash())

	return nil
}

// FetchTxOut returns the unspent output op, including outputs of mempool
// transactions. A spent or unknown output yields nil.
func (c *Client) FetchTxOut(ctx context.Context,
	op wire.OutPoint) (*wire.TxOut, error) {

	res, err := fn.RetryFuncN(
		ctx, c.retryConfig, func() (*btcjson.GetTxOutResult, error) {
			return receive(
				ctx, func() (*btcjson.GetTxOutResult, error) {
					return c.rpc.GetTxOut(
						&op.Hash, op.Index, true,
					)
				},
			)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to get txout %v: %w", op, err)
	}
	if res == nil {
		return nil, nil
	}

	value, err := btcutil.NewAmount(res.Value)
	if err != nil {
		return nil, err
	}
	pkScript, err := hex.DecodeString(res.ScriptPubKey.Hex)
	if err != nil {
		return nil, fmt.Errorf("invalid script of %v: %w", op, err)
	}

	return wire.NewTxOut(int64(value), pkScript), nil
}

// EstimateFeeRate returns bitcoind's smart fee estimate for confTarget. The
// estimate never drops below the fee floor.
func (c *Client) EstimateFeeRate(ctx context.Context,
	confTarget uint32) (chainfee.SatPerKWeight, error) {

	mode := btcjson.EstimateModeConservative
	res, err := fn.RetryFuncN(
		ctx, c.retryConfig,
		func() (*btcjson.EstimateSmartFeeResult, error) {
			return receive(
				ctx,
				func() (*btcjson.EstimateSmartFeeResult, error) {
					return c.rpc.EstimateSmartFee(
						int64(confTarget), &mode,
					)
				},
			)
		},
	)
	if err != nil {
		return 0, fmt.Errorf("unable to estimate fee: %w", err)
	}

	if res.FeeRate == nil {
		return 0, fmt.Errorf("no fee estimate for %d blocks: %v",
			confTarget, res.Errors)
	}

	// bitcoind reports BTC/kvB.
	satPerKVByte, err := btcutil.NewAmount(*res.FeeRate)
	if err != nil {
		return 0, err
	}

	feeRate := chainfee.SatPerKVByte(satPerKVByte).FeePerKWeight()
	if feeRate < chainfee.FeePerKwFloor {
		feeRate = chainfee.FeePerKwFloor
	}

	return feeRate, nil
}

// receive runs a blocking RPC call and returns early if ctx is done. The
// rpcclient calls don't take a context.
func receive[T any](ctx context.Context, call func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}

	resChan := make(chan result, 1)
	go func() {
		val, err := call()
		resChan <- result{val: val, err: err}
	}()

	select {
	case res := <-resChan:
		return res.val, res.err

	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

var _ wallet.ChainQuery = (*Client)(nil)
