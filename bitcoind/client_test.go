package bitcoind

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/rgbln/rgbsettle/fn"
	"github.com/rgbln/rgbsettle/wallet"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     json.RawMessage   `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// fakeBitcoind answers JSON-RPC requests with the handler registered for
// the method.
type fakeBitcoind struct {
	mtx      sync.Mutex
	handlers map[string]rpcHandler
	requests chan rpcRequest
}

type rpcHandler func(params []json.RawMessage) (any, *rpcError)

func (f *fakeBitcoind) handle(method string, handler rpcHandler) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.handlers[method] = handler
}

func newFakeBitcoind(t *testing.T) (*fakeBitcoind, *Client) {
	f := &fakeBitcoind{
		handlers: make(map[string]rpcHandler),
		requests: make(chan rpcRequest, 16),
	}

	// The client asks for the version before parsing some responses.
	f.handle("getnetworkinfo", func([]json.RawMessage) (any, *rpcError) {
		return map[string]any{
			"version":    250000,
			"subversion": "/Satoshi:25.0.0/",
		}, nil
	})

	server := httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(server.Close)

	client, err := NewClient(&Config{
		Host: strings.TrimPrefix(server.URL, "http://"),
		User: "user",
		Pass: "pass",
	})
	require.NoError(t, err)
	t.Cleanup(client.Stop)

	client.retryConfig = fn.RetryConfig{
		MaxRetries:        1,
		InitialBackoff:    time.Millisecond,
		BackoffMultiplier: 1,
		MaxBackoff:        time.Millisecond,
	}

	return f, client
}

func (f *fakeBitcoind) serveHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	select {
	case f.requests <- req:
	default:
	}

	resp := map[string]any{
		"id":     req.ID,
		"result": nil,
		"error":  nil,
	}

	f.mtx.Lock()
	handler, ok := f.handlers[req.Method]
	f.mtx.Unlock()

	if !ok {
		resp["error"] = &rpcError{Code: -32601, Message: "not found"}
	} else {
		result, rpcErr := handler(req.Params)
		resp["result"] = result
		if rpcErr != nil {
			resp["error"] = rpcErr
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestFetchTxOut(t *testing.T) {
	t.Parallel()

	f, client := newFakeBitcoind(t)

	pkScript := []byte{0x00, 0x14, 0x01, 0x02}
	unspent := wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 3}

	f.handle("gettxout", func(params []json.RawMessage) (any,
		*rpcError) {

		var txid string
		if err := json.Unmarshal(params[0], &txid); err != nil {
			return nil, &rpcError{Code: -8, Message: err.Error()}
		}
		if txid != unspent.Hash.String() {
			return nil, nil
		}

		return map[string]any{
			"bestblock":     strings.Repeat("00", 32),
			"confirmations": 3,
			"value":         0.0005,
			"scriptPubKey": map[string]any{
				"hex": hex.EncodeToString(pkScript),
			},
		}, nil
	})

	ctx := context.Background()

	txOut, err := client.FetchTxOut(ctx, unspent)
	require.NoError(t, err)
	require.Equal(t, wire.NewTxOut(50_000, pkScript), txOut)

	req := <-f.requests
	require.Equal(t, "gettxout", req.Method)
	require.Len(t, req.Params, 3)
	require.JSONEq(t, "true", string(req.Params[2]))

	spent := wire.OutPoint{Hash: chainhash.Hash{0x02}}
	txOut, err = client.FetchTxOut(ctx, spent)
	require.NoError(t, err)
	require.Nil(t, txOut)
}

func TestEstimateFeeRate(t *testing.T) {
	t.Parallel()

	f, client := newFakeBitcoind(t)

	estimate := func(feeRate float64) rpcHandler {
		return func([]json.RawMessage) (any, *rpcError) {
			return map[string]any{
				"feerate": feeRate,
				"blocks":  6,
			}, nil
		}
	}
	f.handle("estimatesmartfee", estimate(0.0002))

	ctx := context.Background()

	// 0.0002 BTC/kvB is 20 sat/vB.
	rate, err := client.EstimateFeeRate(ctx, 6)
	require.NoError(t, err)
	require.Equal(t, chainfee.SatPerKVByte(20_000).FeePerKWeight(), rate)

	// Estimates below the floor are raised to it.
	f.handle("estimatesmartfee", estimate(0.000001))
	rate, err = client.EstimateFeeRate(ctx, 6)
	require.NoError(t, err)
	require.Equal(t, chainfee.FeePerKwFloor, rate)

	f.handle("estimatesmartfee", func([]json.RawMessage) (any,
		*rpcError) {

		return map[string]any{
			"errors": []string{"Insufficient data"},
			"blocks": 0,
		}, nil
	})
	_, err = client.EstimateFeeRate(ctx, 6)
	require.ErrorContains(t, err, "Insufficient data")
}

func TestPublishTransaction(t *testing.T) {
	t.Parallel()

	f, client := newFakeBitcoind(t)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 1}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))

	f.handle("sendrawtransaction", func(params []json.RawMessage) (any,
		*rpcError) {

		var txHex string
		if err := json.Unmarshal(params[0], &txHex); err != nil {
			return nil, &rpcError{Code: -22, Message: err.Error()}
		}

		raw, err := hex.DecodeString(txHex)
		if err != nil {
			return nil, &rpcError{Code: -22, Message: err.Error()}
		}

		var decoded wire.MsgTx
		err = decoded.Deserialize(bytes.NewReader(raw))
		if err != nil || decoded.TxHash() != tx.TxHash() {
			return nil, &rpcError{Code: -22, Message: "bad tx"}
		}

		return decoded.TxHash().String(), nil
	})

	ctx := context.Background()
	require.NoError(t, client.PublishTransaction(ctx, tx))

	f.handle("sendrawtransaction", func([]json.RawMessage) (any,
		*rpcError) {

		return nil, &rpcError{Code: -26, Message: "txn-mempool-conflict"}
	})
	err := client.PublishTransaction(ctx, tx)
	require.ErrorIs(t, err, wallet.ErrOperationFailed)
	require.ErrorContains(t, err, "txn-mempool-conflict")
}

func TestCheckNetwork(t *testing.T) {
	t.Parallel()

	f, client := newFakeBitcoind(t)
	f.handle("getblockchaininfo", func([]json.RawMessage) (any,
		*rpcError) {

		return map[string]any{
			"chain":         "regtest",
			"blocks":        101,
			"bestblockhash": strings.Repeat("00", 32),
		}, nil
	})

	ctx := context.Background()
	require.NoError(t, client.CheckNetwork(
		ctx, &chaincfg.RegressionNetParams,
	))
	require.ErrorContains(t, client.CheckNetwork(
		ctx, &chaincfg.MainNetParams,
	), `"regtest", expected "main"`)
	require.ErrorContains(t, client.CheckNetwork(
		ctx, &chaincfg.TestNet4Params,
	), `expected "testnet4"`)

	// A network without a known chain name is rejected up front.
	require.ErrorIs(t, client.CheckNetwork(
		ctx, &chaincfg.SimNetParams,
	), ErrUnsupportedNetwork)
}
