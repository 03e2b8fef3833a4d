package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"
)

const (
	// Version is the JSON-RPC protocol version spoken by the client.
	Version = "2.0"

	// maxResponseSize caps the size of a response body we read.
	maxResponseSize = 10 * 1024 * 1024
)

var (
	// ErrNullResult is returned when a call succeeded at the protocol
	// level but the server returned a null result.
	ErrNullResult = errors.New("json-rpc call returned no result")
)

// Error is an error object returned by a JSON-RPC server.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error returns the error string.
func (e *Error) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

// Client is a JSON-RPC 2.0 client that talks to a single HTTP endpoint.
type Client struct {
	url       string
	userAgent string
	http      *http.Client
	nextID    atomic.Uint64
}

// NewClient creates a client for the endpoint at url. Every call is bounded
// by timeout.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url: url,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetUserAgent sets the User-Agent header sent with every call.
func (c *Client) SetUserAgent(userAgent string) {
	c.userAgent = userAgent
}

// URL returns the endpoint of the client.
func (c *Client) URL() string {
	return c.url
}

// Call performs a JSON encoded call of method and decodes the result into
// result, which may be nil if the caller doesn't care about it.
func (c *Client) Call(ctx context.Context, method string, params,
	result any) error {

	body, err := json.Marshal(&request{
		JSONRPC: Version,
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("unable to encode %v request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.url, bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, method, result)
}

// CallWithFile performs a call of method as a multipart form, attaching the
// file at filePath under the form field fileField. The params are sent JSON
// encoded in the params field.
func (c *Client) CallWithFile(ctx context.Context, method string, params any,
	fileField, filePath string, result any) error {

	paramBytes, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("unable to encode %v params: %w", method, err)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("unable to open %v: %w", filePath, err)
	}
	defer file.Close()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	fields := []struct {
		name  string
		value string
	}{
		{"jsonrpc", Version},
		{"id", strconv.FormatUint(c.nextID.Add(1), 10)},
		{"method", method},
		{"params", string(paramBytes)},
	}
	for _, f := range fields {
		if err := form.WriteField(f.name, f.value); err != nil {
			return err
		}
	}

	part, err := form.CreateFormFile(fileField, filepath.Base(filePath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("unable to attach %v: %w", filePath, err)
	}
	if err := form.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.url, &body,
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	return c.do(req, method, result)
}

func (c *Client) do(req *http.Request, method string, result any) error {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%v request failed: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("unable to read %v response: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%v request failed with status %v: %s",
			method, resp.Status, bytes.TrimSpace(raw))
	}

	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("unable to decode %v response: %w", method,
			err)
	}
	if r.Error != nil {
		return r.Error
	}

	if len(r.Result) == 0 || bytes.Equal(r.Result, []byte("null")) {
		return fmt.Errorf("%v: %w", method, ErrNullResult)
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(r.Result, result); err != nil {
		return fmt.Errorf("unable to decode %v result: %w", method, err)
	}

	return nil
}
