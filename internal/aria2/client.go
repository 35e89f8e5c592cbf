package aria2

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/itsBintang/zenith-downloader/internal/download"
	"github.com/itsBintang/zenith-downloader/internal/logctx"
	"github.com/itsBintang/zenith-downloader/internal/telemetry"
)

// Client speaks the aria2 JSON-RPC protocol over a local HTTP endpoint.
// Calls carry a bounded timeout and exactly one transparent retry before
// an RpcTimeoutError surfaces.
type Client struct {
	endpoint   string
	secret     string
	timeout    time.Duration
	httpClient *http.Client
	tel        *telemetry.Telemetry
}

func NewClient(port int, secret string, timeout time.Duration) *Client {
	return &Client{
		endpoint:   fmt.Sprintf("http://127.0.0.1:%d/jsonrpc", port),
		secret:     secret,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// RPCError is a failure reported by the daemon itself, as opposed to a
// transport failure reaching it.
type RPCError struct {
	Method  string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("aria2 rpc %s failed: %s (code %d)", e.Method, e.Message, e.Code)
}

// WithTelemetry enables per-call metrics and returns the client.
func (c *Client) WithTelemetry(tel *telemetry.Telemetry) *Client {
	c.tel = tel

	return c
}

// Call issues one JSON-RPC method call. A transport-level failure is
// retried once; the daemon answering with an error object is not a
// transport failure and is surfaced immediately.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	start := time.Now()

	result, err := c.callWithRetry(ctx, method, params)

	if c.tel != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}

		c.tel.RecordRPCCall(method, outcome, time.Since(start))
	}

	return result, err
}

func (c *Client) callWithRetry(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	result, err := c.call(ctx, method, params)
	if err == nil {
		return result, nil
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, err
	}

	logctx.LoggerFromContext(ctx).Debug("retrying daemon rpc", "method", method, "err", err)

	result, err = c.call(ctx, method, params)
	if err == nil {
		return result, nil
	}

	var rpcErr2 *RPCError
	if errors.As(err, &rpcErr2) {
		return nil, err
	}

	return nil, &download.RpcTimeoutError{Method: method, Err: err}
}

func (c *Client) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	callParams := make([]any, 0, len(params)+1)
	if c.secret != "" {
		callParams = append(callParams, "token:"+c.secret)
	}

	callParams = append(callParams, params...)

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      "zenith",
		Method:  method,
		Params:  callParams,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rpc request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc transport error: %w", err)
	}
	defer resp.Body.Close()

	// aria2 answers 4xx with a JSON error object in the body. Only treat
	// responses without a decodable body as transport failures.
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		b, _ := io.ReadAll(resp.Body)

		return nil, fmt.Errorf("failed to decode rpc response (status %d): %w: %s", resp.StatusCode, err, string(b))
	}

	if rpcResp.Error != nil {
		return nil, &RPCError{Method: method, Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}

	return rpcResp.Result, nil
}

// TaskStatus mirrors the subset of aria2.tellStatus the core consumes.
// aria2 serializes every number as a string.
type TaskStatus struct {
	GID             string `json:"gid"`
	Status          string `json:"status"`
	TotalLength     string `json:"totalLength"`
	CompletedLength string `json:"completedLength"`
	DownloadSpeed   string `json:"downloadSpeed"`
	UploadSpeed     string `json:"uploadSpeed"`
	ErrorMessage    string `json:"errorMessage"`
	Dir             string `json:"dir"`
	Files           []struct {
		Path string `json:"path"`
	} `json:"files"`
}

// AddURI submits a URL and returns the daemon task GID.
func (c *Client) AddURI(ctx context.Context, url string, options map[string]string) (string, error) {
	result, err := c.Call(ctx, "aria2.addUri", []string{url}, options)
	if err != nil {
		return "", err
	}

	var gid string
	if err := json.Unmarshal(result, &gid); err != nil {
		return "", fmt.Errorf("unexpected addUri response: %w", err)
	}

	return gid, nil
}

// TellStatus queries the current state of a task.
func (c *Client) TellStatus(ctx context.Context, gid string) (*TaskStatus, error) {
	result, err := c.Call(ctx, "aria2.tellStatus", gid)
	if err != nil {
		return nil, err
	}

	var status TaskStatus
	if err := json.Unmarshal(result, &status); err != nil {
		return nil, fmt.Errorf("unexpected tellStatus response: %w", err)
	}

	return &status, nil
}

func (c *Client) Pause(ctx context.Context, gid string) error {
	_, err := c.Call(ctx, "aria2.pause", gid)

	return err
}

func (c *Client) Unpause(ctx context.Context, gid string) error {
	_, err := c.Call(ctx, "aria2.unpause", gid)

	return err
}

// Remove drops a task from the daemon. Both the live task and its stopped
// result are removed so the GID fully disappears from the daemon's books.
func (c *Client) Remove(ctx context.Context, gid string) error {
	if _, err := c.Call(ctx, "aria2.remove", gid); err != nil {
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			return err
		}
		// Already stopped tasks reject aria2.remove; fall through to the
		// result removal below.
	}

	_, err := c.Call(ctx, "aria2.removeDownloadResult", gid)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return nil
		}
	}

	return err
}

// Version is a liveness probe. It is issued with a short deadline and no
// retry so repeated initialization stays cheap.
func (c *Client) Version(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := c.call(ctx, "aria2.getVersion", nil)

	return err
}

// Shutdown asks the daemon to stop gracefully.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.call(ctx, "aria2.shutdown", nil)

	return err
}
