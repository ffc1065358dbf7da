package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/interledgerx/plugin-bells/internal/ledger"
	"github.com/interledgerx/plugin-bells/internal/metrics"
	"go.uber.org/zap"
)

// JSON-RPC 2.0 framing for the ledger's messaging channel.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      *int64            `json:"id"`
	Result  json.RawMessage   `json:"result,omitempty"`
	Error   *rpcResponseError `json:"error,omitempty"`
}

type rpcResult struct {
	result json.RawMessage
	err    error
}

// rpcChannel correlates requests and responses over one websocket session.
// Ids increase monotonically from 1 and are never reused; a fresh channel is
// created per connection, so ids carry no meaning across reconnects.
type rpcChannel struct {
	write   func(v any) error
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan rpcResult
}

func newRPCChannel(write func(v any) error, logger *zap.SugaredLogger, m *metrics.Metrics) *rpcChannel {
	return &rpcChannel{
		write:   write,
		logger:  logger,
		metrics: m,
		pending: make(map[int64]chan rpcResult),
	}
}

// Call sends one request and suspends the caller until the matching
// response arrives, the context expires, or the connection is lost.
func (r *rpcChannel) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	ch := make(chan rpcResult, 1)
	r.pending[id] = ch
	r.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	r.logger.Debugw("rpc call", "method", method, "id", id)
	if err := r.write(req); err != nil {
		r.forget(id)
		r.metrics.RecordRPC(ctx, method, false)
		return nil, fmt.Errorf("send %s request: %w", method, err)
	}

	select {
	case res := <-ch:
		r.metrics.RecordRPC(ctx, method, res.err == nil)
		return res.result, res.err
	case <-ctx.Done():
		r.forget(id)
		r.metrics.RecordRPC(ctx, method, false)
		return nil, ctx.Err()
	}
}

// Handle routes a response frame to the caller waiting on its id. It
// reports whether the id matched a pending call.
func (r *rpcChannel) Handle(resp *rpcResponse) bool {
	if resp.ID == nil {
		return false
	}

	r.mu.Lock()
	ch, ok := r.pending[*resp.ID]
	if ok {
		delete(r.pending, *resp.ID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if resp.Error != nil {
		ch <- rpcResult{err: ledger.MapRPCError(resp.Error.Code, resp.Error.Message)}
	} else {
		ch <- rpcResult{result: resp.Result}
	}
	return true
}

// FailAll rejects every pending call. Called exactly once per session, when
// its socket closes; no pending record is ever silently dropped.
func (r *rpcChannel) FailAll(err error) {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[int64]chan rpcResult)
	r.mu.Unlock()

	for id, ch := range pending {
		r.logger.Debugw("rejecting pending rpc call", "id", id, "error", err)
		ch <- rpcResult{err: err}
	}
}

func (r *rpcChannel) forget(id int64) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}
