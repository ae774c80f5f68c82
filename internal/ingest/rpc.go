package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/launchwatch/engine/internal/store"
)

// DefaultLookbackBlocks is how far back the log scan reaches from head.
const DefaultLookbackBlocks = 500

// RPCSource scans token factory creation logs over JSON-RPC. It is the
// fallback of last resort: items carry addresses but no names or handles.
type RPCSource struct {
	endpoint string
	factory  string
	lookback uint64
	doer     *HTTPDoer
	nextID   atomic.Int64
}

func NewRPCSource(endpoint, factory string, lookback uint64, doer *HTTPDoer) *RPCSource {
	if lookback == 0 {
		lookback = DefaultLookbackBlocks
	}
	return &RPCSource{
		endpoint: strings.TrimSpace(endpoint),
		factory:  store.NormalizeAddress(factory),
		lookback: lookback,
		doer:     doer,
	}
}

func (s *RPCSource) Name() string { return SourceRPC }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *RPCSource) call(ctx context.Context, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}
	req := rpcRequest{JSONRPC: "2.0", ID: s.nextID.Add(1), Method: method, Params: params}
	var resp rpcResponse
	if err := s.doer.postJSON(ctx, s.endpoint, nil, req, &resp); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: rpc error %d: %s", method, resp.Error.Code, resp.Error.Message)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// Fetch returns tokens created by the factory in the lookback window, newest first.
func (s *RPCSource) Fetch(ctx context.Context, networkScope int) ([]store.Item, error) {
	if !store.ValidAddress(s.factory) {
		return nil, fmt.Errorf("rpc fetch: factory address not configured")
	}

	var head string
	if err := s.call(ctx, "eth_blockNumber", nil, &head); err != nil {
		return nil, fmt.Errorf("rpc fetch: %w", err)
	}
	headBlock, err := parseHexUint(head)
	if err != nil {
		return nil, fmt.Errorf("rpc fetch: block number %q: %w", head, err)
	}
	from := uint64(0)
	if headBlock > s.lookback {
		from = headBlock - s.lookback
	}

	filter := map[string]any{
		"address":   s.factory,
		"fromBlock": fmt.Sprintf("0x%x", from),
		"toBlock":   fmt.Sprintf("0x%x", headBlock),
	}
	var logs []rpcLog
	if err := s.call(ctx, "eth_getLogs", []any{filter}, &logs); err != nil {
		return nil, fmt.Errorf("rpc fetch: %w", err)
	}

	items := make([]store.Item, 0, len(logs))
	for i := len(logs) - 1; i >= 0; i-- {
		item, err := mapRPCLog(logs[i], networkScope)
		if err != nil {
			slog.Debug("rpc_log_skipped", "tx", logs[i].TransactionHash, "error", err)
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	return items, nil
}
