// Package rpc implements the single multiplexed JSON-RPC-over-WebSocket
// channel to the upstream Bob node. One connection per process; requests are
// matched to responses by id, subscription notifications are routed to the
// live-tick channel, and a dropped connection is re-established with a fixed
// 5 second backoff.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rawblock/qubic-flow-engine/internal/identity"
	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

const (
	reconnectBackoff = 5 * time.Second
	callTimeout      = 30 * time.Second

	methodGetBalance         = "qubic_getBalance"
	methodGetEpochInfo       = "qubic_getEpochInfo"
	methodGetEndEpochLogs    = "qubic_getEndEpochLogs"
	methodGetLogsByIDRange   = "qubic_getLogsByIdRange"
	methodGetComputors       = "qubic_getComputors"
	methodQuerySmartContract = "qubic_querySmartContract"
	methodSubscribeNewTicks  = "qubic_subscribe"
	subscriptionNewTicks     = "newTicks"
)

// Config carries the upstream connection settings.
type Config struct {
	URL string
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type subscriptionParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// Client is the process-wide upstream handle.
type Client struct {
	cfg Config

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	pending map[uint64]chan envelope
	nextID  uint64

	ticks     chan models.TickHeader
	subscribe bool

	cache *ttlCache

	done chan struct{}
}

// NewClient dials the Bob node and starts the reader pump. The connection is
// verified before returning; later disconnects are handled by the pump's
// reconnect loop.
func NewClient(cfg Config) (*Client, error) {
	c := &Client{
		cfg:     cfg,
		pending: make(map[uint64]chan envelope),
		ticks:   make(chan models.TickHeader, 256),
		cache:   newTTLCache(),
		done:    make(chan struct{}),
	}

	log.Printf("[RPC] Connecting to Bob node at %s...", cfg.URL)
	if err := c.connect(); err != nil {
		return nil, err
	}
	log.Println("[RPC] Connected to Bob node")

	go c.readPump()
	return c, nil
}

// Close tears down the connection and stops the reconnect loop.
func (c *Client) Close() {
	close(c.done)
	c.writeMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.writeMu.Unlock()
}

func (c *Client) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	return nil
}

// readPump routes responses by id and subscription notifications to the tick
// channel. On read error it fails all in-flight calls, reconnects with
// backoff and re-subscribes when a tick consumer is attached.
func (c *Client) readPump() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		var env envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			log.Printf("[RPC] Connection lost: %v. Reconnecting in %s...", err, reconnectBackoff)
			c.failPending(err)

			for {
				select {
				case <-c.done:
					return
				case <-time.After(reconnectBackoff):
				}
				if err := c.connect(); err != nil {
					log.Printf("[RPC] Reconnect failed: %v", err)
					continue
				}
				log.Println("[RPC] Reconnected to Bob node")
				if c.subscribe {
					if err := c.sendSubscribe(); err != nil {
						log.Printf("[RPC] Re-subscribe failed: %v", err)
					}
				}
				break
			}
			continue
		}

		if env.ID != nil {
			c.mu.Lock()
			ch, ok := c.pending[*env.ID]
			if ok {
				delete(c.pending, *env.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- env
			}
			continue
		}

		if env.Method != "" {
			c.handleNotification(env)
		}
	}
}

func (c *Client) handleNotification(env envelope) {
	var params subscriptionParams
	if err := json.Unmarshal(env.Params, &params); err != nil {
		return
	}
	if params.Subscription != subscriptionNewTicks {
		return
	}

	var header struct {
		TickNumber       uint64 `json:"tickNumber"`
		Epoch            uint32 `json:"epoch"`
		TransactionCount uint32 `json:"transactionCount"`
		Timestamp        int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(params.Result, &header); err != nil {
		return
	}

	tick := models.TickHeader{
		TickNumber: header.TickNumber,
		Epoch:      header.Epoch,
		TxCount:    header.TransactionCount,
		Timestamp:  time.UnixMilli(header.Timestamp).UTC(),
	}

	// Drop rather than block: the upstream re-emits each tick roughly once
	// per computor vote and the consumer dedups on a high-water mark anyway.
	select {
	case c.ticks <- tick:
	default:
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- envelope{Error: &rpcError{Code: -1, Message: err.Error()}}
		delete(c.pending, id)
	}
}

// call performs one request/response roundtrip and decodes the result.
func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan envelope, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := request{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("%s: write: %w", method, err)
	}

	timer := time.NewTimer(callTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("%s: timed out after %s", method, callTimeout)
	case env := <-ch:
		if env.Error != nil {
			return fmt.Errorf("%s: %w", method, env.Error)
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
		return nil
	}
}

func (c *Client) sendSubscribe() error {
	return c.call(context.Background(), methodSubscribeNewTicks, []any{subscriptionNewTicks}, nil)
}

// SubscribeTicks starts the live-tick subscription and returns the shared
// tick channel. The stream survives reconnects; consumers must deduplicate
// against a monotone high-water mark because the upstream re-emits ticks.
func (c *Client) SubscribeTicks(ctx context.Context) (<-chan models.TickHeader, error) {
	c.subscribe = true
	if err := c.sendSubscribe(); err != nil {
		return nil, err
	}
	return c.ticks, nil
}

// BalanceInfo is the upstream account view.
type BalanceInfo struct {
	Identity       string `json:"identity"`
	Balance        int64  `json:"balance"`
	CurrentTick    uint64 `json:"currentTick"`
	IncomingAmount int64  `json:"incomingAmount"`
	OutgoingAmount int64  `json:"outgoingAmount"`
}

// EpochInfo is the upstream epoch lifecycle view.
type EpochInfo struct {
	Epoch                uint32 `json:"epoch"`
	InitialTick          uint64 `json:"initialTick"`
	EndTick              uint64 `json:"endTick"`
	FinalTick            uint64 `json:"finalTick"`
	EndTickStartLogID    int64  `json:"endTickStartLogId"`
	EndTickEndLogID      int64  `json:"endTickEndLogId"`
	NumberOfTransactions uint64 `json:"numberOfTransactions"`
}

// bobLog is the wire shape of an upstream log entry.
type bobLog struct {
	Epoch      uint32          `json:"epoch"`
	LogID      int64           `json:"logId"`
	Tick       uint64          `json:"tick"`
	LogType    uint8           `json:"logType"`
	TxHash     string          `json:"txHash"`
	Source     string          `json:"source"`
	Dest       string          `json:"dest"`
	Amount     int64           `json:"amount"`
	AssetName  string          `json:"assetName"`
	LogData    json.RawMessage `json:"logData"`
	Timestamp  int64           `json:"timestamp"`
}

func (b bobLog) toModel() models.Log {
	return models.Log{
		Epoch:      b.Epoch,
		LogID:      b.LogID,
		TickNumber: b.Tick,
		LogType:    b.LogType,
		TxHash:     b.TxHash,
		Source:     b.Source,
		Dest:       b.Dest,
		Amount:     b.Amount,
		AssetName:  b.AssetName,
		RawData:    string(b.LogData),
		Timestamp:  time.UnixMilli(b.Timestamp).UTC(),
	}
}

// GetEpochInfo fetches the upstream epoch metadata.
func (c *Client) GetEpochInfo(ctx context.Context, epoch uint32) (EpochInfo, error) {
	var info EpochInfo
	err := c.call(ctx, methodGetEpochInfo, []any{epoch}, &info)
	return info, err
}

// GetEndEpochLogs fetches the full end-of-epoch log range for an epoch.
func (c *Client) GetEndEpochLogs(ctx context.Context, epoch uint32) ([]models.Log, error) {
	var raw []bobLog
	if err := c.call(ctx, methodGetEndEpochLogs, []any{epoch}, &raw); err != nil {
		return nil, err
	}
	logs := make([]models.Log, len(raw))
	for i, b := range raw {
		logs[i] = b.toModel()
	}
	return logs, nil
}

// GetLogsByIDRange fetches the logs of an epoch within [start, end].
func (c *Client) GetLogsByIDRange(ctx context.Context, epoch uint32, start, end int64) ([]models.Log, error) {
	var raw []bobLog
	if err := c.call(ctx, methodGetLogsByIDRange, []any{epoch, start, end}, &raw); err != nil {
		return nil, err
	}
	logs := make([]models.Log, len(raw))
	for i, b := range raw {
		logs[i] = b.toModel()
	}
	return logs, nil
}

// getComputors fetches and sanitises the epoch's computor list. Upstream
// addresses may carry trailing non-ASCII garbage.
func (c *Client) getComputors(ctx context.Context, epoch uint32) ([]string, error) {
	var result struct {
		Computors []string `json:"computors"`
	}
	if err := c.call(ctx, methodGetComputors, []any{epoch}, &result); err != nil {
		return nil, err
	}
	if len(result.Computors) != models.NumComputors {
		return nil, fmt.Errorf("computor list for epoch %d has %d entries, want %d",
			epoch, len(result.Computors), models.NumComputors)
	}

	clean := make([]string, len(result.Computors))
	for i, raw := range result.Computors {
		addr, err := identity.Sanitize(raw)
		if err != nil {
			return nil, fmt.Errorf("computor %d of epoch %d: %w", i, epoch, err)
		}
		clean[i] = addr
	}
	return clean, nil
}

// QuerySmartContract executes a read-only contract function and returns the
// hex-encoded output.
func (c *Client) QuerySmartContract(ctx context.Context, contract uint32, fn uint16, inputHex string) (string, error) {
	var out string
	err := c.call(ctx, methodQuerySmartContract, []any{contract, fn, inputHex}, &out)
	return out, err
}
