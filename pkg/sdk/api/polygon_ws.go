package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"

	"github.com/betbot/copybot/pkg/logger"
)

// Public Polygon WebSocket RPC endpoints, tried in order
var DefaultPolygonWSEndpoints = []string{
	"wss://polygon-bor-rpc.publicnode.com",
	"wss://polygon.drpc.org",
}

// FillSocket subscribes to contract logs over a raw JSON-RPC WebSocket.
// One subscription per call; when the connection drops the subscription
// reports the error and the caller decides whether to resubscribe.
type FillSocket struct {
	endpoints []string
}

// NewFillSocket creates a socket with the given endpoints, falling back
// to the public defaults when none are given.
func NewFillSocket(endpoints ...string) *FillSocket {
	if len(endpoints) == 0 {
		endpoints = DefaultPolygonWSEndpoints
	}
	return &FillSocket{endpoints: endpoints}
}

// SubscribeFills opens a log subscription filtered by contract addresses
// and topics, delivering decoded logs to sink.
func (s *FillSocket) SubscribeFills(ctx context.Context, contracts []common.Address, topics []common.Hash, sink chan<- types.Log) (ethereum.Subscription, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}

	subID, err := subscribeLogs(conn, contracts, topics)
	if err != nil {
		conn.Close()
		return nil, err
	}
	logger.Infof("log subscription established: sub_id=%s contracts=%d", subID, len(contracts))

	sub := &logSubscription{
		conn: conn,
		err:  make(chan error, 1),
		quit: make(chan struct{}),
	}
	go sub.readLoop(ctx, subID, sink)
	return sub, nil
}

func (s *FillSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	var lastErr error
	for _, endpoint := range s.endpoints {
		conn, _, err := dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			logger.Warnf("dial %s failed: %v", endpoint, err)
			lastErr = err
			continue
		}
		return conn, nil
	}
	return nil, fmt.Errorf("all websocket endpoints failed: %w", lastErr)
}

func subscribeLogs(conn *websocket.Conn, contracts []common.Address, topics []common.Hash) (string, error) {
	addrs := make([]string, len(contracts))
	for i, c := range contracts {
		addrs[i] = c.Hex()
	}
	topicStrs := make([]string, len(topics))
	for i, t := range topics {
		topicStrs[i] = t.Hex()
	}

	subMsg := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "eth_subscribe",
		"params": []interface{}{
			"logs",
			map[string]interface{}{
				"address": addrs,
				"topics":  topicStrs,
			},
		},
		"id": 1,
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		return "", fmt.Errorf("subscribe write failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("subscribe read failed: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	var resp struct {
		Result string `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(msg, &resp); err != nil {
		return "", fmt.Errorf("subscribe parse failed: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("subscribe error: %s", resp.Error.Message)
	}
	return resp.Result, nil
}

// logSubscription implements ethereum.Subscription over the raw socket
type logSubscription struct {
	conn *websocket.Conn
	err  chan error
	quit chan struct{}
}

func (s *logSubscription) Err() <-chan error {
	return s.err
}

func (s *logSubscription) Unsubscribe() {
	select {
	case <-s.quit:
		return
	default:
	}
	close(s.quit)
	s.conn.Close()
}

func (s *logSubscription) readLoop(ctx context.Context, subID string, sink chan<- types.Log) {
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.quit:
			case <-ctx.Done():
			default:
				s.err <- fmt.Errorf("websocket read: %w", err)
			}
			return
		}

		lg, ok := decodeLogNotification(msg, subID)
		if !ok {
			continue
		}

		select {
		case sink <- lg:
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// decodeLogNotification converts an eth_subscription notification into
// a types.Log. Messages for other subscriptions and removed (reorged)
// logs are dropped.
func decodeLogNotification(msg []byte, subID string) (types.Log, bool) {
	var notif struct {
		Method string `json:"method"`
		Params struct {
			Subscription string `json:"subscription"`
			Result       struct {
				Address     string   `json:"address"`
				Topics      []string `json:"topics"`
				Data        string   `json:"data"`
				BlockNumber string   `json:"blockNumber"`
				TxHash      string   `json:"transactionHash"`
				LogIndex    string   `json:"logIndex"`
				Removed     bool     `json:"removed"`
			} `json:"result"`
		} `json:"params"`
	}
	if err := json.Unmarshal(msg, &notif); err != nil {
		return types.Log{}, false
	}
	if notif.Method != "eth_subscription" || notif.Params.Subscription != subID {
		return types.Log{}, false
	}
	res := notif.Params.Result
	if res.Removed || len(res.Topics) == 0 {
		return types.Log{}, false
	}

	data, err := hexutil.Decode(res.Data)
	if err != nil {
		logger.Warnf("bad log data %s: %v", res.TxHash, err)
		return types.Log{}, false
	}

	lg := types.Log{
		Address: common.HexToAddress(res.Address),
		Data:    data,
		TxHash:  common.HexToHash(res.TxHash),
	}
	for _, t := range res.Topics {
		lg.Topics = append(lg.Topics, common.HexToHash(t))
	}
	if bn, err := hexutil.DecodeUint64(res.BlockNumber); err == nil {
		lg.BlockNumber = bn
	}
	if idx, err := hexutil.DecodeUint64(res.LogIndex); err == nil {
		lg.Index = uint(idx)
	}
	return lg, true
}
