package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"market-maker-twap/infrastructure/logger"
)

// wsTicker 推送消息格式。
type wsTicker struct {
	Price          float64 `json:"price"`
	Timestamp      int64   `json:"ts"`
	Volume24h      float64 `json:"volume24h"`
	PriceChange24h float64 `json:"priceChange24h"`
	Spread         float64 `json:"spread"`
	Volatility     float64 `json:"volatility"`
}

// WSSource 订阅 WebSocket 价格推送，缓存最新快照。
type WSSource struct {
	name     string
	endpoint string
	Dialer   *websocket.Dialer
	// ReadTimeout 超过该时长无消息即断开重连
	ReadTimeout    time.Duration
	ReconnectDelay time.Duration
	log            *logger.Logger

	mu   sync.RWMutex
	last Snapshot
	have bool
}

func NewWSSource(name, endpoint string, log *logger.Logger) *WSSource {
	if log == nil {
		log = logger.NewNop()
	}
	return &WSSource{
		name:           name,
		endpoint:       endpoint,
		Dialer:         websocket.DefaultDialer,
		ReadTimeout:    30 * time.Second,
		ReconnectDelay: 2 * time.Second,
		log:            log,
	}
}

func (w *WSSource) Name() string { return w.name }

// Current 返回最近一次推送的快照。
func (w *WSSource) Current(ctx context.Context) (Snapshot, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.have {
		return Snapshot{}, ErrNoData
	}
	return w.last, nil
}

// Run 连接并读取消息，断线后按 ReconnectDelay 重连，直到 ctx 结束。
func (w *WSSource) Run(ctx context.Context) error {
	for {
		err := w.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.log.Warn("ws source disconnected", zap.String("source", w.name), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.ReconnectDelay):
		}
	}
}

func (w *WSSource) runOnce(ctx context.Context) error {
	conn, _, err := w.Dialer.DialContext(ctx, w.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.endpoint, err)
	}
	defer conn.Close()

	// ctx 结束时关闭连接以打断阻塞读
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := w.handle(message); err != nil {
			w.log.Debug("ws message dropped", zap.String("source", w.name), zap.Error(err))
		}
	}
}

func (w *WSSource) handle(message []byte) error {
	var t wsTicker
	if err := json.Unmarshal(message, &t); err != nil {
		return err
	}
	if t.Timestamp == 0 {
		t.Timestamp = time.Now().UnixMilli()
	}
	snap := Snapshot{
		Mid:            t.Price,
		Timestamp:      t.Timestamp,
		Volatility:     t.Volatility,
		Volume24h:      t.Volume24h,
		PriceChange24h: t.PriceChange24h,
		BidAskSpread:   t.Spread,
		Source:         w.name,
	}
	if err := snap.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.have && snap.Timestamp < w.last.Timestamp {
		return ErrOutOfOrder
	}
	w.last, w.have = snap, true
	return nil
}
