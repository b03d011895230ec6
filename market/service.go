package market

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"market-maker-twap/infrastructure/logger"
)

// Service 定时轮询行情源，写入历史并向订阅者广播。
type Service struct {
	src      Source
	history  *History
	pub      *Publisher
	interval time.Duration
	log      *logger.Logger
	onError  func(error)
}

func NewService(src Source, history *History, pub *Publisher, interval time.Duration, log *logger.Logger) *Service {
	if history == nil {
		history = NewHistory(DefaultHistorySize)
	}
	if pub == nil {
		pub = NewPublisher()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{src: src, history: history, pub: pub, interval: interval, log: log}
}

// OnError 注册轮询失败回调（用于指标/告警）。
func (s *Service) OnError(fn func(error)) {
	s.onError = fn
}

func (s *Service) History() *History     { return s.history }
func (s *Service) Publisher() *Publisher { return s.pub }

// Poll 拉取一次行情；成功时写入历史并广播。
func (s *Service) Poll(ctx context.Context) (Snapshot, error) {
	snap, err := s.src.Current(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.history.Push(snap); err != nil {
		return Snapshot{}, err
	}
	s.pub.Publish(snap)
	return snap, nil
}

// Run 阻塞直到 ctx 结束。
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Service) poll(ctx context.Context) {
	if _, err := s.Poll(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.log.Warn("market poll failed", zap.String("source", s.src.Name()), zap.Error(err))
		if s.onError != nil {
			s.onError(err)
		}
	}
}

// Staleness 返回距离上次更新的时间间隔；如无数据返回一年。
func (s *Service) Staleness(now time.Time) time.Duration {
	last, ok := s.history.Latest()
	if !ok {
		return time.Hour * 24 * 365
	}
	return last.Age(now)
}
