package monitor

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"market-maker-twap/internal/events"
	"market-maker-twap/internal/risk"
	"market-maker-twap/internal/strategy"
	"market-maker-twap/internal/twap"
	"market-maker-twap/inventory"
	"market-maker-twap/order"
)

// Monitor Prometheus 指标收集器。通过 Observe 订阅事件总线。
type Monitor struct {
	registry *prometheus.Registry

	// 报价
	quotesGenerated  prometheus.Counter
	midPrice         prometheus.Gauge
	reservationPrice prometheus.Gauge
	quoteSpread      prometheus.Gauge
	volatility       prometheus.Gauge

	// 订单
	orders         *prometheus.CounterVec // status
	parts          *prometheus.CounterVec // result
	executedSize   prometheus.Counter
	fees           prometheus.Counter
	riskRejects    *prometheus.CounterVec // violation
	backendLatency *prometheus.HistogramVec

	// 风控
	riskState prometheus.Gauge
	dailyPnL  prometheus.Gauge
	drawdown  prometheus.Gauge
	alerts    *prometheus.CounterVec

	// 库存
	inventoryBase  prometheus.Gauge
	inventoryQuote prometheus.Gauge
	unrealizedPnL  prometheus.Gauge
}

// Config 监控配置
type Config struct {
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "mm",
		Subsystem: "twap",
	}
}

// New 创建独立 registry 的 Monitor
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help})
	}
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help}, labels)
	}

	return &Monitor{
		registry: reg,

		quotesGenerated:  counter("quotes_generated_total", "报价生成次数"),
		midPrice:         gauge("mid_price", "最新中间价"),
		reservationPrice: gauge("reservation_price", "AS 保留价"),
		quoteSpread:      gauge("quote_spread", "报价价差（ask-bid）"),
		volatility:       gauge("volatility", "年化波动率估计"),

		orders:       counterVec("orders_total", "TWAP 订单按状态计数", "status"),
		parts:        counterVec("parts_total", "切片执行结果", "result"),
		executedSize: counter("executed_size_total", "累计成交数量（基础资产）"),
		fees:         counter("fees_total", "累计手续费（计价资产）"),
		riskRejects:  counterVec("risk_rejections_total", "风控拒单按违规类型计数", "violation"),
		backendLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "backend_latency_seconds",
			Help:      "执行后端切片延迟（秒）",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"result"}),

		riskState: gauge("risk_state", "风控状态 0=normal 1=paused 2=emergency"),
		dailyPnL:  gauge("daily_pnl", "日内盈亏"),
		drawdown:  gauge("drawdown", "当前回撤比例"),
		alerts:    counterVec("risk_alerts_total", "风控告警按类型计数", "type"),

		inventoryBase:  gauge("inventory_base", "基础资产持仓"),
		inventoryQuote: gauge("inventory_quote", "计价资产余额"),
		unrealizedPnL:  gauge("unrealized_pnl", "按最新 mid 计算的未实现盈亏"),
	}
}

// Observe 事件总线处理函数
func (m *Monitor) Observe(e events.Event) {
	switch e.Type {
	case events.QuoteUpdated:
		if q, ok := e.Data.(strategy.Quote); ok {
			m.RecordQuote(q)
		}
	case events.OrderStarted:
		m.orders.WithLabelValues(string(order.StatusActive)).Inc()
	case events.PartExecuted:
		m.parts.WithLabelValues("executed").Inc()
		if p, ok := e.Data.(twap.PartSpec); ok {
			m.executedSize.Add(p.ExecutedSize)
			m.fees.Add(p.Fees)
		}
	case events.PartFailed:
		m.parts.WithLabelValues("failed").Inc()
	case events.OrderCompleted, events.OrderFailed, events.OrderCancelled:
		if st, ok := e.Data.(twap.Stats); ok {
			m.orders.WithLabelValues(string(st.Status)).Inc()
			if st.PartsSkipped > 0 {
				m.parts.WithLabelValues("skipped").Add(float64(st.PartsSkipped))
			}
		}
	case events.OrderRejected:
		m.riskRejects.WithLabelValues(rejectLabel(e)).Inc()
	case events.RiskAlert:
		if a, ok := e.Data.(risk.Alert); ok {
			m.alerts.WithLabelValues(a.Type).Inc()
			m.UpdateRisk(a.Snapshot)
		}
	case events.EmergencyStop:
		if s, ok := e.Data.(risk.Snapshot); ok {
			m.UpdateRisk(s)
		}
	}
}

func rejectLabel(e events.Event) string {
	if r, ok := e.Data.(order.Rejection); ok && r.Violation != "" {
		return r.Violation
	}
	return "invalid_order"
}

// RecordQuote 报价指标
func (m *Monitor) RecordQuote(q strategy.Quote) {
	m.quotesGenerated.Inc()
	m.midPrice.Set(q.Mid)
	m.reservationPrice.Set(q.ReservationPrice)
	m.quoteSpread.Set(q.Spread())
	m.volatility.Set(q.Volatility)
}

// UpdateRisk 风控快照指标
func (m *Monitor) UpdateRisk(s risk.Snapshot) {
	m.riskState.Set(float64(s.State))
	m.dailyPnL.Set(s.DailyPnL)
	m.drawdown.Set(s.Drawdown)
}

// UpdateInventory 库存指标
func (m *Monitor) UpdateInventory(s inventory.State) {
	m.inventoryBase.Set(s.Base)
	m.inventoryQuote.Set(s.Quote)
}

// UpdateUnrealized 未实现盈亏
func (m *Monitor) UpdateUnrealized(pnl float64) {
	m.unrealizedPnL.Set(pnl)
}

// RecordBackendLatency 记录一次后端调用
func (m *Monitor) RecordBackendLatency(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.backendLatency.WithLabelValues(result).Observe(d.Seconds())
}

// InstrumentBackend 包装执行后端并记录延迟
func (m *Monitor) InstrumentBackend(b twap.Backend) twap.Backend {
	return &instrumented{next: b, m: m}
}

type instrumented struct {
	next twap.Backend
	m    *Monitor
}

func (i *instrumented) ExecutePart(ctx context.Context, dir order.Direction, size, target float64) (twap.Fill, error) {
	start := time.Now()
	fill, err := i.next.ExecutePart(ctx, dir, size, target)
	i.m.RecordBackendLatency(time.Since(start), err)
	return fill, err
}

// Handler 返回 /metrics handler
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回 prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
