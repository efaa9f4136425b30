package savequeue

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type options[V any] struct {
	logger     *zap.Logger
	clear      ClearNotifier
	deadLetter DeadLetterSink[V]
	registerer prometheus.Registerer
	metrics    *Metrics
}

// Option 可选配置
type Option[V any] func(*options[V])

func newOptions[V any](opts ...Option[V]) *options[V] {
	o := &options[V]{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// WithLogger 设置日志
func WithLogger[V any](logger *zap.Logger) Option[V] {
	return func(o *options[V]) {
		o.logger = logger
	}
}

// WithClearNotifier 保存成功后的清理通知
func WithClearNotifier[V any](clear ClearNotifier) Option[V] {
	return func(o *options[V]) {
		o.clear = clear
	}
}

// WithDeadLetter 死信
func WithDeadLetter[V any](sink DeadLetterSink[V]) Option[V] {
	return func(o *options[V]) {
		o.deadLetter = sink
	}
}

// WithRegisterer 指标注册到 reg
func WithRegisterer[V any](reg prometheus.Registerer) Option[V] {
	return func(o *options[V]) {
		o.registerer = reg
	}
}

// WithMetrics 使用已经创建好的指标
func WithMetrics[V any](m *Metrics) Option[V] {
	return func(o *options[V]) {
		o.metrics = m
	}
}
