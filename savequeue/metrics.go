package savequeue

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 用于 Prometheus 监控保存队列的提交、丢弃、保存、失败等指标
type Metrics struct {
	Submitted       prometheus.Counter // 成功入队次数
	Rejected        prometheus.Counter // 队列已满被拒绝次数
	Persisted       prometheus.Counter // 保存成功次数
	PersistFailures prometheus.Counter // 保存失败次数
	Retried         prometheus.Counter // 重新入队次数
	Superseded      prometheus.Counter // 重试被更新的 Entry 取代次数
	DeadLettered    prometheus.Counter // 进入死信次数
	Cleared         prometheus.Counter // 通知清理缓存次数
	QueueLength     prometheus.Gauge   // 当前队列长度
	InFlight        prometheus.Gauge   // 正在保存的 key 数量
}

// NewMetrics 创建指标，reg 为空时不注册
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = defaultMetricsNamespace
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	m := &Metrics{
		Submitted:       counter("submitted_total", "Entries accepted by the save queue."),
		Rejected:        counter("rejected_total", "Entries rejected because the save queue was full."),
		Persisted:       counter("persisted_total", "Entries persisted successfully."),
		PersistFailures: counter("persist_failures_total", "Persist calls that returned an error."),
		Retried:         counter("retried_total", "Failed entries re-submitted for another attempt."),
		Superseded:      counter("superseded_total", "Retries dropped because a newer entry for the key was queued."),
		DeadLettered:    counter("dead_lettered_total", "Entries handed to the dead-letter sink."),
		Cleared:         counter("cleared_total", "Clear notifications sent after a successful save."),
		QueueLength:     gauge("queue_length", "Entries currently buffered."),
		InFlight:        gauge("in_flight", "Keys currently being persisted."),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	if m.Submitted, err = register(reg, m.Submitted); err != nil {
		return nil, err
	}
	if m.Rejected, err = register(reg, m.Rejected); err != nil {
		return nil, err
	}
	if m.Persisted, err = register(reg, m.Persisted); err != nil {
		return nil, err
	}
	if m.PersistFailures, err = register(reg, m.PersistFailures); err != nil {
		return nil, err
	}
	if m.Retried, err = register(reg, m.Retried); err != nil {
		return nil, err
	}
	if m.Superseded, err = register(reg, m.Superseded); err != nil {
		return nil, err
	}
	if m.DeadLettered, err = register(reg, m.DeadLettered); err != nil {
		return nil, err
	}
	if m.Cleared, err = register(reg, m.Cleared); err != nil {
		return nil, err
	}
	if m.QueueLength, err = register(reg, m.QueueLength); err != nil {
		return nil, err
	}
	if m.InFlight, err = register(reg, m.InFlight); err != nil {
		return nil, err
	}
	return m, nil
}

// register 已经注册过的指标直接复用
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}
