package main

import (
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// collector holds the counters for one run.
type collector struct {
	registry         *prometheus.Registry
	fills            prometheus.Counter
	bytesConsumed    prometheus.Counter
	lines            prometheus.Counter
	binarySources    prometheus.Counter
	allocLimitErrors prometheus.Counter
	sourceErrors     prometheus.Counter
	bufferCapacity   prometheus.Gauge

	capacityLock sync.Mutex
	maxCapacity  int
}

func newCollector() *collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &collector{
		registry: reg,
		fills: factory.NewCounter(prometheus.CounterOpts{
			Name: "linebuf_fills_total",
			Help: "Total number of buffer fills",
		}),
		bytesConsumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "linebuf_bytes_consumed_total",
			Help: "Total number of bytes consumed from line buffers",
		}),
		lines: factory.NewCounter(prometheus.CounterOpts{
			Name: "linebuf_lines_total",
			Help: "Total number of lines scanned",
		}),
		binarySources: factory.NewCounter(prometheus.CounterOpts{
			Name: "linebuf_binary_sources_total",
			Help: "Total number of inputs where binary data was detected",
		}),
		allocLimitErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "linebuf_alloc_limit_errors_total",
			Help: "Total number of fills that hit the allocation limit",
		}),
		sourceErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "linebuf_source_errors_total",
			Help: "Total number of inputs that failed",
		}),
		bufferCapacity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "linebuf_buffer_capacity_bytes",
			Help: "Largest line buffer capacity seen",
		}),
	}
}

func (c *collector) incFills() {
	c.fills.Inc()
}

func (c *collector) addConsumed(n, lines int) {
	c.bytesConsumed.Add(float64(n))
	c.lines.Add(float64(lines))
}

func (c *collector) incBinarySources() {
	c.binarySources.Inc()
}

func (c *collector) incAllocLimitErrors() {
	c.allocLimitErrors.Inc()
}

func (c *collector) incSourceErrors() {
	c.sourceErrors.Inc()
}

// observeCapacity raises the capacity gauge to capacity if it is larger.
func (c *collector) observeCapacity(capacity int) {
	c.capacityLock.Lock()
	defer c.capacityLock.Unlock()
	if capacity > c.maxCapacity {
		c.maxCapacity = capacity
		c.bufferCapacity.Set(float64(capacity))
	}
}

// writeTo writes every metric in the text exposition format.
func (c *collector) writeTo(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		_, err = expfmt.MetricFamilyToText(w, mf)
		if err != nil {
			return err
		}
	}
	return nil
}
