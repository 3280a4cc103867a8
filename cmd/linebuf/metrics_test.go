package main

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func Test_collector(t *testing.T) {
	c := newCollector()
	c.incFills()
	c.incFills()
	c.addConsumed(10, 2)
	c.incAllocLimitErrors()
	c.observeCapacity(64)
	c.observeCapacity(16)

	require.Equal(t, float64(2), testutil.ToFloat64(c.fills))
	require.Equal(t, float64(10), testutil.ToFloat64(c.bytesConsumed))
	require.Equal(t, float64(2), testutil.ToFloat64(c.lines))
	require.Equal(t, float64(1), testutil.ToFloat64(c.allocLimitErrors))
	require.Equal(t, float64(64), testutil.ToFloat64(c.bufferCapacity))

	var buf bytes.Buffer
	require.NoError(t, c.writeTo(&buf))
	require.Contains(t, buf.String(), "# TYPE linebuf_fills_total counter")
	require.Contains(t, buf.String(), "linebuf_buffer_capacity_bytes 64")

	// collectors don't share a registry
	require.Equal(t, float64(0), testutil.ToFloat64(newCollector().fills))
}
