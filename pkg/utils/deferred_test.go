package utils

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct{ writes []string }

func (r *recorder) Write(p []byte) (int, error) {
	r.writes = append(r.writes, string(p))
	return len(p), nil
}

func TestDeferredWriter(t *testing.T) {
	var d DeferredWriter

	buf := []byte(`{"level":"info"}`)
	_, err := d.Write(buf)
	require.NoError(t, err)
	buf[2] = 'X' // caller reuses its buffer

	_, _ = d.Write([]byte(`{"level":"warn"}`))
	assert.Equal(t, 2, d.Len())

	var r recorder
	require.NoError(t, d.Flush(&r))
	assert.Equal(t, []string{`{"level":"info"}`, `{"level":"warn"}`}, r.writes)
	assert.Zero(t, d.Len())

	var out bytes.Buffer
	require.NoError(t, d.Flush(&out))
	assert.Empty(t, out.String())
}
