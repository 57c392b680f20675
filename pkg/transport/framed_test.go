package transport

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramedRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cf := NewFramed(client)
	sf := NewFramed(server)

	done := make(chan error, 1)
	go func() {
		done <- cf.WriteFrame([]byte(`{"hello":"world"}`))
	}()

	payload, err := sf.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"hello":"world"}`, string(payload))
	require.NoError(t, <-done)
}

func TestFramedRejectsOversizeFrame(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cf := NewFramed(client)
	err := cf.WriteFrame(make([]byte, MaxFrameBytes+1))
	require.Error(t, err)
}

func TestLineStreamSkipsBlankLines(t *testing.T) {
	r := strings.NewReader("{\"a\":1}\n\n{\"a\":2}\n")
	ls := NewLineStream(r)

	var v struct{ A int }
	ok, err := ls.Next(&v)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, v.A)

	ok, err = ls.Next(&v)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, v.A)

	ok, err = ls.Next(&v)
	require.NoError(t, err)
	assert.False(t, ok)
}
