package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutObjectAndGet(t *testing.T) {
	t.Parallel()

	a := New()
	uri, err := a.PutObject(context.Background(), "sessions/s1/abc.html", "text/html", []byte("<html></html>"))
	require.NoError(t, err)
	require.Equal(t, "memory://sessions/s1/abc.html", uri)

	data, ok := a.Get("sessions/s1/abc.html")
	require.True(t, ok)
	require.Equal(t, []byte("<html></html>"), data)

	_, ok = a.Get("missing")
	require.False(t, ok)
}

func TestPutObjectCopiesInput(t *testing.T) {
	t.Parallel()

	a := New()
	buf := []byte("original")
	_, err := a.PutObject(context.Background(), "p", "", buf)
	require.NoError(t, err)

	buf[0] = 'X'
	data, _ := a.Get("p")
	require.Equal(t, []byte("original"), data)
}
