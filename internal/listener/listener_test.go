package listener

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoff(t *testing.T) {
	d := reconnectBackoff
	var seen []time.Duration
	for i := 0; i < 5; i++ {
		seen = append(seen, d)
		d = nextBackoff(d)
	}
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second, 30 * time.Second}, seen)
}

func TestStart_returnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	done := make(chan struct{})
	go func() {
		Start(ctx, "postgres://nobody@127.0.0.1:1/none?connect_timeout=1", func(string) {}, logger)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("listener did not stop after cancel")
	}
}
