package websocket

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestRegistry_CloseAllEmpty(t *testing.T) {
	reg := NewRegistry(slog.Default())
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	reg.CloseAll(ctx)
	if got := reg.Count(); got != 0 {
		t.Errorf("count = %d", got)
	}
}

func TestNewRegistry_NilLogger(t *testing.T) {
	reg := NewRegistry(nil)
	if reg.log == nil {
		t.Fatal("expected non-nil logger when nil passed to NewRegistry")
	}
}
