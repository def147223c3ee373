package commands

import (
	"context"
	"sync"
)

type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	proxy    Proxy
}

// NewBus builds a bus; a non-nil proxy authorizes every command first.
func NewBus(proxy Proxy) *Bus {
	return &Bus{handlers: make(map[string]Handler), proxy: proxy}
}

func (b *Bus) Register(commandType string, handler Handler) {
	b.mu.Lock()
	b.handlers[commandType] = handler
	b.mu.Unlock()
}

func (b *Bus) Execute(ctx context.Context, cmd Command) (Result, error) {
	b.mu.RLock()
	h, ok := b.handlers[cmd.CommandType()]
	b.mu.RUnlock()
	if !ok {
		return Result{}, ErrHandlerNotFound
	}
	if err := cmd.Validate(); err != nil {
		return Result{}, err
	}
	if b.proxy != nil {
		if err := b.proxy.Authorize(ctx, cmd); err != nil {
			return Result{}, err
		}
	}
	return h.Handle(ctx, cmd)
}
