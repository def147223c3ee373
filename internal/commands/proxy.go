package commands

import (
	"context"

	"bookdesk/pkg/logger"

	"go.uber.org/zap"
)

// Proxy vets a command before its handler runs.
type Proxy interface {
	Authorize(ctx context.Context, cmd Command) error
}

type ProxyFunc func(ctx context.Context, cmd Command) error

func (f ProxyFunc) Authorize(ctx context.Context, cmd Command) error {
	return f(ctx, cmd)
}

// ProxyChain runs its proxies in order and stops at the first refusal.
type ProxyChain []Proxy

// NewProxyChain drops nil proxies.
func NewProxyChain(proxies ...Proxy) ProxyChain {
	chain := make(ProxyChain, 0, len(proxies))
	for _, p := range proxies {
		if p != nil {
			chain = append(chain, p)
		}
	}
	return chain
}

func (c ProxyChain) Authorize(ctx context.Context, cmd Command) error {
	for _, p := range c {
		if err := p.Authorize(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// AuditProxy logs every command that reaches it and never refuses one.
func AuditProxy(log *logger.Logger) ProxyFunc {
	l := logger.OrNop(log).Named("commands")
	return func(ctx context.Context, cmd Command) error {
		l.Ctx(ctx).Info("command authorized",
			zap.String("type", cmd.CommandType()),
			zap.String("actor", cmd.ActorID().String()),
		)
		return nil
	}
}
