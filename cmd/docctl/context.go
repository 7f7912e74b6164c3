package main

import (
	"context"
	"sync"

	"github.com/kirillkom/document-pipeline/internal/bootstrap"
	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/observability/logging"
)

// adminOpener connects the rule stores; the returned func releases them.
type adminOpener func(ctx context.Context) (ports.RuleAdmin, func(), error)

type commandContext struct {
	open adminOpener

	once    sync.Once
	admin   ports.RuleAdmin
	release func()
	err     error
}

func newCommandContext(open adminOpener) *commandContext {
	return &commandContext{open: open}
}

func (c *commandContext) withAdmin(ctx context.Context, fn func(ports.RuleAdmin) error) error {
	c.once.Do(func() {
		c.admin, c.release, c.err = c.open(ctx)
	})
	if c.err != nil {
		return c.err
	}
	return fn(c.admin)
}

func (c *commandContext) close() {
	if c.release != nil {
		c.release()
	}
}

func openStores(ctx context.Context) (ports.RuleAdmin, func(), error) {
	cfg := config.Load()
	logging.Setup("docctl", "", cfg.LogLevel)
	stores, err := bootstrap.OpenStores(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return stores.RuleAdmin, stores.Close, nil
}
