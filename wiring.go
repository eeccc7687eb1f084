package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tanpawarit/Chative-Retail-Agent/agent/agents/orchestrator"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/audit"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/backend"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/llm"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/memory"
	statex "github.com/tanpawarit/Chative-Retail-Agent/agent/state"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/tool"
	configx "github.com/tanpawarit/Chative-Retail-Agent/pkg/config"
	qstashx "github.com/tanpawarit/Chative-Retail-Agent/pkg/qstash"
)

type app struct {
	orch    *orchestrator.Orchestrator
	metrics *prometheus.Registry
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

type sessionStore interface {
	statex.Store
	statex.IdempotencyStore
}

func openSessionStore(kind string, agentCfg orchestrator.Config) (sessionStore, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "memory":
		return statex.NewMemoryStore(agentCfg.SessionTTL), noop, nil
	case "badger":
		cfg, err := configx.New[statex.BadgerConfig]("BADGER")
		if err != nil {
			return nil, nil, err
		}
		store, err := statex.OpenBadgerStore(*cfg)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "upstash":
		cfg, err := configx.New[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		if err != nil {
			return nil, nil, err
		}
		store, err := statex.NewUpstashRedisStore(*cfg,
			statex.WithKeyPrefix("retail"),
			statex.WithTTL(agentCfg.SessionTTL),
		)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store %q", kind)
	}
}

func buildApp(ctx context.Context, deliver bool) (*app, error) {
	agentCfg, err := configx.New[orchestrator.Config]("AGENT")
	if err != nil {
		return nil, err
	}
	llmCfg, err := configx.New[llm.Config]("OPENROUTER")
	if err != nil {
		return nil, err
	}
	auditCfg, err := configx.New[audit.Config]("AUDIT")
	if err != nil {
		return nil, err
	}

	a := &app{metrics: prometheus.NewRegistry()}

	store, closeStore, err := openSessionStore(agentCfg.Store, *agentCfg)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	a.closers = append(a.closers, closeStore)

	sessions, err := memory.New(store, store, memory.WithIdempotencyTTL(agentCfg.IdempotencyTTL))
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	sink, closeSink, err := audit.Open(ctx, *auditCfg)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open audit sink: %w", err)
	}
	a.closers = append(a.closers, closeSink)

	shop, err := backend.NewDemo()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	registry, err := tool.NewRetailRegistry(shop, tool.DefaultPolicies(),
		tool.WithAudit(sink),
		tool.WithIdempotency(sessions),
		tool.WithMetrics(a.metrics),
	)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	models, err := llm.BuildThreadModels(ctx, *llmCfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	var opts []orchestrator.Option
	if deliver {
		qcfg, err := configx.New[qstashx.Config]("QSTASH")
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		sender, err := qstashx.NewClient(*qcfg)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		opts = append(opts, orchestrator.WithSender(sender))
	}

	a.orch, err = orchestrator.New(sessions, models, registry, *agentCfg, opts...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}
