package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/agentstation/brickflow/builtin"
	"github.com/agentstation/brickflow/builtin/script"
	"github.com/agentstation/brickflow/internal/config"
	"github.com/agentstation/brickflow/logging"
	"github.com/agentstation/brickflow/plugin/loader"
	"github.com/agentstation/brickflow/statestore"
)

// environment is the registry and the resources behind it.
type environment struct {
	registry *builtin.Registry
	closers  []func(context.Context) error
}

// Close releases plugins and store connections.
func (e *environment) Close(ctx context.Context) error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i](ctx))
	}
	return errors.Join(errs...)
}

// newEnvironment registers the built-in bricks, script bricks and plugin
// bricks described by cfg.
func newEnvironment(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*environment, error) {
	env := &environment{registry: builtin.NewRegistry()}

	store, err := newStateStore(cfg, env)
	if err != nil {
		return nil, err
	}
	if err := builtin.RegisterAll(env.registry, builtin.Config{State: store}); err != nil {
		_ = env.Close(ctx)
		return nil, err
	}

	for _, dir := range cfg.Scripts.Dirs {
		dir, err := expandPath(dir)
		if err != nil {
			_ = env.Close(ctx)
			return nil, err
		}
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			logger.Debug(ctx, "script directory not found", "dir", dir)
			continue
		}
		m := script.NewManager(dir, logger.With("component", "scripts"))
		if err := m.Discover(ctx); err != nil {
			_ = env.Close(ctx)
			return nil, fmt.Errorf("discover scripts in %s: %w", dir, err)
		}
		env.registry.Register(m.Bricks()...)
	}

	if len(cfg.Plugins.Dirs) > 0 {
		dirs := make([]string, 0, len(cfg.Plugins.Dirs))
		for _, dir := range cfg.Plugins.Dirs {
			dir, err := expandPath(dir)
			if err != nil {
				_ = env.Close(ctx)
				return nil, err
			}
			dirs = append(dirs, dir)
		}
		l := loader.New(loader.WithLogger(logger.With("component", "plugins")))
		plugins, err := l.RegisterAll(ctx, env.registry, dirs...)
		if err != nil {
			_ = env.Close(ctx)
			return nil, err
		}
		for _, p := range plugins {
			env.closers = append(env.closers, p.Close)
		}
	}
	return env, nil
}

// newStateStore creates the store behind @brickflow/with-cache.
func newStateStore(cfg *config.Config, env *environment) (statestore.Store, error) {
	switch cfg.State.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.State.Redis.Addr,
			Password: cfg.State.Redis.Password,
			DB:       cfg.State.Redis.DB,
		})
		env.closers = append(env.closers, func(context.Context) error { return client.Close() })
		return statestore.NewRedis(client, cfg.State.Redis.Prefix), nil
	default:
		mem, err := statestore.NewMemory(statestore.WithMaxEntries(cfg.State.MaxEntries))
		if err != nil {
			return nil, fmt.Errorf("create state store: %w", err)
		}
		return mem, nil
	}
}
