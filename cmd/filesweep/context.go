package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"filesweep/internal/config"
	"filesweep/internal/logging"
	"filesweep/internal/objectstore"
	"filesweep/internal/quarantine"
	"filesweep/internal/runlock"
	"filesweep/internal/state"
)

// storeOpener builds the raw object store for an environment.
type storeOpener func(ctx context.Context, cfg *config.Config, env config.ResolvedEnvironment) (objectstore.Store, error)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error

	openStore storeOpener
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		openStore:  openS3,
	}
}

func openS3(ctx context.Context, cfg *config.Config, env config.ResolvedEnvironment) (objectstore.Store, error) {
	store, err := objectstore.NewS3(ctx, objectstore.S3Options{
		Bucket:          env.Bucket,
		Region:          cfg.ObjectStore.Region,
		Endpoint:        cfg.ObjectStore.Endpoint,
		UsePathStyle:    cfg.ObjectStore.UsePathStyle,
		AccessKeyID:     cfg.ObjectStore.AccessKeyID,
		SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(cfg)
	})
	return c.logger, c.loggerErr
}

// session bundles what every environment-scoped command needs.
type session struct {
	cfg    *config.Config
	env    config.ResolvedEnvironment
	logger *slog.Logger
	store  objectstore.Store
	state  *state.Store
}

func (s *session) Close() error {
	return s.state.Close()
}

// openLedger resolves envName and opens the state database. Commands that
// only read checkpoints or the ledger never touch the object store.
func (c *commandContext) openLedger(ctx context.Context, envName string) (*session, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	env, err := cfg.Environment(envName)
	if err != nil {
		return nil, err
	}
	st, err := state.OpenFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	return &session{cfg: cfg, env: env, logger: logger, state: st}, nil
}

// openSession is openLedger plus the retrying object store.
func (c *commandContext) openSession(ctx context.Context, envName string) (*session, error) {
	sess, err := c.openLedger(ctx, envName)
	if err != nil {
		return nil, err
	}
	cfg := sess.cfg
	raw, err := c.openStore(ctx, cfg, sess.env)
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("open object store: %w", err)
	}
	sess.store = objectstore.NewRetrying(raw, objectstore.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay(),
		MaxDelay:    cfg.RetryMaxDelay(),
		Jitter:      cfg.Retry.Jitter,
	}, sess.logger)
	return sess, nil
}

// lock takes the environment run lock for a maintenance command.
func (s *session) lock(ctx context.Context, runID string) (*runlock.Lock, error) {
	return runlock.Acquire(ctx, s.store, runlock.Options{
		LockDir:     s.cfg.LockDir(),
		Root:        s.env.Prefix,
		Environment: s.env.Name,
		RunID:       runID,
		TTL:         s.cfg.LockTTL(),
	}, s.logger)
}

func (s *session) manager(runID string) *quarantine.Manager {
	return quarantine.New(s.store, quarantine.Options{
		Root:        s.env.Prefix,
		Environment: s.env.Name,
		RunID:       runID,
		TTL:         s.cfg.QuarantineTTL(),
		Workers:     s.cfg.Run.Workers,
	}, s.logger)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
