package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/config"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/infra/db"
	httpinfra "github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/infra/http"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/infra/memstore"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/infra/noncecache"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/infra/policyopa"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/infra/ratelimit"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/usecase"

	"github.com/redis/go-redis/v9"
)

type stores struct {
	keys         usecase.KeyStore
	nonces       usecase.NonceStore
	certificates usecase.CertificateStore
	audit        usecase.AuditEventStore
	mode         string
}

func buildStores(cfg config.Config, logger *slog.Logger) (stores, error) {
	store, err := db.NewStore(cfg, logger)
	if err != nil {
		return stores{}, err
	}
	if store.DB == nil {
		return stores{
			keys:         memstore.NewKeyStore(),
			nonces:       memstore.NewNonceStore(),
			certificates: memstore.NewCertificateStore(),
			audit:        memstore.NewAuditStore(),
			mode:         "no-db",
		}, nil
	}
	return stores{
		keys:         store.Keys,
		nonces:       store.Nonces,
		certificates: store.Certificates,
		audit:        store.Audit,
		mode:         "db",
	}, nil
}

// buildServer wires configuration into the usecases and the HTTP boundary.
// The returned cleanup closes the redis client, if any.
func buildServer(ctx context.Context, cfg config.Config, logger *slog.Logger) (*httpinfra.Server, func(), error) {
	cleanup := func() {}
	st, err := buildStores(cfg, logger)
	if err != nil {
		return nil, cleanup, err
	}

	var limiter domain.RateLimiter
	nonces := st.nonces
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		cleanup = func() { _ = client.Close() }
		if err := client.Ping(ctx).Err(); err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("connect redis: %w", err)
		}
		cached, err := noncecache.New(client, nonces, cfg.NonceRetention())
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		nonces = cached
		if cfg.RateLimitRequests > 0 {
			redisLimiter, err := ratelimit.NewRedisLimiter(client, nil)
			if err != nil {
				cleanup()
				return nil, func() {}, err
			}
			limiter = redisLimiter
		}
	}
	if limiter == nil && cfg.RateLimitRequests > 0 {
		limiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{})
	}

	var policy usecase.PolicyEvaluator
	if cfg.PolicyBundlePath != "" {
		engine, err := policyopa.NewEngineFromBundlePath(ctx, cfg.PolicyBundlePath, cfg.PolicyBundleID)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		logger.Info("governance bundle loaded", "bundle_id", engine.BundleID(), "bundle_hash", engine.BundleHash())
		policy = engine
	} else {
		logger.Warn("POLICY_BUNDLE_PATH not set; decisions keep caller supplied policy fields")
	}

	keys := usecase.NewKeyRegistry(st.keys, nil, cfg.KeyRotationInterval(), logger)
	audit := &usecase.AuditLedger{Store: st.audit, Logger: logger}
	srv := httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		Keys: keys,
		Certificates: &usecase.CertificateLedger{
			Keys:       keys,
			Store:      st.certificates,
			Nonces:     usecase.NewNonceTracker(nonces, nil),
			MaxRetries: cfg.ChainAdvanceMaxRetries,
			Logger:     logger,
		},
		Decisions:   &usecase.DecisionRecorder{Keys: keys, Policy: policy, Logger: logger},
		Audit:       audit,
		Emitter:     &usecase.AuditEmitter{Ledger: audit, Logger: logger},
		RateLimiter: limiter,
		Logger:      logger,
		Mode:        st.mode,
	})
	return srv, cleanup, nil
}
