package db

import (
	"fmt"
	"log/slog"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Store struct {
	DB           *gorm.DB
	Keys         *KeyRepository
	Nonces       *NonceRepository
	Certificates *CertificateRepository
	Audit        *AuditEventRepository
}

// NewStore connects to Postgres. With no POSTGRES_DSN it returns a Store
// whose DB is nil; callers fall back to in-memory repositories.
func NewStore(cfg config.Config, logger *slog.Logger) (*Store, error) {
	if cfg.PostgresDSN == "" {
		if logger != nil {
			logger.Warn("POSTGRES_DSN not set; starting in no-db mode")
		}
		return &Store{DB: nil}, nil
	}

	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewStoreFromDB(gdb), nil
}

func NewStoreFromDB(gdb *gorm.DB) *Store {
	return &Store{
		DB:           gdb,
		Keys:         NewKeyRepository(gdb),
		Nonces:       NewNonceRepository(gdb),
		Certificates: NewCertificateRepository(gdb),
		Audit:        NewAuditEventRepository(gdb),
	}
}
