package app

import (
	"context"
	"log/slog"

	"broker_go/internal/domain"
	"broker_go/internal/infra"
	"broker_go/internal/infra/storage"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, DB)
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping Broker Go...")

	// 1. Load Config
	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Database.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("path", cfg.Database.Path))

	return nil
}

// SyncInstruments upserts the configured instruments so the execution engine
// always finds leverage caps and quote currencies for the traded symbols.
func (b *Bootstrap) SyncInstruments(ctx context.Context) error {
	for _, ic := range b.Config.Instruments {
		inst := &domain.Instrument{
			Symbol:        ic.Symbol,
			QuoteCurrency: ic.QuoteCurrency,
			MaxLeverage:   ic.MaxLeverage,
			Type:          ic.Type,
		}
		if err := b.Storage.UpsertInstrument(ctx, inst); err != nil {
			return err
		}
	}
	slog.Info("✅ Instruments synchronized", slog.Int("count", len(b.Config.Instruments)))
	return nil
}
