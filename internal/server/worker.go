package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/profilekit/accounts/config"
	"github.com/profilekit/accounts/internal/db"
	"github.com/profilekit/accounts/internal/events"
	"github.com/profilekit/accounts/internal/mq"
	"github.com/profilekit/accounts/internal/services"
	"github.com/profilekit/accounts/internal/storage"
	"github.com/profilekit/accounts/internal/store"
	"go.uber.org/zap"
)

// Worker consumes profile events without serving HTTP.
type Worker struct {
	db      *sql.DB
	mq      *mq.MQ
	janitor *events.AvatarJanitor
	logger  *zap.Logger
}

// NewWorker connects to the broker, the database that records avatar owners
// and avatar storage.
func NewWorker(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Worker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	m, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		return nil, fmt.Errorf("open mq: %w", err)
	}
	if m == nil {
		return nil, errors.New("worker needs a broker; set MQ_DRIVER")
	}

	conn, err := db.Open(ctx, cfg)
	if err != nil {
		_ = m.Close()
		return nil, err
	}

	objects, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		_ = conn.Close()
		_ = m.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	avatars := services.NewAvatarService(objects, store.NewAvatarRepository(conn))
	return &Worker{
		db:      conn,
		mq:      m,
		janitor: events.NewAvatarJanitor(avatars, logger.Named("janitor")),
		logger:  logger,
	}, nil
}

// Run blocks until ctx is cancelled or the subscription fails.
func (w *Worker) Run(ctx context.Context) error {
	defer func() {
		if err := w.mq.Close(); err != nil {
			w.logger.Warn("close mq failed", zap.Error(err))
		}
		_ = w.db.Close()
	}()

	err := w.janitor.Run(ctx, w.mq)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
