package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/atvirokodosprendimai/storefront/internal/adapters/events"
	"github.com/atvirokodosprendimai/storefront/internal/adapters/httpapi"
	sqliteadapter "github.com/atvirokodosprendimai/storefront/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/storefront/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/storefront/internal/core/ports"
	"github.com/atvirokodosprendimai/storefront/internal/core/usecase"
	"github.com/atvirokodosprendimai/storefront/migrations"
	"gorm.io/gorm/logger"
)

type Config struct {
	Addr          string
	DBPath        string
	APIToken      string
	WebhookURL    string
	WebhookSecret string
	// SQLLog turns on gorm statement logging.
	SQLLog bool
	// Dispatch tunes the outbox dispatcher; zero fields take defaults.
	Dispatch usecase.DispatcherOptions
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Engine is the wired storefront core over one sqlite database.
type Engine struct {
	DB         *gormsqlite.DB
	Revisions  *usecase.Revisions
	Catalog    *usecase.Catalog
	Fabric     *usecase.Fabric
	Bindings   *usecase.BindingResolver
	Composer   *usecase.Composer
	Stores     *usecase.StoreService
	Snapshots  *usecase.Snapshots
	Audit      *usecase.AuditService
	Outbox     ports.OutboxRepository
	Dispatcher *usecase.OutboxDispatcher
}

// Open migrates the database at cfg.DBPath and wires every service. The
// dispatcher is built but not started.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	opts := gormsqlite.Options{}
	if cfg.SQLLog {
		opts.LogLevel = logger.Info
	}
	db, err := gormsqlite.Open(cfg.DBPath, opts)
	if err != nil {
		return nil, fmt.Errorf("open storefront sqlite: %w", err)
	}

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resolve writer sql db: %w", err)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := migrations.Up(migrateCtx, writeSQLDB); err != nil {
		_ = db.Close()
		return nil, err
	}

	store, err := sqliteadapter.NewEntityStore(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("entity store: %w", err)
	}
	outboxRepo := sqliteadapter.NewOutboxRepository(db)

	revisions := usecase.NewRevisions()
	contracts := usecase.NewContractValidator()
	fabric := usecase.NewFabric(store, revisions)
	bindings := usecase.NewBindingResolver(store, fabric, revisions)
	composer := usecase.NewComposer(store, bindings, revisions)

	return &Engine{
		DB:         db,
		Revisions:  revisions,
		Catalog:    usecase.NewCatalog(store, contracts),
		Fabric:     fabric,
		Bindings:   bindings,
		Composer:   composer,
		Stores:     usecase.NewStoreService(store, contracts, revisions, composer),
		Snapshots:  usecase.NewSnapshots(store, contracts, revisions, composer),
		Audit:      usecase.NewAuditService(sqliteadapter.NewAuditTrailRepository(db)),
		Outbox:     outboxRepo,
		Dispatcher: usecase.NewOutboxDispatcher(outboxRepo, Publisher(cfg), cfg.Dispatch),
	}, nil
}

func (e *Engine) Close() error {
	return resourceCloser{closers: []io.Closer{e.Dispatcher, e.DB}}.Close()
}

// Publisher logs every event and, when a webhook URL is configured, also
// delivers it there.
func Publisher(cfg Config) ports.EventPublisher {
	logPublisher := events.NewLogPublisher(nil)
	if cfg.WebhookURL == "" {
		return logPublisher
	}
	return events.Fanout{logPublisher, events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, 0)}
}

// Handler exposes the engine over HTTP.
func (e *Engine) Handler(apiToken string) *httpapi.Handler {
	return httpapi.NewHandler(httpapi.Services{
		Catalog:   e.Catalog,
		Fabric:    e.Fabric,
		Bindings:  e.Bindings,
		Composer:  e.Composer,
		Stores:    e.Stores,
		Snapshots: e.Snapshots,
		Audit:     e.Audit,
	}, apiToken)
}

func NewServer(ctx context.Context, cfg Config) (*http.Server, io.Closer, error) {
	engine, err := Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	engine.Dispatcher.Start(context.Background())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine.Handler(cfg.APIToken).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return server, engine, nil
}
