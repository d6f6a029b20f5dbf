package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/roach88/fragstore/internal/config"
	"github.com/roach88/fragstore/internal/invalidation"
	"github.com/roach88/fragstore/internal/mapper"
	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/persist"
	"github.com/roach88/fragstore/internal/querysql"
	"github.com/roach88/fragstore/internal/schema"
	"github.com/roach88/fragstore/internal/sqlinfo"
	"github.com/roach88/fragstore/internal/store"
	"github.com/roach88/fragstore/internal/xa"
)

type options struct {
	logger         *slog.Logger
	cacheCapacity  int64
	partialUpdates bool
	repoID         string
	timeout        time.Duration
}

// Option configures a Repository.
type Option func(*options)

// WithLogger sets the logger of the repository and its sessions.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithCacheCapacity bounds the pristine fragments each session caches per
// table.
func WithCacheCapacity(n int64) Option {
	return func(o *options) {
		o.cacheCapacity = n
	}
}

// WithPartialUpdates makes sessions update only changed columns.
func WithPartialUpdates(enabled bool) Option {
	return func(o *options) {
		o.partialUpdates = enabled
	}
}

// WithRepositoryID names the repository in the repositoryinfo table.
func WithRepositoryID(id string) Option {
	return func(o *options) {
		o.repoID = id
	}
}

// WithTransactionTimeout bounds two-phase-commit transactions.
func WithTransactionTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// Repository is one store shared by many sessions. It owns the statement
// catalog, the query compiler and the invalidation bus.
//
// Thread-safety: NewSession and Close may be called from any goroutine;
// each Session is used from one goroutine at a time.
type Repository struct {
	store     *store.Store
	ownsStore bool
	model     *model.Model
	info      *sqlinfo.SQLInfo
	maker     *querysql.QueryMaker
	bus       *invalidation.Bus
	opts      options
	logger    *slog.Logger
	seq       atomic.Int64
}

// New creates a repository over an opened store. The caller keeps
// ownership of the store.
func New(st *store.Store, m *model.Model, opts ...Option) (*Repository, error) {
	o := options{
		cacheCapacity: persist.DefaultCacheCapacity,
		repoID:        mapper.DefaultRepositoryID,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	info, err := sqlinfo.New(m, st.Dialect())
	if err != nil {
		return nil, fmt.Errorf("build statements: %w", err)
	}
	return &Repository{
		store:  st,
		model:  m,
		info:   info,
		maker:  querysql.NewQueryMaker(info),
		bus:    invalidation.NewBus(o.logger),
		opts:   o,
		logger: o.logger,
	}, nil
}

// Open loads the schemas named by a descriptor and opens its store.
// Options given here override the descriptor.
func Open(ctx context.Context, d *config.Descriptor, opts ...Option) (*Repository, error) {
	reg, err := schema.LoadDir(d.Schemas)
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	m, err := model.New(reg, d.ModelConfig())
	if err != nil {
		return nil, err
	}
	dialect, err := d.SQLDialect()
	if err != nil {
		return nil, err
	}

	all := append([]Option{
		WithCacheCapacity(d.CacheCapacity),
		WithPartialUpdates(d.PartialUpdates),
		WithRepositoryID(d.Name),
		WithTransactionTimeout(d.TransactionTimeout),
	}, opts...)
	var o options
	for _, opt := range all {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	st, err := store.Open(ctx, dialect, d.DSN, store.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	r, err := New(st, m, all...)
	if err != nil {
		st.Close()
		return nil, err
	}
	r.ownsStore = true
	r.logger.Info("repository opened", "name", d.Name, "dialect", dialect.Name())
	return r, nil
}

// Model returns the model.
func (r *Repository) Model() *model.Model { return r.model }

// SQLInfo returns the statement catalog.
func (r *Repository) SQLInfo() *sqlinfo.SQLInfo { return r.info }

// QueryMaker returns the query compiler.
func (r *Repository) QueryMaker() *querysql.QueryMaker { return r.maker }

// Store returns the backing store.
func (r *Repository) Store() *store.Store { return r.store }

// Coordinator returns a transaction coordinator applying the repository's
// transaction timeout.
func (r *Repository) Coordinator() *xa.Coordinator {
	return xa.NewCoordinator(xa.WithTimeout(r.opts.timeout), xa.WithLogger(r.logger))
}

// Init creates the tables and the root node when missing, and returns the
// root id.
func (r *Repository) Init(ctx context.Context) (model.ID, error) {
	if err := r.store.CreateTables(ctx, r.info); err != nil {
		return nil, err
	}
	s, err := r.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	id, err := s.ensureRoot(ctx)
	if closeErr := s.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, err
	}
	r.logger.Info("repository initialized", "root", model.FormatID(id))
	return id, nil
}

// NewSession opens a session on its own connection.
func (r *Repository) NewSession(ctx context.Context) (*Session, error) {
	name := fmt.Sprintf("session-%d", r.seq.Add(1))
	logger := r.logger.With("session", name)

	m, err := mapper.Open(ctx, r.store.DB(), r.info,
		mapper.WithLogger(logger),
		mapper.WithRepositoryID(r.opts.repoID),
	)
	if err != nil {
		return nil, err
	}
	if r.opts.timeout > 0 {
		m.SetTransactionTimeout(r.opts.timeout)
	}
	pc, err := persist.New(r.model, m,
		persist.WithCacheCapacity(r.opts.cacheCapacity),
		persist.WithPartialUpdates(r.opts.partialUpdates),
		persist.WithLogger(logger),
	)
	if err != nil {
		return nil, multierror.Append(err, m.Close()).ErrorOrNil()
	}

	s := &Session{
		repo:   r,
		mapper: m,
		pc:     pc,
		queue:  r.bus.Register(name),
		logger: logger,
	}
	logger.Debug("session opened")
	return s, nil
}

// Close releases the store when the repository opened it.
func (r *Repository) Close() error {
	if !r.ownsStore {
		return nil
	}
	r.logger.Info("repository closed")
	return r.store.Close()
}
