package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"
)

var (
	ErrOrderNotFound  = fmt.Errorf("%w: order", contractx.ErrNotFound)
	ErrDuplicateOrder = errors.New("order already exists")
)

// Repository stores placed orders.
type Repository interface {
	Save(ctx context.Context, o Order) error
	Get(ctx context.Context, id uuid.UUID) (Order, error)
	ListBySession(ctx context.Context, sessionID string) ([]Order, error)
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*BunRepository)(nil)
)

type MemoryRepository struct {
	mu     sync.RWMutex
	orders []Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Save(_ context.Context, o Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.orders {
		if existing.ID == o.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateOrder, o.ID)
		}
	}
	o.Lines = append([]Line(nil), o.Lines...)
	r.orders = append(r.orders, o)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return Order{}, ErrOrderNotFound
}

func (r *MemoryRepository) ListBySession(_ context.Context, sessionID string) ([]Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Order
	for _, o := range r.orders {
		if o.SessionID == sessionID {
			out = append(out, o)
		}
	}
	return out, nil
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite"; empty keeps orders in memory.
	Driver string `envconfig:"DRIVER" split_words:"true"`
	DSN    string `envconfig:"DSN" split_words:"true"`
}

// OpenDB opens a bun database for the configured driver.
func OpenDB(cfg DatabaseConfig) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("%w: database dsn is required", contractx.ErrValidation)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "postgres", "postgresql", "pg":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		return bun.NewDB(sqldb, pgdialect.New()), nil
	case "sqlite":
		sqldb, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
		}
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	default:
		return nil, fmt.Errorf("%w: unsupported database driver %q", contractx.ErrValidation, cfg.Driver)
	}
}

type orderRow struct {
	bun.BaseModel `bun:"table:orders"`

	ID            string    `bun:"id,pk"`
	SessionID     string    `bun:"session_id,notnull"`
	Total         string    `bun:"total,notnull"`
	Address       string    `bun:"address,notnull"`
	PaymentMethod string    `bun:"payment_method,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

type lineRow struct {
	bun.BaseModel `bun:"table:order_lines"`

	OrderID  string `bun:"order_id,pk"`
	Position int    `bun:"position,pk"`
	Product  string `bun:"product,notnull"`
	Price    string `bun:"price,notnull"`
}

// BunRepository stores orders in Postgres (or SQLite) through bun.
type BunRepository struct {
	db *bun.DB
}

func NewBunRepository(db *bun.DB) *BunRepository {
	return &BunRepository{db: db}
}

// Migrate creates the order tables if they do not exist.
func (r *BunRepository) Migrate(ctx context.Context) error {
	for _, model := range []any{(*orderRow)(nil), (*lineRow)(nil)} {
		if _, err := r.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create order table: %w", err)
		}
	}
	return nil
}

func (r *BunRepository) Save(ctx context.Context, o Order) error {
	row := &orderRow{
		ID:            o.ID.String(),
		SessionID:     o.SessionID,
		Total:         o.Total.StringFixed(2),
		Address:       o.Address,
		PaymentMethod: string(o.PaymentMethod),
		CreatedAt:     o.CreatedAt.UTC(),
	}
	lines := make([]lineRow, 0, len(o.Lines))
	for i, l := range o.Lines {
		lines = append(lines, lineRow{OrderID: row.ID, Position: i, Product: l.Product, Price: l.Price})
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if len(lines) > 0 {
			if _, err := tx.NewInsert().Model(&lines).Exec(ctx); err != nil {
				return fmt.Errorf("insert order lines: %w", err)
			}
		}
		return nil
	})
}

func (r *BunRepository) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	var row orderRow
	if err := r.db.NewSelect().Model(&row).Where("id = ?", id.String()).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("select order: %w", err)
	}
	return r.hydrate(ctx, row)
}

func (r *BunRepository) ListBySession(ctx context.Context, sessionID string) ([]Order, error) {
	var rows []orderRow
	if err := r.db.NewSelect().Model(&rows).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}

	out := make([]Order, 0, len(rows))
	for _, row := range rows {
		o, err := r.hydrate(ctx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (r *BunRepository) hydrate(ctx context.Context, row orderRow) (Order, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return Order{}, fmt.Errorf("parse order id %q: %w", row.ID, err)
	}
	total, err := decimal.NewFromString(row.Total)
	if err != nil {
		return Order{}, fmt.Errorf("parse order total %q: %w", row.Total, err)
	}

	var lines []lineRow
	if err := r.db.NewSelect().Model(&lines).
		Where("order_id = ?", row.ID).
		Order("position ASC").
		Scan(ctx); err != nil {
		return Order{}, fmt.Errorf("select order lines: %w", err)
	}

	o := Order{
		ID:            id,
		SessionID:     row.SessionID,
		Total:         total,
		Address:       row.Address,
		PaymentMethod: PaymentMethod(row.PaymentMethod),
		CreatedAt:     row.CreatedAt,
		Lines:         make([]Line, 0, len(lines)),
	}
	for _, l := range lines {
		o.Lines = append(o.Lines, Line{Product: l.Product, Price: l.Price})
	}
	return o, nil
}
