package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/catalog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"
)

// DBFile is the database file written inside an index directory.
const DBFile = "catalog.db"

var (
	ErrIndexNotFound = errors.New("persisted index not found")
	ErrStaleIndex    = errors.New("persisted index was built with a different embedder")
)

type productRow struct {
	bun.BaseModel `bun:"table:products"`

	Position    int    `bun:"position,pk"`
	Category    string `bun:"category,notnull"`
	Name        string `bun:"name,notnull"`
	Price       string `bun:"price,notnull"`
	Description string `bun:"description,notnull"`
	Vector      string `bun:"vector,notnull"`
}

type metaRow struct {
	bun.BaseModel `bun:"table:index_meta"`

	ID         int       `bun:"id,pk"`
	EmbedderID string    `bun:"embedder_id,notnull"`
	Dimension  int       `bun:"dimension,notnull"`
	Count      int       `bun:"count,notnull"`
	BuiltAt    time.Time `bun:"built_at,notnull"`
}

// Rebuild embeds products and replaces dir with a fresh index at
// dir/catalog.db. The new index is written beside dir and swapped in only
// once it is complete, so a failed rebuild leaves the previous one usable.
func Rebuild(ctx context.Context, dir string, products []catalog.Product, embedder embedding.Embedder) (*Index, error) {
	ix, err := Build(ctx, embedder, products)
	if err != nil {
		return nil, err
	}

	parent := filepath.Dir(filepath.Clean(dir))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create index parent %s: %w", parent, err)
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+"-*")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	swapped := false
	defer func() {
		if !swapped {
			_ = os.RemoveAll(tmp)
		}
	}()

	if err := writeIndexFile(ctx, filepath.Join(tmp, DBFile), ix, EmbedderID(embedder)); err != nil {
		return nil, err
	}
	if err := os.Chmod(tmp, 0o755); err != nil {
		return nil, fmt.Errorf("chmod staging dir: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("wipe index dir %s: %w", dir, err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return nil, fmt.Errorf("install index dir %s: %w", dir, err)
	}
	swapped = true

	log.Info().Str("dir", dir).Int("products", ix.Len()).Str("embedder", EmbedderID(embedder)).Msg("catalog index rebuilt")
	return ix, nil
}

func writeIndexFile(ctx context.Context, path string, ix *Index, embedderID string) error {
	db, err := openDB(path)
	if err != nil {
		return err
	}
	defer db.Close()
	return writeIndex(ctx, db, ix, embedderID)
}

// Open loads an index persisted by Rebuild. The embedder must match the one
// the index was built with.
func Open(ctx context.Context, dir string, embedder embedding.Embedder) (*Index, error) {
	path := filepath.Join(dir, DBFile)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, path)
		}
		return nil, fmt.Errorf("stat index %s: %w", path, err)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var meta metaRow
	if err := db.NewSelect().Model(&meta).Where("id = ?", 1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s has no metadata", ErrIndexNotFound, path)
		}
		return nil, fmt.Errorf("read index metadata: %w", err)
	}
	if want := EmbedderID(embedder); meta.EmbedderID != want {
		return nil, fmt.Errorf("%w: built with %s, opened with %s", ErrStaleIndex, meta.EmbedderID, want)
	}

	var rows []productRow
	if err := db.NewSelect().Model(&rows).Order("position ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("read indexed products: %w", err)
	}

	ix := New(embedder)
	ix.entries = make([]entry, 0, len(rows))
	for _, row := range rows {
		var vector []float64
		if err := json.Unmarshal([]byte(row.Vector), &vector); err != nil {
			return nil, fmt.Errorf("decode vector for %s: %w", row.Name, err)
		}
		if len(vector) != meta.Dimension {
			return nil, fmt.Errorf("%w: vector for %s has dimension %d, want %d",
				ErrStaleIndex, row.Name, len(vector), meta.Dimension)
		}
		ix.entries = append(ix.entries, entry{
			product: catalog.Product{
				Category:    row.Category,
				Name:        row.Name,
				Price:       row.Price,
				Description: row.Description,
			},
			vector: vector,
		})
	}

	log.Info().Str("dir", dir).Int("products", ix.Len()).Msg("catalog index opened")
	return ix, nil
}

func openDB(path string) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index db %s: %w", path, err)
	}
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func writeIndex(ctx context.Context, db *bun.DB, ix *Index, embedderID string) error {
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, model := range []any{(*metaRow)(nil), (*productRow)(nil)} {
			if _, err := tx.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
				return fmt.Errorf("create index table: %w", err)
			}
		}

		ix.mu.RLock()
		rows := make([]productRow, 0, len(ix.entries))
		for i, e := range ix.entries {
			vector, err := json.Marshal(e.vector)
			if err != nil {
				ix.mu.RUnlock()
				return fmt.Errorf("encode vector for %s: %w", e.product.Name, err)
			}
			rows = append(rows, productRow{
				Position:    i,
				Category:    e.product.Category,
				Name:        e.product.Name,
				Price:       e.product.Price,
				Description: e.product.Description,
				Vector:      string(vector),
			})
		}
		ix.mu.RUnlock()

		if len(rows) > 0 {
			if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
				return fmt.Errorf("insert indexed products: %w", err)
			}
		}

		meta := &metaRow{
			ID:         1,
			EmbedderID: embedderID,
			Dimension:  ix.dimension(),
			Count:      len(rows),
			BuiltAt:    time.Now().UTC(),
		}
		if _, err := tx.NewInsert().Model(meta).Exec(ctx); err != nil {
			return fmt.Errorf("insert index metadata: %w", err)
		}
		return nil
	})
}
