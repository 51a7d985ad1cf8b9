package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	logx "reelrelay/pkg/logx"
)

var (
	// ErrCorrupt means the persisted ledger exists but cannot be understood.
	// It is never repaired automatically.
	ErrCorrupt = errors.New("ledger corrupt")
	// ErrEmptyID is returned by Add for ids whose canonical form is empty.
	ErrEmptyID = errors.New("ledger: empty id")
	ErrClosed  = errors.New("ledger closed")
)

// Ledger is the durable set of relayed item ids.
type Ledger interface {
	// Contains reports whether id was recorded. An empty id is never contained.
	Contains(ctx context.Context, id any) (bool, error)
	// Add records id. Adding an id that is already present is a no-op.
	Add(ctx context.Context, id any) error
	// List returns every recorded id in insertion order.
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Config configures a ledger backend.
//
// Driver values:
//   - "file" (default): JSON document at Path
//   - "sqlite": SQLite database at Path
//   - "postgres": Postgres reachable at DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured ledger, creating empty storage if needed.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Ledger, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "ledger"))

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown ledger driver: " + driver)
	}
}

// CanonicalID converts an upstream id into the string form used for
// membership checks. Integral numbers print without exponent or fraction.
func CanonicalID(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return canonicalNumber(v.String())
	case int:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return canonicalFloat(float64(v))
	case float64:
		return canonicalFloat(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func canonicalFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// canonicalNumber keeps integer literals exact (ids often exceed 2^53) and
// normalizes everything else through float formatting.
func canonicalNumber(s string) string {
	s = strings.TrimSpace(s)
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strings.TrimPrefix(s, "+")
	}
	if _, err := strconv.ParseUint(s, 10, 64); err == nil {
		return s
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return canonicalFloat(f)
}

// Import copies every id from src into dst. It returns the number of ids
// that dst did not already contain.
func Import(ctx context.Context, dst, src Ledger) (int, error) {
	ids, err := src.List(ctx)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		ok, err := dst.Contains(ctx, id)
		if err != nil {
			return added, err
		}
		if ok {
			continue
		}
		if err := dst.Add(ctx, id); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}
