package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dayahead/internal/domain"
)

// PriceStore implements domain.PriceStore. Each published interval is kept
// once per origin, so the authoritative value for a slot is the row with the
// highest origin.
type PriceStore struct {
	pool *pgxpool.Pool
}

// NewPriceStore creates a new PriceStore backed by the given connection pool.
func NewPriceStore(pool *pgxpool.Pool) *PriceStore {
	return &PriceStore{pool: pool}
}

// readIntervalsQuery lists every stored row in the window, best origin first
// within each slot.
const readIntervalsQuery = `
	SELECT start_time, end_time, value, unit, currency, origin
	FROM prices
	WHERE area = $1 AND start_time >= $2 AND end_time <= $3
	ORDER BY start_time, origin DESC`

// storedRow is one prices row as scanned.
type storedRow struct {
	interval domain.PriceInterval
	origin   domain.Origin
}

// latestPerSlot keeps the highest-origin row of each slot and then drops the
// slots whose winner has the excluded origin. rows must be ordered by start
// time and, within a slot, by descending origin. A slot overlapping the
// previous winner is dropped.
func latestPerSlot(rows []storedRow, excluding domain.Origin) []storedRow {
	var (
		out      []storedRow
		prevEnd  time.Time
		lastSlot time.Time
		seen     bool
	)
	for _, r := range rows {
		if seen && r.interval.Start.Equal(lastSlot) {
			continue
		}
		seen = true
		lastSlot = r.interval.Start

		if !prevEnd.IsZero() && r.interval.Start.Before(prevEnd) {
			continue
		}
		prevEnd = r.interval.End

		if excluding != domain.OriginNone && r.origin == excluding {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ReadIntervals returns the stored timeline for area within [start, end). For
// each slot only the highest-origin row counts; slots whose winner has the
// excluding origin are left out. The batch window is the requested one and
// its origin is the highest origin among the returned rows.
func (s *PriceStore) ReadIntervals(ctx context.Context, start, end time.Time, area domain.PriceArea, excluding domain.Origin) (domain.PriceBatch, error) {
	rows, err := s.pool.Query(ctx, readIntervalsQuery, string(area), start.UTC(), end.UTC())
	if err != nil {
		return domain.PriceBatch{}, fmt.Errorf("postgres: read intervals %s: %w", area, err)
	}
	defer rows.Close()

	var stored []storedRow
	for rows.Next() {
		var (
			r      storedRow
			num    pgtype.Numeric
			unit   string
			cur    string
			origin int16
		)
		if err := rows.Scan(&r.interval.Start, &r.interval.End, &num, &unit, &cur, &origin); err != nil {
			return domain.PriceBatch{}, fmt.Errorf("postgres: scan interval: %w", err)
		}
		value, err := numericToDecimal(num)
		if err != nil {
			return domain.PriceBatch{}, fmt.Errorf("postgres: interval %s: %w", r.interval.Start.Format(time.RFC3339), err)
		}
		r.interval.Start, r.interval.End = r.interval.Start.UTC(), r.interval.End.UTC()
		r.interval.Value = value
		r.interval.Unit = domain.Unit(unit)
		r.interval.Currency = domain.Currency(cur)
		r.origin = domain.Origin(origin)
		stored = append(stored, r)
	}
	if err := rows.Err(); err != nil {
		return domain.PriceBatch{}, fmt.Errorf("postgres: read intervals rows: %w", err)
	}

	return batchFromRows(area, start, end, latestPerSlot(stored, excluding)), nil
}

func batchFromRows(area domain.PriceArea, start, end time.Time, rows []storedRow) domain.PriceBatch {
	batch := domain.PriceBatch{
		From:       start.UTC(),
		To:         end.UTC(),
		Area:       area,
		Origin:     domain.OriginNone,
		Resolution: domain.DefaultResolution,
	}
	for _, r := range rows {
		batch.Intervals = append(batch.Intervals, r.interval)
		if r.origin.Outranks(batch.Origin) {
			batch.Origin = r.origin
		}
	}
	if first, ok := batch.First(); ok {
		batch.Unit = first.Unit
		batch.Currency = first.Currency
	}
	return batch
}

// SaveBatch upserts every interval of batch under the batch's origin and
// returns the number of rows written.
func (s *PriceStore) SaveBatch(ctx context.Context, batch domain.PriceBatch) (int64, error) {
	if batch.IsEmpty() {
		return 0, nil
	}

	b := &pgx.Batch{}
	const query = `
		INSERT INTO prices (area, start_time, end_time, origin, value, unit, currency, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (area, start_time, origin) DO UPDATE SET
			end_time   = EXCLUDED.end_time,
			value      = EXCLUDED.value,
			unit       = EXCLUDED.unit,
			currency   = EXCLUDED.currency,
			updated_at = NOW()`

	for _, iv := range batch.Intervals {
		b.Queue(query,
			string(batch.Area), iv.Start.UTC(), iv.End.UTC(), int16(batch.Origin),
			decimalToNumeric(iv.Value), string(iv.Unit), string(iv.Currency),
		)
	}

	br := s.pool.SendBatch(ctx, b)
	defer br.Close()

	var written int64
	for i := range batch.Intervals {
		tag, err := br.Exec()
		if err != nil {
			return written, fmt.Errorf("postgres: save price batch item %d: %w", i, err)
		}
		written += tag.RowsAffected()
	}
	return written, nil
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func numericToDecimal(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Decimal{}, fmt.Errorf("null price value")
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.Decimal{}, fmt.Errorf("non-finite price value")
	}
	coef := n.Int
	if coef == nil {
		coef = new(big.Int)
	}
	return decimal.NewFromBigInt(coef, n.Exp), nil
}

// Compile-time interface check.
var _ domain.PriceStore = (*PriceStore)(nil)
