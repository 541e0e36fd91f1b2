package writer

import (
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// ReadBars loads cached bars for (from, to] from a DuckDB file produced by
// DuckDBWriter, oldest first.
func ReadBars(path, symbol string, granularity types.Granularity, from, to time.Time) ([]types.Bar, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUnknown, "failed to open duckdb database", err)
	}

	defer db.Close()

	query, args, err := sq.StatementBuilder.
		PlaceholderFormat(sq.Question).
		Select("open_time", "close_time", "open", "high", "low", "close", "volume").
		From("bars").
		Where(sq.Eq{"symbol": symbol, "granularity": string(granularity)}).
		Where(sq.Gt{"close_time": from.UTC()}).
		Where(sq.LtOrEq{"close_time": to.UTC()}).
		OrderBy("close_time ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUnknown, "failed to build bars query", err)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUnknown, "failed to query bars", err)
	}

	defer rows.Close()

	var bars []types.Bar

	for rows.Next() {
		var bar types.Bar

		err := rows.Scan(&bar.OpenTime, &bar.CloseTime, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeUnknown, "failed to scan bar row", err)
		}

		bar.OpenTime = bar.OpenTime.UTC()
		bar.CloseTime = bar.CloseTime.UTC()
		bars = append(bars, bar)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeUnknown, "failed to iterate bar rows", err)
	}

	return bars, nil
}
