package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/italolelis/download_history/internal/history"
	"github.com/italolelis/download_history/internal/logctx"
	"github.com/italolelis/download_history/internal/storage"
	"github.com/mattn/go-sqlite3"
)

const downloadColumns = `id, guid, current_path, target_path, referrer_url, embedder_data,
	tab_url, tab_referrer_url, mime_type, original_mime_type, start_time, end_time,
	etag, last_modified, received_bytes, total_bytes, state, danger_type,
	interrupt_reason, hash, opened, last_access_time, transient,
	attribution_id, attribution_name, slices, reroute_info`

// DownloadRepository stores history rows in SQLite. The URL chain lives in
// its own table, one row per redirect hop.
type DownloadRepository struct {
	db *sql.DB
}

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn}
}

func (r *DownloadRepository) QueryDownloads(ctx context.Context) ([]history.Row, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+downloadColumns+` FROM downloads ORDER BY id`)
	if err != nil {
		return nil, &storage.OperationError{Op: "query_downloads", Err: err}
	}

	var downloads []history.Row

	index := make(map[uint32]int)

	for rows.Next() {
		row, err := scanDownload(ctx, rows)
		if err != nil {
			rows.Close()

			return nil, &storage.OperationError{Op: "query_downloads", Err: err}
		}

		index[row.ID] = len(downloads)
		downloads = append(downloads, row)
	}

	if err := rows.Err(); err != nil {
		rows.Close()

		return nil, &storage.OperationError{Op: "query_downloads", Err: err}
	}

	rows.Close()

	chains, err := r.db.QueryContext(ctx, `SELECT id, url FROM downloads_url_chains ORDER BY id, chain_index`)
	if err != nil {
		return nil, &storage.OperationError{Op: "query_url_chains", Err: err}
	}
	defer chains.Close()

	for chains.Next() {
		var (
			id  uint32
			url string
		)

		if err := chains.Scan(&id, &url); err != nil {
			return nil, &storage.OperationError{Op: "query_url_chains", Err: err}
		}

		if i, ok := index[id]; ok {
			downloads[i].URLChain = append(downloads[i].URLChain, url)
		}
	}

	if err := chains.Err(); err != nil {
		return nil, &storage.OperationError{Op: "query_url_chains", Err: err}
	}

	return downloads, nil
}

func (r *DownloadRepository) GetDownload(ctx context.Context, id uint32) (history.Row, error) {
	row, err := scanDownload(ctx, r.db.QueryRowContext(ctx, `SELECT `+downloadColumns+` FROM downloads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return history.Row{}, storage.ErrNotFound
	}

	if err != nil {
		return history.Row{}, &storage.OperationError{Op: "get_download", ID: id, Err: err}
	}

	chain, err := r.urlChain(ctx, id)
	if err != nil {
		return history.Row{}, &storage.OperationError{Op: "get_download", ID: id, Err: err}
	}

	row.URLChain = chain

	return row, nil
}

func (r *DownloadRepository) urlChain(ctx context.Context, id uint32) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT url FROM downloads_url_chains WHERE id = ? ORDER BY chain_index`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chain []string

	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}

		chain = append(chain, url)
	}

	return chain, rows.Err()
}

func (r *DownloadRepository) CreateDownload(ctx context.Context, row history.Row) error {
	slicesJSON, err := encodeSlices(row.Slices)
	if err != nil {
		return &storage.OperationError{Op: "create_download", ID: row.ID, Err: err}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &storage.OperationError{Op: "create_download", ID: row.ID, Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO downloads (`+downloadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.GUID, row.CurrentPath, row.TargetPath, row.ReferrerURL, row.EmbedderData,
		row.TabURL, row.TabReferrerURL, row.MimeType, row.OriginalMimeType,
		toMicros(row.StartTime), toMicros(row.EndTime),
		row.ETag, row.LastModified, row.ReceivedBytes, row.TotalBytes,
		row.State.String(), int(row.DangerType), int(row.InterruptReason),
		row.Hash, row.Opened, toMicros(row.LastAccessTime), row.Transient,
		row.AttributionID, row.AttributionName, slicesJSON, row.RerouteInfo,
	)
	if err != nil {
		if isConstraintViolation(err) {
			err = storage.ErrAlreadyExists
		}

		return &storage.OperationError{Op: "create_download", ID: row.ID, Err: err}
	}

	for i, url := range row.URLChain {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO downloads_url_chains (id, chain_index, url) VALUES (?, ?, ?)`,
			row.ID, i, url,
		); err != nil {
			return &storage.OperationError{Op: "create_download", ID: row.ID, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &storage.OperationError{Op: "create_download", ID: row.ID, Err: err}
	}

	return nil
}

// UpdateDownload rewrites the mutable columns of a row. The URL chain and the
// other creation-time fields are left untouched.
func (r *DownloadRepository) UpdateDownload(ctx context.Context, row history.Row) error {
	slicesJSON, err := encodeSlices(row.Slices)
	if err != nil {
		return &storage.OperationError{Op: "update_download", ID: row.ID, Err: err}
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE downloads SET
			current_path = ?, target_path = ?, end_time = ?, etag = ?, last_modified = ?,
			received_bytes = ?, total_bytes = ?, state = ?, danger_type = ?,
			interrupt_reason = ?, hash = ?, opened = ?, last_access_time = ?, transient = ?,
			attribution_id = ?, attribution_name = ?, slices = ?, reroute_info = ?
		WHERE id = ?`,
		row.CurrentPath, row.TargetPath, toMicros(row.EndTime), row.ETag, row.LastModified,
		row.ReceivedBytes, row.TotalBytes, row.State.String(), int(row.DangerType),
		int(row.InterruptReason), row.Hash, row.Opened, toMicros(row.LastAccessTime), row.Transient,
		row.AttributionID, row.AttributionName, slicesJSON, row.RerouteInfo,
		row.ID,
	)
	if err != nil {
		return &storage.OperationError{Op: "update_download", ID: row.ID, Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return &storage.OperationError{Op: "update_download", ID: row.ID, Err: err}
	}

	if affected == 0 {
		return &storage.OperationError{Op: "update_download", ID: row.ID, Err: storage.ErrNotFound}
	}

	return nil
}

func (r *DownloadRepository) RemoveDownloads(ctx context.Context, ids []uint32) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &storage.OperationError{Op: "remove_downloads", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM downloads WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return &storage.OperationError{Op: "remove_downloads", Err: err}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM downloads_url_chains WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return &storage.OperationError{Op: "remove_downloads", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &storage.OperationError{Op: "remove_downloads", Err: err}
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDownload(ctx context.Context, s scanner) (history.Row, error) {
	var (
		row                            history.Row
		state                          string
		dangerType, interruptReason    int
		startTime, endTime, lastAccess int64
		slicesJSON                     string
		rerouteInfo                    []byte
	)

	err := s.Scan(
		&row.ID, &row.GUID, &row.CurrentPath, &row.TargetPath, &row.ReferrerURL, &row.EmbedderData,
		&row.TabURL, &row.TabReferrerURL, &row.MimeType, &row.OriginalMimeType,
		&startTime, &endTime, &row.ETag, &row.LastModified, &row.ReceivedBytes, &row.TotalBytes,
		&state, &dangerType, &interruptReason, &row.Hash, &row.Opened, &lastAccess, &row.Transient,
		&row.AttributionID, &row.AttributionName, &slicesJSON, &rerouteInfo,
	)
	if err != nil {
		return history.Row{}, err
	}

	row.StartTime = fromMicros(startTime)
	row.EndTime = fromMicros(endTime)
	row.LastAccessTime = fromMicros(lastAccess)
	row.State = history.ParseDownloadState(state)
	row.DangerType = history.DangerType(dangerType)
	row.InterruptReason = history.InterruptReason(interruptReason)
	row.RerouteInfo = rerouteInfo

	if slicesJSON != "" {
		if err := json.Unmarshal([]byte(slicesJSON), &row.Slices); err != nil {
			// A corrupt blob only loses the slice data, not the row.
			logctx.LoggerFromContext(ctx).Warn("discarding malformed download slices",
				"download_id", row.ID,
				"err", err)

			row.Slices = nil
		}
	}

	return row, nil
}

func encodeSlices(slices []history.SliceInfo) (string, error) {
	if len(slices) == 0 {
		return "", nil
	}

	b, err := json.Marshal(slices)
	if err != nil {
		return "", fmt.Errorf("failed to encode slices: %w", err)
	}

	return string(b), nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func toMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}

	return time.UnixMicro(v).UTC()
}
