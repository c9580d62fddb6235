package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/italolelis/download_history/internal/history"
	"github.com/italolelis/download_history/internal/logctx"
	"github.com/italolelis/download_history/internal/storage"
	bolt "go.etcd.io/bbolt"
)

var downloadsBucket = []byte("downloads")

var errBucketMissing = errors.New("downloads bucket missing")

// DownloadRepository stores history rows as JSON values in a bbolt bucket,
// keyed by the big-endian download id so iteration follows id order.
type DownloadRepository struct {
	db *bolt.DB
}

// Open opens or creates the bbolt database at path.
func Open(path string) (*DownloadRepository, error) {
	if path == "" {
		return nil, errors.New("bolt database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(downloadsBucket)

		return err
	}); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create downloads bucket: %w", err)
	}

	return &DownloadRepository{db: db}, nil
}

func (r *DownloadRepository) Close() error {
	return r.db.Close()
}

func (r *DownloadRepository) QueryDownloads(ctx context.Context) ([]history.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := logctx.LoggerFromContext(ctx)

	var rows []history.Row

	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(downloadsBucket)
		if b == nil {
			return errBucketMissing
		}

		return b.ForEach(func(k, v []byte) error {
			var row history.Row
			if err := json.Unmarshal(v, &row); err != nil {
				logger.Warn("skipping malformed history row", "key", fmt.Sprintf("%x", k), "err", err)

				return nil
			}

			rows = append(rows, row)

			return nil
		})
	})
	if err != nil {
		return nil, &storage.OperationError{Op: "query_downloads", Err: err}
	}

	return rows, nil
}

func (r *DownloadRepository) GetDownload(ctx context.Context, id uint32) (history.Row, error) {
	if err := ctx.Err(); err != nil {
		return history.Row{}, err
	}

	var row history.Row

	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(downloadsBucket)
		if b == nil {
			return errBucketMissing
		}

		v := b.Get(key(id))
		if v == nil {
			return storage.ErrNotFound
		}

		return json.Unmarshal(v, &row)
	})

	switch {
	case errors.Is(err, storage.ErrNotFound):
		return history.Row{}, storage.ErrNotFound
	case err != nil:
		return history.Row{}, &storage.OperationError{Op: "get_download", ID: id, Err: err}
	}

	return row, nil
}

func (r *DownloadRepository) CreateDownload(ctx context.Context, row history.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := json.Marshal(row)
	if err != nil {
		return &storage.OperationError{Op: "create_download", ID: row.ID, Err: err}
	}

	err = r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(downloadsBucket)
		if b == nil {
			return errBucketMissing
		}

		if b.Get(key(row.ID)) != nil {
			return storage.ErrAlreadyExists
		}

		return b.Put(key(row.ID), p)
	})
	if err != nil {
		return &storage.OperationError{Op: "create_download", ID: row.ID, Err: err}
	}

	return nil
}

// UpdateDownload replaces the mutable fields of a stored row. Fields fixed
// at creation, like the URL chain, keep their stored values.
func (r *DownloadRepository) UpdateDownload(ctx context.Context, row history.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(downloadsBucket)
		if b == nil {
			return errBucketMissing
		}

		v := b.Get(key(row.ID))
		if v == nil {
			return storage.ErrNotFound
		}

		var stored history.Row
		if err := json.Unmarshal(v, &stored); err != nil {
			return fmt.Errorf("failed to decode stored row: %w", err)
		}

		p, err := json.Marshal(keepCreationFields(stored, row))
		if err != nil {
			return err
		}

		return b.Put(key(row.ID), p)
	})
	if err != nil {
		return &storage.OperationError{Op: "update_download", ID: row.ID, Err: err}
	}

	return nil
}

func (r *DownloadRepository) RemoveDownloads(ctx context.Context, ids []uint32) error {
	if len(ids) == 0 {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(downloadsBucket)
		if b == nil {
			return errBucketMissing
		}

		for _, id := range ids {
			if err := b.Delete(key(id)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return &storage.OperationError{Op: "remove_downloads", Err: err}
	}

	return nil
}

func keepCreationFields(stored, row history.Row) history.Row {
	row.GUID = stored.GUID
	row.URLChain = stored.URLChain
	row.ReferrerURL = stored.ReferrerURL
	row.EmbedderData = stored.EmbedderData
	row.TabURL = stored.TabURL
	row.TabReferrerURL = stored.TabReferrerURL
	row.MimeType = stored.MimeType
	row.OriginalMimeType = stored.OriginalMimeType
	row.StartTime = stored.StartTime

	return row
}

func key(id uint32) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, id)

	return k
}
