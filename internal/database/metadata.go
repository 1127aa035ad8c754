package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const lastCrawlKeyPrefix = "last_crawl:"

// GetMetadata retrieves a metadata value by key.
// Returns sql.ErrNoRows if the key doesn't exist.
func (d *Database) GetMetadata(ctx context.Context, key string) (value string, err error) {
	start := time.Now()
	defer func() {
		if errors.Is(err, sql.ErrNoRows) {
			recordQuery("get_metadata", start, nil)
			return
		}
		recordQuery("get_metadata", start, err)
	}()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var v sql.NullString
	err = d.db.QueryRowContext(ctx, d.rebind("SELECT value FROM metadata WHERE key = ?"), key).Scan(&v)
	if err != nil {
		return "", err
	}
	return v.String, nil
}

// SetMetadata sets a metadata key-value pair.
func (d *Database) SetMetadata(ctx context.Context, key, value string) (err error) {
	start := time.Now()
	defer func() { recordQuery("set_metadata", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, d.rebind(`
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`), key, value)
	return err
}

// GetLastCrawl returns when root last finished a crawl pass.
// Returns zero time if it never has.
func (d *Database) GetLastCrawl(ctx context.Context, root string) (time.Time, error) {
	value, err := d.GetMetadata(ctx, lastCrawlKeyPrefix+root)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

// SetLastCrawl records when root finished a crawl pass. A zero time clears it.
func (d *Database) SetLastCrawl(ctx context.Context, root string, t time.Time) error {
	if t.IsZero() {
		return d.SetMetadata(ctx, lastCrawlKeyPrefix+root, "")
	}
	return d.SetMetadata(ctx, lastCrawlKeyPrefix+root, t.UTC().Format(time.RFC3339))
}
