package pg

import (
	"context"
	"time"

	"loomspace.org/internal/ratelimit"
)

var _ ratelimit.Counter = (*Store)(nil)

// IncrementAndGet bumps the counter for the key inside a single upsert, so
// the increment and the window reset are atomic against concurrent callers.
// A row whose window elapsed is restarted in place; live rows just count up.
func (s *Store) IncrementAndGet(ctx context.Context, key string, ttl time.Duration) (int64, time.Time, error) {
	now := time.Now().UTC()
	windowEnd := now.Add(ttl)

	var (
		count     int64
		expiresAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		insert into rate_windows(key, window_start, expires_at, count)
		values ($1, $2, $3, 1)
		on conflict (key) do update set
			count = case when rate_windows.expires_at <= excluded.window_start
				then 1 else rate_windows.count + 1 end,
			window_start = case when rate_windows.expires_at <= excluded.window_start
				then excluded.window_start else rate_windows.window_start end,
			expires_at = case when rate_windows.expires_at <= excluded.window_start
				then excluded.expires_at else rate_windows.expires_at end
		returning count, expires_at
	`, key, now, windowEnd).Scan(&count, &expiresAt)
	if err != nil {
		return 0, time.Time{}, err
	}
	return count, expiresAt, nil
}

// PurgeWindows deletes elapsed rate windows. Run by the retention sweep.
func (s *Store) PurgeWindows(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from rate_windows where expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
