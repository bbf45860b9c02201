package imapx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-imap"

	"github.com/mailchat/mailsync/internal/retry"
)

// FetchConfig tunes the adaptive batch loop.
type FetchConfig struct {
	MinBatch         int
	MaxBatch         int
	BatchDelay       time.Duration
	ErrorCeiling     int           // cumulative fetch errors before aborting the folder
	RefreshInterval  time.Duration // reconnect when the session is older than this
	ThrottleCooldown time.Duration
}

// DefaultFetchConfig returns the tuning defaults.
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		MinBatch:         5,
		MaxBatch:         50,
		BatchDelay:       time.Second,
		ErrorCeiling:     5,
		RefreshInterval:  5 * time.Minute,
		ThrottleCooldown: 5 * time.Minute,
	}
}

// RawItem is one fetched message: its UID and the raw RFC 822 bytes.
type RawItem struct {
	UID uint32
	Raw []byte
}

// FetchStats summarizes one folder scan.
type FetchStats struct {
	Fetched int
	Errors  int
	Batches int
}

// Fetcher pages through a folder's messages in adaptively sized batches.
// One bad message never aborts its batch; only sustained connection-level
// failure aborts the folder.
type Fetcher struct {
	conn   *Conn
	cfg    FetchConfig
	logger *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a fetcher bound to an authenticated connection.
func NewFetcher(conn *Conn, cfg FetchConfig, logger *slog.Logger) *Fetcher {
	if cfg.MinBatch < 1 {
		cfg.MinBatch = 1
	}
	if cfg.MaxBatch < cfg.MinBatch {
		cfg.MaxBatch = cfg.MinBatch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With("component", "fetcher"),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Search returns the folder's message UIDs in server order. A zero since
// searches the whole folder. An empty result is not an error.
func (f *Fetcher) Search(ctx context.Context, folder string, since time.Time) ([]uint32, error) {
	if !f.conn.VerifyState(ctx, []State{StateAuthenticated, StateFolderSelected}, true, folder) {
		return nil, ErrConnection
	}

	criteria := imap.NewSearchCriteria()
	if !since.IsZero() {
		criteria.Since = since
	}
	uids, err := f.conn.UIDSearch(criteria)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("search complete", "folder", folder, "messages", len(uids))
	return uids, nil
}

// FetchAll retrieves the raw bytes for uids in batches, calling handle once
// per batch with the successfully fetched items. The batch size grows after
// clean batches and shrinks when more than a quarter of a batch fails; the
// delay between batches scales with the observed error rate.
func (f *Fetcher) FetchAll(ctx context.Context, folder string, uids []uint32, handle func(items []RawItem) error) (FetchStats, error) {
	var stats FetchStats
	size := f.cfg.MinBatch
	streak := 0

	for i := 0; i < len(uids); {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := f.maybeRefresh(ctx, folder); err != nil {
			return stats, err
		}

		end := i + size
		if end > len(uids) {
			end = len(uids)
		}
		batch := uids[i:end]

		items, batchErrs := f.fetchBatch(ctx, folder, batch)
		stats.Batches++
		stats.Fetched += len(items)
		stats.Errors += batchErrs

		if stats.Errors > f.cfg.ErrorCeiling {
			f.logger.Error("cumulative fetch errors exceeded ceiling, aborting folder",
				"folder", folder, "errors", stats.Errors)
			return stats, ErrTooManyErrors
		}

		if len(items) > 0 {
			if err := handle(items); err != nil {
				return stats, fmt.Errorf("batch handler: %w", err)
			}
		}
		i = end

		// Adapt the batch size to the error rate just observed.
		if batchErrs == 0 {
			streak += len(batch)
			if streak >= size && size < f.cfg.MaxBatch {
				size += 5
				if size > f.cfg.MaxBatch {
					size = f.cfg.MaxBatch
				}
				f.logger.Debug("increasing batch size", "size", size)
			}
		} else if batchErrs*4 > len(batch) {
			streak = 0
			if size > f.cfg.MinBatch {
				size -= 5
				if size < f.cfg.MinBatch {
					size = f.cfg.MinBatch
				}
				f.logger.Debug("decreasing batch size", "size", size)
			}
		}

		if i < len(uids) {
			delay := time.Duration(float64(f.cfg.BatchDelay) * (1 + 0.5*float64(batchErrs)))
			if err := f.sleep(ctx, delay); err != nil {
				return stats, err
			}
		}
	}
	return stats, nil
}

// fetchBatch retrieves one batch. Item failures are isolated and counted;
// a failed FETCH command triggers reconnect-and-reselect so the next batch
// continues on a fresh session.
func (f *Fetcher) fetchBatch(ctx context.Context, folder string, batch []uint32) ([]RawItem, int) {
	seqset := new(imap.SeqSet)
	for _, uid := range batch {
		seqset.AddNum(uid)
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, len(batch))
	done := make(chan error, 1)
	go func() {
		done <- f.conn.UIDFetch(seqset, items, ch)
	}()

	var out []RawItem
	errs := 0
	for msg := range ch {
		raw, err := rawBody(msg, section)
		if err != nil {
			f.logger.Warn("failed to read message body", "uid", msg.Uid, "error", err)
			errs++
			continue
		}
		out = append(out, RawItem{UID: msg.Uid, Raw: raw})
	}

	if err := <-done; err != nil {
		f.logger.Warn("fetch command failed", "folder", folder, "error", err)
		if retry.Classify(err) == retry.Throttle {
			f.conn.MarkThrottled(f.cfg.ThrottleCooldown)
		}
		// Everything the server did not deliver counts as an error.
		if missing := len(batch) - len(out); missing > errs {
			errs = missing
		}
		// A BYE or dropped connection mid-FETCH needs a fresh session.
		if !f.conn.VerifyState(ctx, []State{StateAuthenticated, StateFolderSelected}, true, folder) {
			f.logger.Error("failed to recover connection after fetch error", "folder", folder)
		}
	}
	return out, errs
}

func rawBody(msg *imap.Message, section *imap.BodySectionName) ([]byte, error) {
	body := msg.GetBody(section)
	if body == nil {
		// Some servers echo a slightly different section name back.
		for _, literal := range msg.Body {
			body = literal
			break
		}
	}
	if body == nil {
		return nil, fmt.Errorf("%w: no body section in fetch response", ErrProtocol)
	}
	return io.ReadAll(body)
}

// maybeRefresh reconnects and re-selects the folder when the session has
// outlived the refresh interval or fails a liveness probe. The caller sees
// only added latency.
func (f *Fetcher) maybeRefresh(ctx context.Context, folder string) error {
	stale := f.cfg.RefreshInterval > 0 && f.conn.SinceConnect() > f.cfg.RefreshInterval
	if !stale {
		if err := f.conn.Noop(); err == nil {
			return nil
		}
	} else {
		f.logger.Debug("refreshing connection", "age", f.conn.SinceConnect())
		f.conn.Disconnect()
	}
	if !f.conn.VerifyState(ctx, []State{StateAuthenticated, StateFolderSelected}, true, folder) {
		return ErrConnection
	}
	return nil
}
