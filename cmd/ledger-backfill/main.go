// Command ledger-backfill replays tender transactions from the order
// platform's GraphQL API into the local payment ledger. It is the recovery
// path for webhook outages: re-run it for the affected date range and the
// ledger converges, since inserts are keyed on the platform transaction id.
package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/zdonhauser/pos-webhooks/internal/domain/transaction"
	"github.com/zdonhauser/pos-webhooks/internal/shopify"
	"github.com/zdonhauser/pos-webhooks/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
)

func main() {
	var (
		databaseURL string
		shopDomain  string
		accessToken string
		apiVersion  string
		sinceFlag   string
		untilFlag   string
		exportPath  string
		pageSize    int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&shopDomain, "shop", "", "myshopify shop domain (or SHOPIFY_SHOP env)")
	flag.StringVar(&accessToken, "access-token", "", "Admin API access token (or SHOPIFY_ACCESS_TOKEN env)")
	flag.StringVar(&apiVersion, "api-version", "", "Admin API version override")
	flag.StringVar(&sinceFlag, "since", "", "fetch transactions processed at or after this RFC3339 time (default 7 days ago)")
	flag.StringVar(&untilFlag, "until", "", "fetch transactions processed before this RFC3339 time (default: no upper bound)")
	flag.StringVar(&exportPath, "export", "", "also write fetched transactions as gzipped NDJSON to this path")
	flag.IntVar(&pageSize, "page-size", 100, "GraphQL page size")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if shopDomain == "" {
		shopDomain = os.Getenv("SHOPIFY_SHOP")
	}
	if accessToken == "" {
		accessToken = os.Getenv("SHOPIFY_ACCESS_TOKEN")
	}
	if databaseURL == "" || shopDomain == "" || accessToken == "" {
		slog.Error("database URL, shop domain, and access token are all required")
		os.Exit(1)
	}

	window := shopify.DateRange{Since: time.Now().AddDate(0, 0, -7)}
	if sinceFlag != "" {
		parsed, err := time.Parse(time.RFC3339, sinceFlag)
		if err != nil {
			slog.Error("invalid --since value", slog.String("error", err.Error()))
			os.Exit(1)
		}
		window.Since = parsed
	}
	if untilFlag != "" {
		parsed, err := time.Parse(time.RFC3339, untilFlag)
		if err != nil {
			slog.Error("invalid --until value", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if !parsed.After(window.Since) {
			slog.Error("--until must be after --since")
			os.Exit(1)
		}
		window.Until = parsed
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, shopDomain, accessToken, apiVersion, exportPath, window, pageSize); err != nil {
		slog.Error("backfill failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("backfill completed")
}

func run(ctx context.Context, databaseURL, shopDomain, accessToken, apiVersion, exportPath string, window shopify.DateRange, pageSize int) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewTransactionRepository(pool)

	// Seed a bloom filter with every id already ingested for the range. The
	// filter answers "definitely new" without a database round trip; a maybe
	// answer falls back to an exact check.
	filter, err := seedFilter(ctx, repo, window.Since)
	if err != nil {
		return errors.Wrap(err, "seed dedup filter")
	}

	client, err := shopify.NewClient(shopify.Config{
		ShopDomain:  shopDomain,
		AccessToken: accessToken,
		APIVersion:  apiVersion,
		PageSize:    pageSize,
	})
	if err != nil {
		return errors.Wrap(err, "create client")
	}

	ingest := &ingester{repo: repo, filter: filter}

	// Producer walks the paginated API while the consumer writes rows, so a
	// throttle wait on one side never idles the other.
	pages := make(chan []shopify.TenderTransaction, 4)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(pages)
		return client.FetchTenderTransactions(gctx, window,
			func(ctx context.Context, txs []shopify.TenderTransaction) error {
				select {
				case pages <- txs:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
	})
	g.Go(func() error {
		for txs := range pages {
			if err := ingest.page(gctx, txs); err != nil {
				return err
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("ingest finished",
		slog.Int("fetched", ingest.fetched),
		slog.Int("inserted", ingest.inserted),
		slog.Int("skipped", ingest.skipped),
	)

	if exportPath != "" {
		if err := exportNDJSON(ctx, repo, window.Since, exportPath); err != nil {
			return errors.Wrap(err, "export")
		}
	}
	return nil
}

// seedFilter loads known transaction ids into a bloom filter.
func seedFilter(ctx context.Context, repo *postgres.TransactionRepository, since time.Time) (*bloom.BloomFilter, error) {
	ids, err := repo.IDsSince(ctx, since)
	if err != nil {
		return nil, err
	}

	filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	var buf [8]byte
	for _, id := range ids {
		binary.BigEndian.PutUint64(buf[:], uint64(id))
		filter.Add(buf[:])
	}
	slog.Info("dedup filter seeded", slog.Int("known_ids", len(ids)))
	return filter, nil
}

type ingester struct {
	repo   *postgres.TransactionRepository
	filter *bloom.BloomFilter

	fetched  int
	inserted int
	skipped  int
}

// page writes one fetched page. Ids the filter has definitely never seen go
// straight to a conflict-safe insert; maybe-present ids get an exact
// existence check first, which on re-runs skips nearly every row.
func (in *ingester) page(ctx context.Context, txs []shopify.TenderTransaction) error {
	for i := range txs {
		in.fetched++

		row, err := fromTender(&txs[i])
		if err != nil {
			slog.Warn("skipping unparsable tender transaction",
				slog.String("id", txs[i].ID),
				slog.String("error", err.Error()),
			)
			in.skipped++
			continue
		}

		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(row.ID))
		if in.filter.Test(buf[:]) {
			exists, err := in.repo.Exists(ctx, row.ID)
			if err != nil {
				return err
			}
			if exists {
				in.skipped++
				continue
			}
		}

		if err := in.repo.Insert(ctx, row); err != nil {
			return err
		}
		in.filter.Add(buf[:])
		in.inserted++
	}
	return nil
}

// fromTender maps an API node onto a ledger row. GraphQL ids look like
// gid://shopify/TenderTransaction/123; only the numeric tail is stored.
func fromTender(t *shopify.TenderTransaction) (*transaction.Transaction, error) {
	id, err := gidNumber(t.ID)
	if err != nil {
		return nil, errors.Wrap(err, "transaction id")
	}

	row := &transaction.Transaction{
		ID:          id,
		Kind:        "tender",
		Gateway:     t.PaymentMethod,
		Status:      "success",
		Amount:      t.Amount,
		Currency:    t.Currency,
		Test:        t.Test,
		SourceName:  "backfill",
		PaymentID:   t.RemoteReference,
		ProcessedAt: t.ProcessedAt,
	}
	if t.OrderID != "" {
		orderID, err := gidNumber(t.OrderID)
		if err != nil {
			return nil, errors.Wrap(err, "order id")
		}
		row.OrderID = orderID
	}
	return row, nil
}

func gidNumber(gid string) (int64, error) {
	tail := gid
	if i := strings.LastIndexByte(gid, '/'); i >= 0 {
		tail = gid[i+1:]
	}
	n, err := strconv.ParseInt(tail, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse gid %q", gid)
	}
	return n, nil
}

// exportNDJSON dumps the ingested range as gzipped NDJSON for spreadsheet
// reconciliation.
func exportNDJSON(ctx context.Context, repo *postgres.TransactionRepository, since time.Time, path string) error {
	txs, err := repo.ListSince(ctx, since)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create export file")
	}
	defer func() { _ = f.Close() }()

	gz := pgzip.NewWriter(f)
	w := bufio.NewWriter(gz)
	enc := json.NewEncoder(w)
	for i := range txs {
		if err := enc.Encode(&txs[i]); err != nil {
			return errors.Wrap(err, "encode row")
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "flush export")
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, "close gzip stream")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close export file")
	}

	slog.Info("export written", slog.String("path", path), slog.Int("rows", len(txs)))
	return nil
}
