package webhook

import (
	"io"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/zdonhauser/pos-webhooks/internal/domain/giftcard"
	"github.com/zdonhauser/pos-webhooks/internal/domain/membership"
	"github.com/zdonhauser/pos-webhooks/internal/domain/order"
	"github.com/zdonhauser/pos-webhooks/internal/domain/transaction"
	"github.com/zdonhauser/pos-webhooks/pkg/keymutex"
)

// maxBodyBytes caps webhook payload size. The platforms deliver single
// resources, never bulk exports.
const maxBodyBytes = 1 << 20

// Secrets holds the per-platform shared webhook secrets.
type Secrets struct {
	Shopify string
	Seal    string
}

// Handler serves the inbound webhook endpoints.
//
// Every delivery walks the same states: verify the signature over the raw
// body, lock the resource, diff or derive, persist, unlock, acknowledge.
// A bad signature rejects before any lock is taken; a store failure after the
// lock still releases it and answers 500 so the sender redelivers. There is
// no internal retry queue.
type Handler struct {
	secrets      Secrets
	locks        *keymutex.KeyMutex
	snapshots    order.SnapshotStore
	ledger       order.LedgerWriter
	cards        giftcard.Repository
	members      membership.Repository
	transactions transaction.Repository
	tracer       trace.Tracer
}

// NewHandler constructs a Handler with the required stores. tp may be nil in
// tests.
func NewHandler(
	secrets Secrets,
	locks *keymutex.KeyMutex,
	snapshots order.SnapshotStore,
	ledger order.LedgerWriter,
	cards giftcard.Repository,
	members membership.Repository,
	transactions transaction.Repository,
	tp trace.TracerProvider,
) *Handler {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Handler{
		secrets:      secrets,
		locks:        locks,
		snapshots:    snapshots,
		ledger:       ledger,
		cards:        cards,
		members:      members,
		transactions: transactions,
		tracer:       tp.Tracer("webhook"),
	}
}

// Routes registers all webhook endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/orders/create", h.HandleOrderCreate)
	mux.HandleFunc("POST /webhooks/orders/update", h.HandleOrderUpdate)
	mux.HandleFunc("POST /webhooks/transactions/create", h.HandleTransactionCreate)
	mux.HandleFunc("POST /webhooks/subscriptions/update", h.HandleSubscriptionUpdate)
}

// HandleOrderCreate issues gift cards for the order's printable line items.
// Card numbers derive from line item ids, so a redelivered create webhook
// re-issues the same numbers and the store drops the duplicates.
func (h *Handler) HandleOrderCreate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "webhook.order_create")
	defer span.End()
	lg := zctx.From(ctx)

	raw, ok := h.verifiedBody(w, r, h.secrets.Shopify, ShopifySignatureHeader)
	if !ok {
		return
	}

	snap, err := order.ParsePayload(raw)
	if err != nil {
		lg.Warn("Malformed order payload", zap.Error(err))
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	if err := h.locks.Lock(ctx, snap.ID); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	defer h.locks.Unlock(snap.ID)

	cards := giftcard.IssueFromOrder(snap.LineItems, snap.ID)
	if len(cards) == 0 {
		lg.Debug("No printable cards in order", zap.String("order_id", snap.ID))
	}
	for i := range cards {
		inserted, err := h.cards.Insert(ctx, &cards[i])
		if err != nil {
			lg.Error("Insert gift card",
				zap.String("card_number", cards[i].CardNumber),
				zap.Error(err),
			)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		if !inserted {
			lg.Info("Duplicate gift card suppressed",
				zap.String("card_number", cards[i].CardNumber),
				zap.String("order_id", snap.ID),
			)
		}
	}

	ack(w)
}

// HandleOrderUpdate diffs the delivered snapshot against the stored one and
// appends the resulting ledger rows together with the new snapshot.
func (h *Handler) HandleOrderUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "webhook.order_update")
	defer span.End()
	lg := zctx.From(ctx)

	raw, ok := h.verifiedBody(w, r, h.secrets.Shopify, ShopifySignatureHeader)
	if !ok {
		return
	}

	snap, err := order.ParsePayload(raw)
	if err != nil {
		lg.Warn("Malformed order payload", zap.Error(err))
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	if err := h.locks.Lock(ctx, snap.ID); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	defer h.locks.Unlock(snap.ID)

	prev, err := h.snapshots.Latest(ctx, snap.ID)
	if err != nil {
		lg.Error("Load previous snapshot", zap.String("order_id", snap.ID), zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	// Out-of-order delivery: an older snapshot must never displace a newer
	// one. Acknowledge so the sender stops redelivering it.
	if prev != nil && snap.UpdatedAt.Before(prev.UpdatedAt) {
		lg.Info("Stale order delivery skipped",
			zap.String("order_id", snap.ID),
			zap.Time("delivered", snap.UpdatedAt),
			zap.Time("stored", prev.UpdatedAt),
		)
		ack(w)
		return
	}

	var prevItems []order.ItemSummary
	if prev != nil {
		prevItems = order.Summarize(prev)
	}
	deltas := order.Diff(order.Summarize(snap), prevItems)

	// First sighting always stores the snapshot; later deliveries only when
	// something actually changed.
	if len(deltas) == 0 && prev != nil {
		ack(w)
		return
	}

	if len(deltas) > 0 {
		if err := h.ledger.InsertSales(ctx, deltas); err != nil {
			lg.Error("Insert ledger rows", zap.String("order_id", snap.ID), zap.Error(err))
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
	}
	if err := h.snapshots.Append(ctx, snap, raw); err != nil {
		lg.Error("Store snapshot", zap.String("order_id", snap.ID), zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	lg.Info("Order processed",
		zap.String("order_id", snap.ID),
		zap.Int("deltas", len(deltas)),
	)
	ack(w)
}

// HandleTransactionCreate records one payment event. The platform id is the
// primary key, so duplicate deliveries insert nothing.
func (h *Handler) HandleTransactionCreate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "webhook.transaction_create")
	defer span.End()
	lg := zctx.From(ctx)

	raw, ok := h.verifiedBody(w, r, h.secrets.Shopify, ShopifySignatureHeader)
	if !ok {
		return
	}

	tx, err := transaction.ParsePayload(raw)
	if err != nil {
		lg.Warn("Malformed transaction payload", zap.Error(err))
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	if err := h.transactions.Insert(ctx, tx); err != nil {
		lg.Error("Insert transaction", zap.Int64("transaction_id", tx.ID), zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	lg.Info("Transaction recorded",
		zap.Int64("transaction_id", tx.ID),
		zap.String("kind", tx.Kind),
	)
	ack(w)
}

// HandleSubscriptionUpdate expands a subscription payload into membership
// rows. A failed signature check is logged but does not reject: the
// subscription platform has historically signed inconsistently across
// webhook versions, and memberships are reconciled manually downstream.
func (h *Handler) HandleSubscriptionUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "webhook.subscription_update")
	defer span.End()
	lg := zctx.From(ctx)

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if !VerifySignature(raw, h.secrets.Seal, r.Header.Get(SealSignatureHeader)) {
		lg.Warn("Subscription webhook signature invalid, continuing")
	}

	sub, err := membership.ParsePayload(raw)
	if err != nil {
		lg.Warn("Malformed subscription payload", zap.Error(err))
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	members := membership.MembersFromSubscription(sub)
	for i := range members {
		if err := h.members.Insert(ctx, &members[i]); err != nil {
			lg.Error("Insert membership",
				zap.String("sub_id", members[i].SubID),
				zap.Error(err),
			)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
	}

	lg.Info("Subscription processed",
		zap.String("sub_id", sub.ID),
		zap.Int("members", len(members)),
	)
	ack(w)
}

// verifiedBody reads the raw request bytes and checks the platform signature
// over exactly those bytes. It writes the error response itself and returns
// ok=false when the delivery must not be processed.
func (h *Handler) verifiedBody(w http.ResponseWriter, r *http.Request, secret, header string) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return nil, false
	}

	// A duplicated header is treated the same as a missing one.
	values := r.Header.Values(header)
	if len(values) != 1 || !VerifySignature(raw, secret, values[0]) {
		zctx.From(r.Context()).Warn("Webhook signature invalid",
			zap.String("path", r.URL.Path),
		)
		http.Error(w, "signature invalid", http.StatusUnauthorized)
		return nil, false
	}
	return raw, true
}

func ack(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Webhook received successfully"))
}
