package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/mittalrahul074/picklist/internal/domain"
	pfirestore "github.com/mittalrahul074/picklist/internal/platform/firestore"
	"github.com/mittalrahul074/picklist/internal/repositories"
)

const (
	ordersCollection = "orders"
	// Firestore caps a transaction at 500 writes.
	maxWritesPerTx = 500
)

// OrderRepository stores orders as documents keyed by order ID.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	txOpts   []pfirestore.TxOption
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs the repository. txOpts apply to every transaction it runs.
func NewOrderRepository(provider *pfirestore.Provider, txOpts ...pfirestore.TxOption) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
		txOpts:   txOpts,
	}, nil
}

// MaxBatchSize implements repositories.OrderRepository.
func (r *OrderRepository) MaxBatchSize() int {
	return maxWritesPerTx
}

// RunInTx implements repositories.OrderRepository.
func (r *OrderRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.OrderTx) error) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return wrapOrderError("orders.tx", err)
	}
	err = pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &orderTx{repo: r, client: client, tx: tx})
	}, r.txOpts...)
	return wrapOrderError("orders.tx", err)
}

// InsertBatch implements repositories.OrderRepository. Existence is re-checked inside the
// transaction so concurrent ingestions of the same file cannot both create an order.
func (r *OrderRepository) InsertBatch(ctx context.Context, orders []domain.Order) (int, error) {
	if len(orders) == 0 {
		return 0, nil
	}
	if len(orders) > maxWritesPerTx {
		return 0, fmt.Errorf("orders.insert_batch: %d orders exceeds limit %d", len(orders), maxWritesPerTx)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, wrapOrderError("orders.insert_batch", err)
	}
	coll := client.Collection(ordersCollection)
	refs := make([]*firestore.DocumentRef, len(orders))
	for i, order := range orders {
		refs[i] = coll.Doc(order.ID)
	}

	var created int
	err = pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		created = 0
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		for i, snap := range snaps {
			if snap.Exists() {
				continue
			}
			if err := tx.Create(refs[i], newOrderDocument(orders[i])); err != nil {
				return err
			}
			created++
		}
		return nil
	}, r.txOpts...)
	if err != nil {
		return 0, wrapOrderError("orders.insert_batch", err)
	}
	return created, nil
}

// Exists implements repositories.OrderRepository.
func (r *OrderRepository) Exists(ctx context.Context, orderID string) (bool, error) {
	ref, err := r.orders.DocumentRef(ctx, orderID)
	if err != nil {
		return false, wrapOrderError("orders.exists", err)
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, wrapOrderError("orders.exists", err)
	}
	return snap.Exists(), nil
}

// FindByID implements repositories.OrderRepository.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.find", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List implements repositories.OrderRepository.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.Status != nil {
			q = q.Where("status", "==", string(*filter.Status))
		}
		if filter.SKU != "" {
			q = q.Where("sku", "==", filter.SKU)
		}
		if filter.CreatedAfter != nil {
			q = q.Where("created_at", ">=", filter.CreatedAfter.UTC())
		}
		return q.OrderBy("created_at", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, wrapOrderError("orders.list", err)
	}

	out := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		// Platform values arrive in mixed case, so it is matched here rather than in the query.
		if filter.Platform != "" && !strings.EqualFold(doc.Data.Platform, filter.Platform) {
			continue
		}
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	return out, nil
}

type orderTx struct {
	repo   *OrderRepository
	client *firestore.Client
	tx     *firestore.Transaction
}

func (t *orderTx) ListCandidates(_ context.Context, sku string, status domain.OrderStatus) ([]domain.Order, error) {
	query := t.client.Collection(ordersCollection).
		Where("sku", "==", sku).
		Where("status", "==", string(status)).
		OrderBy("created_at", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc)

	snaps, err := t.tx.Documents(query).GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(snaps))
	for _, snap := range snaps {
		doc, err := decodeOrder(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, doc.toDomain(snap.Ref.ID))
	}
	return out, nil
}

func (t *orderTx) Get(_ context.Context, orderID string) (domain.Order, error) {
	snap, err := t.tx.Get(t.client.Collection(ordersCollection).Doc(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	doc, err := decodeOrder(snap)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func (t *orderTx) ApplyTransition(_ context.Context, update repositories.OrderTransitionUpdate) error {
	updates := []firestore.Update{
		{Path: "status", Value: string(update.To)},
		{Path: "updated_at", Value: update.UpdatedAt.UTC()},
	}
	if field := stampField(update.Set); field != "" {
		updates = append(updates, firestore.Update{Path: field, Value: update.ActorID})
	}
	if field := stampField(update.Clear); field != "" {
		updates = append(updates, firestore.Update{Path: field, Value: ""})
	}
	return t.tx.Update(t.client.Collection(ordersCollection).Doc(update.OrderID), updates, firestore.Exists)
}

func stampField(stamp domain.Stamp) string {
	switch stamp {
	case domain.StampPickedBy, domain.StampValidatedBy, domain.StampAcceptedBy:
		return string(stamp)
	}
	return ""
}

type orderDocument struct {
	SKU          string     `firestore:"sku"`
	Quantity     int        `firestore:"quantity"`
	Status       string     `firestore:"status"`
	PickedBy     string     `firestore:"picked_by"`
	ValidatedBy  string     `firestore:"validated_by"`
	AcceptedBy   string     `firestore:"accepted_by"`
	Platform     string     `firestore:"platform"`
	CreatedAt    time.Time  `firestore:"created_at"`
	UpdatedAt    time.Time  `firestore:"updated_at"`
	DispatchDate *time.Time `firestore:"dispatch_date"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		SKU:         order.SKU,
		Quantity:    order.Quantity,
		Status:      string(order.Status),
		PickedBy:    order.PickedBy,
		ValidatedBy: order.ValidatedBy,
		AcceptedBy:  order.AcceptedBy,
		Platform:    order.Platform,
		CreatedAt:   order.CreatedAt.UTC(),
		UpdatedAt:   order.UpdatedAt.UTC(),
	}
	if order.DispatchDate != nil {
		date := order.DispatchDate.UTC()
		doc.DispatchDate = &date
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:          id,
		SKU:         d.SKU,
		Quantity:    d.Quantity,
		Status:      domain.OrderStatus(d.Status),
		PickedBy:    d.PickedBy,
		ValidatedBy: d.ValidatedBy,
		AcceptedBy:  d.AcceptedBy,
		Platform:    d.Platform,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if d.DispatchDate != nil {
		date := d.DispatchDate.UTC()
		order.DispatchDate = &date
	}
	return order
}

func decodeOrder(snap *firestore.DocumentSnapshot) (orderDocument, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return orderDocument{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	if !domain.OrderStatus(doc.Status).Valid() {
		return orderDocument{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, domain.ErrUnknownStatus)
	}
	return doc, nil
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		if storeErr.Op == "" {
			storeErr.Op = op
		}
		return storeErr
	}
	return pfirestore.WrapError(op, err)
}
