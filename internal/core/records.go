package core

import (
	"context"
	"errors"
	"time"

	"nexurabuild/pkg/domain"
)

// DefaultStoreTimeout bounds every store call when no timeout is configured.
const DefaultStoreTimeout = 5 * time.Second

// Collection gives typed access to one store collection. Every call runs
// under the configured timeout; transport failures and deadline expiry
// surface as KindStoreUnavailable and are never retried.
type Collection[T any] struct {
	store   domain.DocumentStore
	name    domain.EntityType
	timeout time.Duration
}

func (c Collection[T]) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c Collection[T]) storeError(verb string, err error) error {
	if errors.Is(err, domain.ErrDuplicateKey) {
		return &LifecycleError{Kind: KindConflict, Message: verb + " " + string(c.name) + ": duplicate key", Cause: err}
	}
	return &LifecycleError{Kind: KindStoreUnavailable, Message: verb + " " + string(c.name), Cause: err}
}

// Name returns the collection name.
func (c Collection[T]) Name() domain.EntityType { return c.name }

// Get returns the first record matching filter.
func (c Collection[T]) Get(ctx context.Context, filter domain.Filter) (T, bool, error) {
	var zero T
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	doc, ok, err := c.store.FindOne(ctx, string(c.name), filter)
	if err != nil {
		return zero, false, c.storeError("find", err)
	}
	if !ok {
		return zero, false, nil
	}
	out, err := domain.FromDocument[T](doc)
	if err != nil {
		return zero, false, c.storeError("decode", err)
	}
	return out, true, nil
}

// List returns records matching filter.
func (c Collection[T]) List(ctx context.Context, filter domain.Filter, opts domain.FindOptions) ([]T, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	docs, err := c.store.Find(ctx, string(c.name), filter, opts)
	if err != nil {
		return nil, c.storeError("find", err)
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		rec, err := domain.FromDocument[T](doc)
		if err != nil {
			return nil, c.storeError("decode", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Count returns the number of records matching filter.
func (c Collection[T]) Count(ctx context.Context, filter domain.Filter) (int64, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	n, err := c.store.Count(ctx, string(c.name), filter)
	if err != nil {
		return 0, c.storeError("count", err)
	}
	return n, nil
}

// Insert stores rec. A record carrying an identifier keeps it.
func (c Collection[T]) Insert(ctx context.Context, rec T) (domain.InsertResult, error) {
	doc, err := domain.ToDocument(rec)
	if err != nil {
		return domain.InsertResult{}, &LifecycleError{Kind: KindValidation, Message: "encode " + string(c.name), Cause: err}
	}
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	res, err := c.store.InsertOne(ctx, string(c.name), doc)
	if err != nil {
		return domain.InsertResult{}, c.storeError("insert", err)
	}
	return res, nil
}

// Update applies patch to the first record matching filter.
func (c Collection[T]) Update(ctx context.Context, filter domain.Filter, patch domain.Patch) (domain.UpdateResult, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	res, err := c.store.UpdateOne(ctx, string(c.name), filter, patch)
	if err != nil {
		return domain.UpdateResult{}, c.storeError("update", err)
	}
	return res, nil
}

// Delete removes the first record matching filter.
func (c Collection[T]) Delete(ctx context.Context, filter domain.Filter) (domain.DeleteResult, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	res, err := c.store.DeleteOne(ctx, string(c.name), filter)
	if err != nil {
		return domain.DeleteResult{}, c.storeError("delete", err)
	}
	return res, nil
}

// Records is the typed adapter over a DocumentStore.
type Records struct {
	Users         Collection[domain.User]
	Apartments    Collection[domain.Apartment]
	Agreements    Collection[domain.Agreement]
	Payments      Collection[domain.Payment]
	Announcements Collection[domain.Announcement]
	Coupons       Collection[domain.Coupon]

	store domain.DocumentStore
}

// NewRecords wraps store with typed collections bounded by timeout. A
// non-positive timeout selects DefaultStoreTimeout.
func NewRecords(store domain.DocumentStore, timeout time.Duration) *Records {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &Records{
		Users:         Collection[domain.User]{store: store, name: domain.EntityUser, timeout: timeout},
		Apartments:    Collection[domain.Apartment]{store: store, name: domain.EntityApartment, timeout: timeout},
		Agreements:    Collection[domain.Agreement]{store: store, name: domain.EntityAgreement, timeout: timeout},
		Payments:      Collection[domain.Payment]{store: store, name: domain.EntityPayment, timeout: timeout},
		Announcements: Collection[domain.Announcement]{store: store, name: domain.EntityAnnouncement, timeout: timeout},
		Coupons:       Collection[domain.Coupon]{store: store, name: domain.EntityCoupon, timeout: timeout},
		store:         store,
	}
}

// Store returns the underlying document store.
func (r *Records) Store() domain.DocumentStore { return r.store }

// Close releases the underlying store.
func (r *Records) Close() error { return r.store.Close() }

func byID(id string) domain.Filter { return domain.Filter{domain.IDField: id} }
