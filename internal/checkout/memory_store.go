package checkout

import (
	"context"
	"sort"
	"sync"
	"time"
)

// NewMemoryStore constructs an in-memory Store and CartReader.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

// MemoryStore keeps inventory, orders and carts in memory. Transactions run
// one at a time against a copy of the state, which replaces the live state
// only when fn succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	products map[string]Product
	orders   map[string]Order
	carts    map[string]Cart
}

func newMemState() *memState {
	return &memState{
		products: make(map[string]Product),
		orders:   make(map[string]Order),
		carts:    make(map[string]Cart),
	}
}

func (s *memState) clone() *memState {
	next := newMemState()
	for k, v := range s.products {
		next.products[k] = v
	}
	for k, v := range s.orders {
		next.orders[k] = cloneOrder(v)
	}
	for k, v := range s.carts {
		v.Lines = append([]Line(nil), v.Lines...)
		next.carts[k] = v
	}
	return next
}

func cloneOrder(o Order) Order {
	o.Lines = append([]Line(nil), o.Lines...)
	if o.PaymentProof != nil {
		proof := *o.PaymentProof
		o.PaymentProof = &proof
	}
	return o
}

// PutProduct seeds or overwrites a product.
func (m *MemoryStore) PutProduct(p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.products[p.ID] = p
}

// Product returns a product snapshot (for testing/inspection).
func (m *MemoryStore) Product(id string) (Product, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.products[id]
	return p, ok
}

// SetCart replaces the user's cart.
func (m *MemoryStore) SetCart(c Cart) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Lines = append([]Line(nil), c.Lines...)
	m.state.carts[c.UserID] = c
}

// ReadCart returns the user's cart; a missing cart reads as empty.
func (m *MemoryStore) ReadCart(_ context.Context, userID string) (Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.state.carts[userID]
	if !ok {
		return Cart{UserID: userID}, nil
	}
	c.Lines = append([]Line(nil), c.Lines...)
	return c, nil
}

// InTx runs fn against a private copy of the state and commits it on success.
func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(ctx, &memTx{state: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *MemoryStore) AttachSession(ctx context.Context, orderID, sessionID string) error {
	return m.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.ProviderSessionID == sessionID {
			return nil
		}
		o.ProviderSessionID = sessionID
		return tx.UpdateOrder(ctx, o)
	})
}

func (m *MemoryStore) ListOrdersByUser(_ context.Context, userID string) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0)
	for _, o := range m.state.orders {
		if o.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) GetOrder(_ context.Context, orderID string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.state.orders[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

type memTx struct {
	state *memState
}

func (t *memTx) GetProduct(_ context.Context, productID string) (Product, error) {
	p, ok := t.state.products[productID]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (t *memTx) SaveProduct(_ context.Context, p Product) error {
	if _, ok := t.state.products[p.ID]; !ok {
		return ErrProductNotFound
	}
	t.state.products[p.ID] = p
	return nil
}

func (t *memTx) ListProducts(context.Context) ([]Product, error) {
	out := make([]Product, 0, len(t.state.products))
	for _, p := range t.state.products {
		out = append(out, p)
	}
	return out, nil
}

func (t *memTx) InsertOrder(_ context.Context, o Order) error {
	t.state.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *memTx) GetOrder(_ context.Context, orderID string) (Order, error) {
	o, ok := t.state.orders[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (t *memTx) GetOrderBySession(_ context.Context, sessionID string) (Order, error) {
	if sessionID == "" {
		return Order{}, ErrOrderNotFound
	}
	for _, o := range t.state.orders {
		if o.ProviderSessionID == sessionID {
			return cloneOrder(o), nil
		}
	}
	return Order{}, ErrOrderNotFound
}

func (t *memTx) UpdateOrder(_ context.Context, o Order) error {
	if _, ok := t.state.orders[o.ID]; !ok {
		return ErrOrderNotFound
	}
	t.state.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *memTx) DeleteOrder(_ context.Context, orderID string) error {
	delete(t.state.orders, orderID)
	return nil
}

func (t *memTx) ListPendingOrders(_ context.Context, createdBefore time.Time) ([]Order, error) {
	out := make([]Order, 0)
	for _, o := range t.state.orders {
		if o.Status != StatusPending {
			continue
		}
		if !createdBefore.IsZero() && !o.CreatedAt.Before(createdBefore) {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) DeleteCart(_ context.Context, userID string) error {
	delete(t.state.carts, userID)
	return nil
}
