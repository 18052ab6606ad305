package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"bookshop/internal/domain/model"
	repo "bookshop/internal/repository"
)

// =====================
// in-memory store（Txはスナップショットで巻き戻す）
// =====================

type memState struct {
	users       map[int64]model.User
	addresses   map[int64]model.Address
	products    map[int64]model.Product
	carts       map[int64]model.Cart
	cartItems   map[int64]model.CartItem
	orders      map[int64]model.Order
	orderItems  map[int64][]model.OrderItem
	adjustments []model.InventoryAdjustment
	audits      []model.AuditLog
	nextID      int64
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memState) clone() *memState {
	items := make(map[int64][]model.OrderItem, len(s.orderItems))
	for k, v := range s.orderItems {
		items[k] = append([]model.OrderItem(nil), v...)
	}
	return &memState{
		users:       cloneMap(s.users),
		addresses:   cloneMap(s.addresses),
		products:    cloneMap(s.products),
		carts:       cloneMap(s.carts),
		cartItems:   cloneMap(s.cartItems),
		orders:      cloneMap(s.orders),
		orderItems:  items,
		adjustments: append([]model.InventoryAdjustment(nil), s.adjustments...),
		audits:      append([]model.AuditLog(nil), s.audits...),
		nextID:      s.nextID,
	}
}

type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *memState

	// 名前が一致した操作でエラーを返す（ロールバック確認用）
	failOn map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		st: &memState{
			users:      map[int64]model.User{},
			addresses:  map[int64]model.Address{},
			products:   map[int64]model.Product{},
			carts:      map[int64]model.Cart{},
			cartItems:  map[int64]model.CartItem{},
			orders:     map[int64]model.Order{},
			orderItems: map[int64][]model.OrderItem{},
			nextID:     100,
		},
		failOn: map[string]error{},
	}
}

func (s *memStore) fail(op string) error {
	return s.failOn[op]
}

func (s *memStore) id() int64 {
	s.st.nextID++
	return s.st.nextID
}

func (s *memStore) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(memTxRepos{s: s}); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

type memTxRepos struct{ s *memStore }

func (r memTxRepos) Orders() repo.OrderRepository         { return &memOrders{s: r.s} }
func (r memTxRepos) OrderItems() repo.OrderItemRepository { return &memOrderItems{s: r.s} }
func (r memTxRepos) Carts() repo.CartRepository           { return &memCarts{s: r.s} }
func (r memTxRepos) CartItems() repo.CartItemRepository   { return &memCarts{s: r.s} }
func (r memTxRepos) Inventory() repo.InventoryRepository  { return &memInventory{s: r.s} }
func (r memTxRepos) Products() repo.ProductRepository     { return &memProducts{s: r.s} }
func (r memTxRepos) AuditLogs() repo.AuditLogRepository   { return &memAudit{s: r.s} }

// ---- seed / 参照ヘルパー

func (s *memStore) addUser(u model.User) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.id()
	}
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	s.st.users[u.ID] = u
	return u
}

func (s *memStore) addAddress(a model.Address) model.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.id()
	}
	s.st.addresses[a.ID] = a
	return a
}

func (s *memStore) addProduct(p model.Product) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.st.products[p.ID] = p
	return p
}

func (s *memStore) addToCart(userID, productID, qty int64) {
	c := &memCarts{s: s}
	cart, _ := c.GetOrCreateActiveByUserID(context.Background(), userID)
	_ = c.UpsertByCartAndProduct(context.Background(), cart.ID, productID, qty)
}

func (s *memStore) stock(productID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.products[productID].Stock
}

func (s *memStore) order(id int64) model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.orders[id]
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders)
}

func (s *memStore) cartLines(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.st.carts {
		if c.UserID != userID {
			continue
		}
		for _, ci := range s.st.cartItems {
			if ci.CartID == c.ID {
				n++
			}
		}
	}
	return n
}

func (s *memStore) adjustments() []model.InventoryAdjustment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.InventoryAdjustment(nil), s.st.adjustments...)
}

func (s *memStore) audits() []model.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditLog(nil), s.st.audits...)
}

// =====================
// repositories
// =====================

type memOrders struct{ s *memStore }

func (r *memOrders) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.st.orders[orderID]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

func (r *memOrders) FindByExternalSessionID(ctx context.Context, sessionID string) (model.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.st.orders {
		if o.ExternalSessionID != nil && *o.ExternalSessionID == sessionID {
			return o, nil
		}
	}
	return model.Order{}, repo.ErrNotFound
}

func (r *memOrders) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	return r.list(func(o model.Order) bool { return o.UserID == userID }, page, limit)
}

func (r *memOrders) list(match func(model.Order) bool, page, limit int) ([]model.Order, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var all []model.Order
	for _, o := range r.s.st.orders {
		if match(o) {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	start := (page - 1) * limit
	if start >= len(all) {
		return []model.Order{}, int64(len(all)), nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

func (r *memOrders) Create(ctx context.Context, order *model.Order) error {
	if err := r.s.fail("Orders.Create"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if order.IdempotencyKey != nil {
		for _, o := range r.s.st.orders {
			if o.UserID == order.UserID && o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey {
				return repo.ErrDuplicate
			}
		}
	}
	order.ID = r.s.id()
	r.s.st.orders[order.ID] = *order
	return nil
}

func (r *memOrders) TransitionStatus(ctx context.Context, orderID int64, t repo.StatusTransition) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.st.orders[orderID]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, f := range t.From {
		if o.Status == f {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	o.Status = t.To
	if t.PaymentStatus != nil {
		o.PaymentStatus = *t.PaymentStatus
	}
	if t.NotifyPending {
		o.NotifyPending = true
	}
	o.UpdatedAt = time.Now()
	r.s.st.orders[orderID] = o
	return true, nil
}

func (r *memOrders) SetPaymentSession(ctx context.Context, orderID int64, sessionID string, paymentURL string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.st.orders[orderID]
	if !ok || o.HasPaymentSession() {
		return false, nil
	}
	o.ExternalSessionID = &sessionID
	o.PaymentURL = paymentURL
	r.s.st.orders[orderID] = o
	return true, nil
}

func (r *memOrders) UpdateDetails(ctx context.Context, orderID int64, notes *string, trackingNumber *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.st.orders[orderID]
	if !ok {
		return repo.ErrNotFound
	}
	if notes != nil {
		o.Notes = *notes
	}
	if trackingNumber != nil {
		o.TrackingNumber = *trackingNumber
	}
	r.s.st.orders[orderID] = o
	return nil
}

func (r *memOrders) MarkNotified(ctx context.Context, orderID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o := r.s.st.orders[orderID]
	o.NotifyPending = false
	r.s.st.orders[orderID] = o
	return nil
}

func (r *memOrders) ListNotifyPending(ctx context.Context, updatedBefore time.Time, limit int) ([]model.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Order
	for _, o := range r.s.st.orders {
		if o.NotifyPending && o.UpdatedAt.Before(updatedBefore) && len(out) < limit {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *memOrders) FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.st.orders {
		if o.UserID == userID && o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return o, true, nil
		}
	}
	return model.Order{}, false, nil
}

func (r *memOrders) ListAdmin(ctx context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	return r.list(func(o model.Order) bool {
		if f.Status != "" && string(o.Status) != f.Status {
			return false
		}
		if f.UserID != nil && o.UserID != *f.UserID {
			return false
		}
		if f.From != nil && o.CreatedAt.Before(*f.From) {
			return false
		}
		if f.To != nil && o.CreatedAt.After(*f.To) {
			return false
		}
		return true
	}, f.Page, f.Limit)
}

type memOrderItems struct{ s *memStore }

func (r *memOrderItems) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	if err := r.s.fail("OrderItems.CreateBulk"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, it := range items {
		it.ID = r.s.id()
		it.OrderID = orderID
		r.s.st.orderItems[orderID] = append(r.s.st.orderItems[orderID], it)
	}
	return nil
}

func (r *memOrderItems) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]model.OrderItem{}, r.s.st.orderItems[orderID]...), nil
}

type memCarts struct{ s *memStore }

func (r *memCarts) findActive(userID int64) (model.Cart, bool) {
	for _, c := range r.s.st.carts {
		if c.UserID == userID && c.Status == model.CartStatusActive {
			return c, true
		}
	}
	return model.Cart{}, false
}

func (r *memCarts) GetOrCreateActiveByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.findActive(userID); ok {
		return c, nil
	}
	c := model.Cart{ID: r.s.id(), UserID: userID, Status: model.CartStatusActive}
	r.s.st.carts[c.ID] = c
	return c, nil
}

func (r *memCarts) FindActiveByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.findActive(userID); ok {
		return c, nil
	}
	return model.Cart{}, repo.ErrNotFound
}

func (r *memCarts) LockActiveByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	return r.FindActiveByUserID(ctx, userID)
}

func (r *memCarts) Clear(ctx context.Context, cartID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, ci := range r.s.st.cartItems {
		if ci.CartID == cartID {
			delete(r.s.st.cartItems, id)
		}
	}
	return nil
}

func (r *memCarts) ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.CartItem
	for _, ci := range r.s.st.cartItems {
		if ci.CartID == cartID {
			out = append(out, ci)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memCarts) UpsertByCartAndProduct(ctx context.Context, cartID int64, productID int64, addQty int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, ci := range r.s.st.cartItems {
		if ci.CartID == cartID && ci.ProductID == productID {
			ci.Quantity += addQty
			r.s.st.cartItems[id] = ci
			return nil
		}
	}
	ci := model.CartItem{ID: r.s.id(), CartID: cartID, ProductID: productID, Quantity: addQty}
	r.s.st.cartItems[ci.ID] = ci
	return nil
}

func (r *memCarts) UpdateQuantity(ctx context.Context, cartItemID int64, qty int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ci, ok := r.s.st.cartItems[cartItemID]
	if !ok {
		return repo.ErrNotFound
	}
	ci.Quantity = qty
	r.s.st.cartItems[cartItemID] = ci
	return nil
}

func (r *memCarts) DeleteByID(ctx context.Context, cartItemID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.cartItems[cartItemID]; !ok {
		return repo.ErrNotFound
	}
	delete(r.s.st.cartItems, cartItemID)
	return nil
}

func (r *memCarts) FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ci, ok := r.s.st.cartItems[cartItemID]
	if !ok {
		return model.CartItem{}, repo.ErrNotFound
	}
	return ci, nil
}

func (r *memCarts) IsOwnedByUser(ctx context.Context, cartItemID int64, userID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ci, ok := r.s.st.cartItems[cartItemID]
	if !ok {
		return false, nil
	}
	return r.s.st.carts[ci.CartID].UserID == userID, nil
}

type memInventory struct{ s *memStore }

func (r *memInventory) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.products[productID]
	if !ok || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	r.s.st.products[productID] = p
	return true, nil
}

func (r *memInventory) IncreaseStock(ctx context.Context, productID int64, qty int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.products[productID]
	if !ok {
		return repo.ErrNotFound
	}
	p.Stock += qty
	r.s.st.products[productID] = p
	return nil
}

func (r *memInventory) CreateAdjustment(ctx context.Context, adjustment model.InventoryAdjustment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	adjustment.ID = r.s.id()
	r.s.st.adjustments = append(r.s.st.adjustments, adjustment)
	return nil
}

type memProducts struct{ s *memStore }

func (r *memProducts) FindByID(ctx context.Context, id int64) (model.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.products[id]
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (r *memProducts) FindByIDs(ctx context.Context, ids []int64) (map[int64]model.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[int64]model.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.s.st.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type memAudit struct{ s *memStore }

func (r *memAudit) Create(ctx context.Context, log model.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	log.ID = r.s.id()
	r.s.st.audits = append(r.s.st.audits, log)
	return nil
}

func (r *memAudit) List(ctx context.Context, f repo.AuditLogFilter) ([]model.AuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.AuditLog
	for _, l := range r.s.st.audits {
		if f.ResourceType != nil && l.ResourceType != *f.ResourceType {
			continue
		}
		if f.ResourceID != nil && l.ResourceID != *f.ResourceID {
			continue
		}
		if f.Action != nil && l.Action != *f.Action {
			continue
		}
		out = append(out, l)
	}
	if f.Offset >= len(out) {
		return []model.AuditLog{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

type memAddresses struct{ s *memStore }

func (r *memAddresses) Create(ctx context.Context, a model.Address) (model.Address, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a.ID = r.s.id()
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	r.s.st.addresses[a.ID] = a
	return a, nil
}

func (r *memAddresses) ListByUserID(ctx context.Context, userID int64) ([]model.Address, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Address
	for _, a := range r.s.st.addresses {
		if a.UserID == userID && !a.IsDeleted() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memAddresses) FindByID(ctx context.Context, addressID int64) (model.Address, error) {
	a, err := r.FindAnyByID(ctx, addressID)
	if err != nil {
		return model.Address{}, err
	}
	if a.IsDeleted() {
		return model.Address{}, repo.ErrNotFound
	}
	return a, nil
}

func (r *memAddresses) FindAnyByID(ctx context.Context, addressID int64) (model.Address, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.st.addresses[addressID]
	if !ok {
		return model.Address{}, repo.ErrNotFound
	}
	return a, nil
}

func (r *memAddresses) Update(ctx context.Context, a model.Address) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.st.addresses[a.ID]
	if !ok {
		return repo.ErrNotFound
	}
	// 所有者・default・削除状態は変えない
	a.UserID, a.IsDefault, a.DeletedAt, a.CreatedAt = cur.UserID, cur.IsDefault, cur.DeletedAt, cur.CreatedAt
	a.UpdatedAt = time.Now()
	r.s.st.addresses[a.ID] = a
	return nil
}

func (r *memAddresses) Delete(ctx context.Context, addressID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.st.addresses[addressID]
	if !ok {
		return repo.ErrNotFound
	}
	a.DeletedAt.Time, a.DeletedAt.Valid = time.Now(), true
	a.IsDefault = false
	r.s.st.addresses[addressID] = a
	return nil
}

func (r *memAddresses) IsOwnedByUser(ctx context.Context, addressID, userID int64) (bool, error) {
	a, err := r.FindByID(ctx, addressID)
	if err != nil {
		return false, nil
	}
	return a.UserID == userID, nil
}

func (r *memAddresses) SetDefault(ctx context.Context, userID, addressID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, a := range r.s.st.addresses {
		if a.UserID == userID {
			a.IsDefault = id == addressID
			r.s.st.addresses[id] = a
		}
	}
	return nil
}

type memUsers struct{ s *memStore }

func (r *memUsers) Create(ctx context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.st.users {
		if existing.Email == u.Email {
			return repo.ErrDuplicate
		}
	}
	u.ID = r.s.id()
	r.s.st.users[u.ID] = *u
	return nil
}

func (r *memUsers) FindByID(ctx context.Context, userID int64) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.st.users[userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &u, nil
}

func (r *memUsers) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.st.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (r *memUsers) Update(ctx context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.st.users[u.ID] = *u
	return nil
}

func (r *memUsers) IncrementTokenVersion(ctx context.Context, userID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.st.users[userID]
	if !ok {
		return repo.ErrNotFound
	}
	u.TokenVersion++
	r.s.st.users[userID] = u
	return nil
}

// =====================
// refresh token store
// =====================

type memTokenEntry struct {
	userID    int64
	expiresAt time.Time
}

type memTokenStore struct {
	mu      sync.Mutex
	tokens  map[string]memTokenEntry
	rotates int

	// Rotateの途中で止める
	gate chan struct{}
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{tokens: map[string]memTokenEntry{}}
}

func (s *memTokenStore) Save(ctx context.Context, tokenHash string, userID int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenHash] = memTokenEntry{userID: userID, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *memTokenStore) Rotate(ctx context.Context, oldHash string, newHash string, ttl time.Duration) (int64, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotates++
	e, ok := s.tokens[oldHash]
	if !ok || time.Now().After(e.expiresAt) {
		return 0, repo.ErrRefreshTokenNotFound
	}
	delete(s.tokens, oldHash)
	s.tokens[newHash] = memTokenEntry{userID: e.userID, expiresAt: time.Now().Add(ttl)}
	return e.userID, nil
}

func (s *memTokenStore) Delete(ctx context.Context, tokenHash string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[tokenHash]
	if !ok {
		return 0, repo.ErrRefreshTokenNotFound
	}
	delete(s.tokens, tokenHash)
	return e.userID, nil
}

func (s *memTokenStore) DeleteOwned(ctx context.Context, tokenHash string, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[tokenHash]
	if !ok || e.userID != userID {
		return repo.ErrRefreshTokenNotFound
	}
	delete(s.tokens, tokenHash)
	return nil
}

func (s *memTokenStore) DeleteAllByUserID(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, e := range s.tokens {
		if e.userID == userID {
			delete(s.tokens, h)
		}
	}
	return nil
}

func (s *memTokenStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func (s *memTokenStore) rotateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotates
}

// =====================
// payment / notify
// =====================

type fakeGateway struct {
	mu       sync.Mutex
	calls    []CheckoutRequest
	err      error
	delay    time.Duration
	event    WebhookEvent
	parseErr error
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.mu.Unlock()

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return CheckoutSession{}, ctx.Err()
		}
	}
	if g.err != nil {
		return CheckoutSession{}, g.err
	}
	id := "cs_test_" + req.OrderNumber
	return CheckoutSession{ID: id, URL: "https://checkout.example.com/" + id}, nil
}

func (g *fakeGateway) ParseWebhook(payload []byte, signatureHeader string) (WebhookEvent, error) {
	if g.parseErr != nil {
		return WebhookEvent{}, g.parseErr
	}
	if signatureHeader != "valid" {
		return WebhookEvent{}, errors.New("no valid signature")
	}
	return g.event, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type sentEvent struct {
	Type  string
	Order OrderOutput
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentEvent
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, eventType string, order OrderOutput) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentEvent{Type: eventType, Order: order})
	return nil
}

func (n *recordingNotifier) events() []sentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentEvent(nil), n.sent...)
}
