package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookshop/internal/domain/model"
	repo "bookshop/internal/repository"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	maxNoteLength           = 500
	maxIdempotencyKeyLength = 255
	maxTrackingLength       = 100

	defaultPerPage = 20
	maxPerPage     = 100
)

// リクエストの主体（JWTのsub/role）
type Actor struct {
	UserID int64
	Role   model.Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == model.RoleAdmin
}

type OrderUsecase struct {
	tx        repo.TransactionManager
	orders    repo.OrderRepository
	items     repo.OrderItemRepository
	addresses repo.AddressRepository
	payments  *PaymentSessionBuilder
	events    *OrderEvents
	pricing   Pricing
	updater   *orderUpdater
	log       Logger
}

func NewOrderUsecase(
	tx repo.TransactionManager,
	orders repo.OrderRepository,
	items repo.OrderItemRepository,
	addresses repo.AddressRepository,
	payments *PaymentSessionBuilder,
	events *OrderEvents,
	pricing Pricing,
	log Logger,
) *OrderUsecase {
	log = orNop(log)
	return &OrderUsecase{
		tx:        tx,
		orders:    orders,
		items:     items,
		addresses: addresses,
		payments:  payments,
		events:    events,
		pricing:   pricing,
		updater:   newOrderUpdater(tx, items, events, log),
		log:       log,
	}
}

type PlaceOrderInput struct {
	AddressID      int64
	PaymentMethod  string
	Note           string
	IdempotencyKey string
}

type PlaceOrderResult struct {
	Order              OrderOutput `json:"order"`
	PaymentRedirectURL string      `json:"payment_redirect_url"`
	// Idempotency-Keyで既存の注文を返した
	Replayed bool `json:"-"`
}

type OrderItemOutput struct {
	ID         int64           `json:"id"`
	ProductID  int64           `json:"product_id"`
	Title      string          `json:"title"`
	Quantity   int64           `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type OrderOutput struct {
	ID                int64             `json:"id"`
	UserID            int64             `json:"user_id"`
	OrderNumber       string            `json:"order_number"`
	Status            string            `json:"status"`
	Subtotal          decimal.Decimal   `json:"subtotal"`
	TaxAmount         decimal.Decimal   `json:"tax_amount"`
	ShippingCost      decimal.Decimal   `json:"shipping_cost"`
	TotalAmount       decimal.Decimal   `json:"total_amount"`
	ShippingAddressID int64             `json:"shipping_address_id"`
	ShippingAddress   *AddressDTO       `json:"shipping_address,omitempty"`
	PaymentMethod     string            `json:"payment_method"`
	PaymentStatus     string            `json:"payment_status"`
	PaymentURL        string            `json:"payment_url,omitempty"`
	TrackingNumber    string            `json:"tracking_number,omitempty"`
	Notes             string            `json:"notes,omitempty"`
	Items             []OrderItemOutput `json:"items"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

type Pagination struct {
	CurrentPage int   `json:"current_page"`
	NextPage    *int  `json:"next_page"`
	PrevPage    *int  `json:"prev_page"`
	TotalPages  int   `json:"total_pages"`
	TotalCount  int64 `json:"total_count"`
}

type OrderPage struct {
	Orders     []OrderOutput `json:"orders"`
	Pagination Pagination    `json:"pagination"`
}

type PaymentSessionOutput struct {
	OrderNumber        string `json:"order_number"`
	PaymentRedirectURL string `json:"payment_redirect_url"`
}

// 注文作成
func (u *OrderUsecase) PlaceOrder(ctx context.Context, userID int64, in PlaceOrderInput) (PlaceOrderResult, error) {
	if userID <= 0 {
		return PlaceOrderResult{}, ErrUnauthorized
	}
	key, err := validatePlaceOrder(&in)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	//address_idの存在確認＋所有チェック（削除済みは使えない）
	addr, err := u.addresses.FindByID(ctx, in.AddressID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return PlaceOrderResult{}, ErrNotFound
		}
		return PlaceOrderResult{}, ErrInternal
	}
	if addr.UserID != userID {
		return PlaceOrderResult{}, ErrForbidden
	}

	var (
		order    model.Order
		items    []model.OrderItem
		replayed bool
	)

	// 途中でクライアントが切断しても最後まで実行する
	txCtx := context.WithoutCancel(ctx)
	err = u.tx.WithinTx(txCtx, func(r repo.TxRepos) error {
		//同じユーザーの確定処理はここで直列化
		cart, err := r.Carts().LockActiveByUserID(txCtx, userID)
		hasCart := err == nil
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("lock cart: %w", err)
		}

		// 同じキーなら同じ結果
		if key != nil {
			existing, found, err := r.Orders().FindByIdempotencyKey(txCtx, userID, *key)
			if err != nil {
				return fmt.Errorf("find by idempotency key: %w", err)
			}
			if found {
				order = existing
				items, err = r.OrderItems().ListByOrderID(txCtx, existing.ID)
				if err != nil {
					return fmt.Errorf("list order items: %w", err)
				}
				replayed = true
				return nil
			}
		}

		if !hasCart {
			return ErrEmptyCart
		}
		cartItems, err := r.CartItems().ListByCartID(txCtx, cart.ID)
		if err != nil {
			return fmt.Errorf("list cart items: %w", err)
		}
		cartItems = lo.Filter(cartItems, func(ci model.CartItem, _ int) bool { return ci.Quantity > 0 })
		if len(cartItems) == 0 {
			return ErrEmptyCart
		}

		products, err := r.Products().FindByIDs(txCtx, lo.Map(cartItems, func(ci model.CartItem, _ int) int64 { return ci.ProductID }))
		if err != nil {
			return fmt.Errorf("load products: %w", err)
		}

		//現在価格で明細を作り、在庫を減らす
		subtotal := decimal.Zero
		items = make([]model.OrderItem, 0, len(cartItems))
		for _, ci := range cartItems {
			p, ok := products[ci.ProductID]
			if !ok || !p.IsActive {
				return NewValidationError("items", fmt.Sprintf("product %d is not available", ci.ProductID))
			}

			ok, err := r.Inventory().DecreaseStockIfEnough(txCtx, p.ID, ci.Quantity)
			if err != nil {
				return fmt.Errorf("decrease stock: %w", err)
			}
			if !ok {
				return NewValidationError("items", fmt.Sprintf("%s is out of stock", p.Title))
			}

			line := lineTotal(p.Price, ci.Quantity)
			subtotal = subtotal.Add(line)
			items = append(items, model.OrderItem{
				ProductID:     p.ID,
				TitleSnapshot: p.Title,
				Quantity:      ci.Quantity,
				UnitPrice:     p.Price.Round(2),
				TotalPrice:    line,
			})
		}

		totals := u.pricing.Compute(subtotal)
		now := time.Now()
		order = model.Order{
			UserID:            userID,
			OrderNumber:       newOrderNumber(now),
			Status:            model.OrderStatusPending,
			Subtotal:          totals.Subtotal,
			TaxAmount:         totals.Tax,
			ShippingCost:      totals.Shipping,
			TotalAmount:       totals.Total,
			ShippingAddressID: addr.ID,
			PaymentMethod:     in.PaymentMethod,
			PaymentStatus:     model.PaymentStatusPending,
			Notes:             in.Note,
			IdempotencyKey:    key,
			NotifyPending:     true,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := r.Orders().Create(txCtx, &order); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return ErrConflict
			}
			return fmt.Errorf("create order: %w", err)
		}

		if err := r.OrderItems().CreateBulk(txCtx, order.ID, items); err != nil {
			return fmt.Errorf("create order items: %w", err)
		}

		for _, it := range items {
			if err := r.Inventory().CreateAdjustment(txCtx, model.InventoryAdjustment{
				ProductID:   it.ProductID,
				OrderID:     &order.ID,
				ActorUserID: userID,
				Delta:       -it.Quantity,
				Reason:      "order placed " + order.OrderNumber,
			}); err != nil {
				return fmt.Errorf("record adjustment: %w", err)
			}
		}

		//カートは残して明細だけ消す
		if err := r.Carts().Clear(txCtx, cart.ID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		return nil
	})
	if err != nil {
		if isDomainError(err) {
			return PlaceOrderResult{}, err
		}
		u.log.Errorf("place order for user %d failed: %v", userID, err)
		return PlaceOrderResult{}, ErrInternal
	}

	addrDTO := toAddressDTO(&addr)
	if replayed {
		out := toOrderOutput(order, items, &addrDTO)
		return PlaceOrderResult{Order: out, PaymentRedirectURL: order.PaymentURL, Replayed: true}, nil
	}

	u.events.Emit(txCtx, EventOrderCreated, order, items)

	sess, err := u.payments.Build(txCtx, order, items)
	out := toOrderOutput(order, items, &addrDTO)
	if err != nil {
		var pe *PaymentSessionError
		if errors.As(err, &pe) {
			pe.Order = &out
		}
		return PlaceOrderResult{Order: out}, err
	}

	out.PaymentURL = sess.URL
	return PlaceOrderResult{Order: out, PaymentRedirectURL: sess.URL}, nil
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64, page, perPage int) (OrderPage, error) {
	if userID <= 0 {
		return OrderPage{}, ErrUnauthorized
	}
	page, perPage = normalizePage(page, perPage)

	orders, total, err := u.orders.ListByUserID(ctx, userID, page, perPage)
	if err != nil {
		u.log.Errorf("list orders for user %d failed: %v", userID, err)
		return OrderPage{}, ErrInternal
	}

	outs, err := u.withItems(ctx, orders)
	if err != nil {
		return OrderPage{}, err
	}
	return OrderPage{Orders: outs, Pagination: newPagination(page, perPage, total)}, nil
}

// 本人か管理者のみ
func (u *OrderUsecase) GetOrder(ctx context.Context, actor Actor, orderID int64) (OrderOutput, error) {
	o, err := u.loadVisible(ctx, actor, orderID)
	if err != nil {
		return OrderOutput{}, err
	}

	items, err := u.items.ListByOrderID(ctx, o.ID)
	if err != nil {
		return OrderOutput{}, ErrInternal
	}

	//配送先は削除済みでも表示する
	var addrDTO *AddressDTO
	addr, err := u.addresses.FindAnyByID(ctx, o.ShippingAddressID)
	switch {
	case err == nil:
		dto := toAddressDTO(&addr)
		addrDTO = &dto
	case errors.Is(err, repo.ErrNotFound):
	default:
		return OrderOutput{}, ErrInternal
	}

	return toOrderOutput(o, items, addrDTO), nil
}

// 決済セッションの再作成。作成済みなら保存済みのURLを返す
func (u *OrderUsecase) CreatePaymentSession(ctx context.Context, actor Actor, orderID int64) (PaymentSessionOutput, error) {
	o, err := u.loadVisible(ctx, actor, orderID)
	if err != nil {
		return PaymentSessionOutput{}, err
	}
	if o.UserID != actor.UserID {
		return PaymentSessionOutput{}, ErrForbidden
	}

	if o.HasPaymentSession() {
		return PaymentSessionOutput{OrderNumber: o.OrderNumber, PaymentRedirectURL: o.PaymentURL}, nil
	}
	if o.Status != model.OrderStatusPending {
		return PaymentSessionOutput{}, NewValidationError("status", "order is not awaiting payment")
	}

	items, err := u.items.ListByOrderID(ctx, o.ID)
	if err != nil {
		return PaymentSessionOutput{}, ErrInternal
	}

	sess, err := u.payments.Build(ctx, o, items)
	if err != nil {
		var pe *PaymentSessionError
		if errors.As(err, &pe) {
			out := toOrderOutput(o, items, nil)
			pe.Order = &out
		}
		return PaymentSessionOutput{}, err
	}
	return PaymentSessionOutput{OrderNumber: o.OrderNumber, PaymentRedirectURL: sess.URL}, nil
}

// 本人：メモとPENDINGからのキャンセルのみ。管理者：遷移表どおり＋追跡番号
func (u *OrderUsecase) UpdateOrder(ctx context.Context, actor Actor, orderID int64, in UpdateOrderInput) (OrderOutput, error) {
	if _, err := u.loadVisible(ctx, actor, orderID); err != nil {
		return OrderOutput{}, err
	}
	return u.updater.apply(ctx, actor, orderID, in)
}

func (u *OrderUsecase) loadVisible(ctx context.Context, actor Actor, orderID int64) (model.Order, error) {
	if actor.UserID <= 0 {
		return model.Order{}, ErrUnauthorized
	}
	if orderID <= 0 {
		return model.Order{}, NewValidationError("id", "invalid id")
	}

	o, err := u.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Order{}, ErrNotFound
		}
		return model.Order{}, ErrInternal
	}
	if o.UserID != actor.UserID && !actor.IsAdmin() {
		return model.Order{}, ErrForbidden
	}
	return o, nil
}

func (u *OrderUsecase) withItems(ctx context.Context, orders []model.Order) ([]OrderOutput, error) {
	return ordersWithItems(ctx, u.items, orders, u.log)
}

func ordersWithItems(ctx context.Context, itemsRepo repo.OrderItemRepository, orders []model.Order, log Logger) ([]OrderOutput, error) {
	outs := make([]OrderOutput, 0, len(orders))
	for _, o := range orders {
		items, err := itemsRepo.ListByOrderID(ctx, o.ID)
		if err != nil {
			log.Errorf("list items of order %d failed: %v", o.ID, err)
			return nil, ErrInternal
		}
		outs = append(outs, toOrderOutput(o, items, nil))
	}
	return outs, nil
}

func validatePlaceOrder(in *PlaceOrderInput) (*string, error) {
	if in.AddressID <= 0 {
		return nil, NewValidationError("shipping_address_id", "is required")
	}

	in.PaymentMethod = strings.TrimSpace(in.PaymentMethod)
	if in.PaymentMethod == "" {
		in.PaymentMethod = model.PaymentMethodCard
	}
	if in.PaymentMethod != model.PaymentMethodCard {
		return nil, NewValidationError("payment_method", "is not supported")
	}

	in.Note = strings.TrimSpace(in.Note)
	if len([]rune(in.Note)) > maxNoteLength {
		return nil, NewValidationError("note", fmt.Sprintf("must be at most %d characters", maxNoteLength))
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		return nil, nil
	}
	if len(key) > maxIdempotencyKeyLength {
		return nil, NewValidationError("idempotency_key", fmt.Sprintf("must be at most %d characters", maxIdempotencyKeyLength))
	}
	return &key, nil
}

func normalizePage(page, perPage int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

func newPagination(page, perPage int, total int64) Pagination {
	pages := int((total + int64(perPage) - 1) / int64(perPage))
	p := Pagination{CurrentPage: page, TotalPages: pages, TotalCount: total}
	if page < pages {
		next := page + 1
		p.NextPage = &next
	}
	if page > 1 {
		prev := page - 1
		p.PrevPage = &prev
	}
	return p
}

// usecaseが返すエラーはそのまま返す。それ以外はログに出して500
func isDomainError(err error) bool {
	var (
		ve *ValidationError
		he *HTTPError
	)
	return errors.As(err, &ve) || errors.As(err, &he) ||
		errors.Is(err, ErrEmptyCart) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInternal)
}

func toOrderOutput(o model.Order, items []model.OrderItem, addr *AddressDTO) OrderOutput {
	return OrderOutput{
		ID:                o.ID,
		UserID:            o.UserID,
		OrderNumber:       o.OrderNumber,
		Status:            o.Status.String(),
		Subtotal:          o.Subtotal,
		TaxAmount:         o.TaxAmount,
		ShippingCost:      o.ShippingCost,
		TotalAmount:       o.TotalAmount,
		ShippingAddressID: o.ShippingAddressID,
		ShippingAddress:   addr,
		PaymentMethod:     o.PaymentMethod,
		PaymentStatus:     string(o.PaymentStatus),
		PaymentURL:        o.PaymentURL,
		TrackingNumber:    o.TrackingNumber,
		Notes:             o.Notes,
		Items: lo.Map(items, func(it model.OrderItem, _ int) OrderItemOutput {
			return OrderItemOutput{
				ID:         it.ID,
				ProductID:  it.ProductID,
				Title:      it.TitleSnapshot,
				Quantity:   it.Quantity,
				UnitPrice:  it.UnitPrice,
				TotalPrice: it.TotalPrice,
			}
		}),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}
