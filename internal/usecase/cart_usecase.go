package usecase

import (
	"context"
	"errors"
	"fmt"

	"bookshop/internal/domain/model"
	repo "bookshop/internal/repository"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// /cart の業務ロジック
type CartUsecase struct {
	cartRepo     repo.CartRepository
	cartItemRepo repo.CartItemRepository
	productRepo  repo.ProductRepository
}

func NewCartUsecase(
	cartRepo repo.CartRepository,
	cartItemRepo repo.CartItemRepository,
	productRepo repo.ProductRepository,
) *CartUsecase {
	return &CartUsecase{
		cartRepo:     cartRepo,
		cartItemRepo: cartItemRepo,
		productRepo:  productRepo,
	}
}

// priceは商品の現在価格
type CartItemResponse struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type CartResponse struct {
	Items    []CartItemResponse `json:"items"`
	Subtotal decimal.Decimal    `json:"subtotal"`
}

type AddCartInput struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type UpdateCartItemInput struct {
	Quantity int64 `json:"quantity"`
}

// カート取得（無ければACTIVEを作って空を返す）
func (u *CartUsecase) GetCart(ctx context.Context, userID int64) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, ErrUnauthorized
	}

	cart, err := u.cartRepo.GetOrCreateActiveByUserID(ctx, userID)
	if err != nil {
		return CartResponse{}, ErrInternal
	}
	return u.buildCartResponse(ctx, cart.ID)
}

// 同一商品は数量加算
func (u *CartUsecase) AddToCart(ctx context.Context, userID int64, in AddCartInput) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, ErrUnauthorized
	}
	if in.ProductID <= 0 {
		return CartResponse{}, NewValidationError("product_id", "is required")
	}
	if in.Quantity < 1 {
		return CartResponse{}, NewValidationError("quantity", "must be at least 1")
	}

	cart, err := u.cartRepo.GetOrCreateActiveByUserID(ctx, userID)
	if err != nil {
		return CartResponse{}, ErrInternal
	}

	p, err := u.availableProduct(ctx, in.ProductID)
	if err != nil {
		return CartResponse{}, err
	}

	items, err := u.cartItemRepo.ListByCartID(ctx, cart.ID)
	if err != nil {
		return CartResponse{}, ErrInternal
	}
	var existingQty int64
	if it, ok := lo.Find(items, func(it model.CartItem) bool { return it.ProductID == in.ProductID }); ok {
		existingQty = it.Quantity
	}

	if existingQty+in.Quantity > p.Stock {
		return CartResponse{}, NewValidationError("quantity", fmt.Sprintf("only %d left in stock", p.Stock))
	}

	if err := u.cartItemRepo.UpsertByCartAndProduct(ctx, cart.ID, in.ProductID, in.Quantity); err != nil {
		return CartResponse{}, ErrInternal
	}
	return u.buildCartResponse(ctx, cart.ID)
}

// 数量変更（所有チェック＋在庫チェック）
func (u *CartUsecase) UpdateCartItem(ctx context.Context, userID int64, cartItemID int64, in UpdateCartItemInput) (CartResponse, error) {
	if err := u.checkItemOwner(ctx, userID, cartItemID); err != nil {
		return CartResponse{}, err
	}
	if in.Quantity < 1 {
		return CartResponse{}, NewValidationError("quantity", "must be at least 1")
	}

	item, err := u.cartItemRepo.FindByID(ctx, cartItemID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return CartResponse{}, ErrNotFound
		}
		return CartResponse{}, ErrInternal
	}

	p, err := u.availableProduct(ctx, item.ProductID)
	if err != nil {
		return CartResponse{}, err
	}
	if in.Quantity > p.Stock {
		return CartResponse{}, NewValidationError("quantity", fmt.Sprintf("only %d left in stock", p.Stock))
	}

	if err := u.cartItemRepo.UpdateQuantity(ctx, cartItemID, in.Quantity); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return CartResponse{}, ErrNotFound
		}
		return CartResponse{}, ErrInternal
	}
	return u.buildCartResponse(ctx, item.CartID)
}

// 明細削除
func (u *CartUsecase) DeleteCartItem(ctx context.Context, userID int64, cartItemID int64) (CartResponse, error) {
	if err := u.checkItemOwner(ctx, userID, cartItemID); err != nil {
		return CartResponse{}, err
	}

	if err := u.cartItemRepo.DeleteByID(ctx, cartItemID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return CartResponse{}, ErrNotFound
		}
		return CartResponse{}, ErrInternal
	}

	cart, err := u.cartRepo.FindActiveByUserID(ctx, userID)
	if err != nil {
		return CartResponse{}, ErrInternal
	}
	return u.buildCartResponse(ctx, cart.ID)
}

// 全明細削除
func (u *CartUsecase) ClearCart(ctx context.Context, userID int64) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, ErrUnauthorized
	}

	cart, err := u.cartRepo.FindActiveByUserID(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return CartResponse{Items: []CartItemResponse{}, Subtotal: decimal.Zero}, nil
	}
	if err != nil {
		return CartResponse{}, ErrInternal
	}

	if err := u.cartRepo.Clear(ctx, cart.ID); err != nil {
		return CartResponse{}, ErrInternal
	}
	return CartResponse{Items: []CartItemResponse{}, Subtotal: decimal.Zero}, nil
}

// 他人の明細は404（存在を漏らさない）
func (u *CartUsecase) checkItemOwner(ctx context.Context, userID, cartItemID int64) error {
	if userID <= 0 {
		return ErrUnauthorized
	}
	if cartItemID <= 0 {
		return NewValidationError("id", "invalid id")
	}

	owned, err := u.cartItemRepo.IsOwnedByUser(ctx, cartItemID, userID)
	if err != nil {
		return ErrInternal
	}
	if !owned {
		return ErrNotFound
	}
	return nil
}

func (u *CartUsecase) availableProduct(ctx context.Context, productID int64) (model.Product, error) {
	p, err := u.productRepo.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Product{}, NewValidationError("product_id", "is not available")
	}
	if err != nil {
		return model.Product{}, ErrInternal
	}
	if !p.IsActive {
		return model.Product{}, NewValidationError("product_id", "is not available")
	}
	return p, nil
}

// 非公開・削除済みの商品は表示しない
func (u *CartUsecase) buildCartResponse(ctx context.Context, cartID int64) (CartResponse, error) {
	items, err := u.cartItemRepo.ListByCartID(ctx, cartID)
	if err != nil {
		return CartResponse{}, ErrInternal
	}

	products, err := u.productRepo.FindByIDs(ctx, lo.Map(items, func(it model.CartItem, _ int) int64 { return it.ProductID }))
	if err != nil {
		return CartResponse{}, ErrInternal
	}

	resp := CartResponse{Items: make([]CartItemResponse, 0, len(items)), Subtotal: decimal.Zero}
	for _, it := range items {
		p, ok := products[it.ProductID]
		if !ok || !p.IsActive {
			continue
		}

		line := lineTotal(p.Price, it.Quantity)
		resp.Items = append(resp.Items, CartItemResponse{
			ID:        it.ID,
			ProductID: it.ProductID,
			Title:     p.Title,
			Price:     p.Price.Round(2),
			Quantity:  it.Quantity,
			LineTotal: line,
		})
		resp.Subtotal = resp.Subtotal.Add(line)
	}
	return resp, nil
}
