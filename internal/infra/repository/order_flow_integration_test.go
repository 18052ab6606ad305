package repository

import (
	"context"
	"errors"
	"sync"

	"bookshop/internal/domain/model"
	repo "bookshop/internal/repository"
	"bookshop/internal/usecase"

	"github.com/shopspring/decimal"
)

type okGateway struct{}

func (okGateway) CreateCheckoutSession(_ context.Context, req usecase.CheckoutRequest) (usecase.CheckoutSession, error) {
	id := "cs_test_" + req.OrderNumber
	return usecase.CheckoutSession{ID: id, URL: "https://checkout.example.com/" + id}, nil
}

func (okGateway) ParseWebhook([]byte, string) (usecase.WebhookEvent, error) {
	return usecase.WebhookEvent{}, nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, usecase.OrderOutput) error { return nil }

func (s *postgresSuite) newOrderUsecase() *usecase.OrderUsecase {
	orders := NewOrderGormRepository(s.db)
	items := NewOrderItemGormRepository(s.db)
	payments := usecase.NewPaymentSessionBuilder(okGateway{}, NewProductGormRepository(s.db), orders,
		NewUserGormRepository(s.db), usecase.PaymentConfig{Currency: "usd"}, nil)
	events := usecase.NewOrderEvents(orders, items, nopNotifier{}, nil)
	pricing := usecase.Pricing{TaxRate: decimal.RequireFromString("0.10"), ShippingCost: decimal.RequireFromString("5.00")}

	return usecase.NewOrderUsecase(NewTxManagerGorm(s.db), orders, items, NewAddressGormRepository(s.db),
		payments, events, pricing, nil)
}

// カート行のFOR UPDATEで同一ユーザーの確定が直列化される
func (s *postgresSuite) TestPlaceOrderConcurrentSubmitsCreateOneOrder() {
	u := s.newUser()
	a := s.newAddress(u.ID)
	p := s.newProduct(10)

	carts := NewCartGormRepository(s.db)
	cart, err := carts.GetOrCreateActiveByUserID(s.ctx, u.ID)
	s.Require().NoError(err)
	s.Require().NoError(carts.UpsertByCartAndProduct(s.ctx, cart.ID, p.ID, 2))

	uc := s.newOrderUsecase()

	const n = 2
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = uc.PlaceOrder(s.ctx, u.ID, usecase.PlaceOrderInput{
				AddressID:     a.ID,
				PaymentMethod: model.PaymentMethodCard,
			})
		}(i)
	}
	close(start)
	wg.Wait()

	var placed, empty int
	for _, err := range errs {
		switch {
		case err == nil:
			placed++
		case errors.Is(err, usecase.ErrEmptyCart):
			empty++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, placed)
	s.Equal(1, empty)

	var orders int64
	s.Require().NoError(s.db.Model(&model.Order{}).Where("user_id = ?", u.ID).Count(&orders).Error)
	s.Equal(int64(1), orders)

	got, err := NewProductGormRepository(s.db).FindByID(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(8), got.Stock)
}

// 初回アクセスが同時に来てもACTIVEカートは1つ
func (s *postgresSuite) TestGetOrCreateActiveCartIsSingle() {
	u := s.newUser()
	carts := NewCartGormRepository(s.db)

	const n = 8
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		ids   = make([]int64, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			c, err := carts.GetOrCreateActiveByUserID(s.ctx, u.ID)
			s.NoError(err)
			ids[i] = c.ID
		}(i)
	}
	close(start)
	wg.Wait()

	for _, id := range ids {
		s.Equal(ids[0], id)
	}

	var active int64
	s.Require().NoError(s.db.Model(&model.Cart{}).
		Where("user_id = ? AND status = ?", u.ID, model.CartStatusActive).
		Count(&active).Error)
	s.Equal(int64(1), active)

	// インデックス自体も二重作成を拒否する
	err := s.db.Create(&model.Cart{UserID: u.ID, Status: model.CartStatusActive}).Error
	s.ErrorIs(translate(err), repo.ErrDuplicate)
}
