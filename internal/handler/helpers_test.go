package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"bookshop/internal/config"
	"bookshop/internal/domain/model"
	"bookshop/internal/repository"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "handler-test-secret"

func testConfig() config.Config {
	return config.Config{JWTSecret: testSecret, AccessTTL: 15 * time.Minute}
}

// TokenVersionGuard / cable 用
type stubUsers struct {
	users map[int64]*model.User
}

func newStubUsers(users ...*model.User) *stubUsers {
	s := &stubUsers{users: map[int64]*model.User{}}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *stubUsers) Create(_ context.Context, u *model.User) error {
	s.users[u.ID] = u
	return nil
}

func (s *stubUsers) FindByID(_ context.Context, id int64) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *stubUsers) FindByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubUsers) Update(_ context.Context, u *model.User) error {
	s.users[u.ID] = u
	return nil
}

func (s *stubUsers) IncrementTokenVersion(_ context.Context, id int64) error {
	if u, ok := s.users[id]; ok {
		u.TokenVersion++
	}
	return nil
}

var _ repository.UserRepository = (*stubUsers)(nil)

type mockAddressRepo struct {
	mock.Mock
}

func (m *mockAddressRepo) Create(ctx context.Context, a model.Address) (model.Address, error) {
	args := m.Called(ctx, a)
	out, _ := args.Get(0).(model.Address)
	return out, args.Error(1)
}

func (m *mockAddressRepo) ListByUserID(ctx context.Context, userID int64) ([]model.Address, error) {
	args := m.Called(ctx, userID)
	out, _ := args.Get(0).([]model.Address)
	return out, args.Error(1)
}

func (m *mockAddressRepo) FindByID(ctx context.Context, id int64) (model.Address, error) {
	args := m.Called(ctx, id)
	out, _ := args.Get(0).(model.Address)
	return out, args.Error(1)
}

func (m *mockAddressRepo) FindAnyByID(ctx context.Context, id int64) (model.Address, error) {
	args := m.Called(ctx, id)
	out, _ := args.Get(0).(model.Address)
	return out, args.Error(1)
}

func (m *mockAddressRepo) Update(ctx context.Context, a model.Address) error {
	return m.Called(ctx, a).Error(0)
}

func (m *mockAddressRepo) Delete(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockAddressRepo) IsOwnedByUser(ctx context.Context, addressID, userID int64) (bool, error) {
	args := m.Called(ctx, addressID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockAddressRepo) SetDefault(ctx context.Context, userID, addressID int64) error {
	return m.Called(ctx, userID, addressID).Error(0)
}

var _ repository.AddressRepository = (*mockAddressRepo)(nil)

func activeUser(id int64, role model.Role) *model.User {
	return &model.User{ID: id, Email: "u" + strconv.FormatInt(id, 10) + "@example.com", Role: role, IsActive: true}
}

func mustToken(t *testing.T, u *model.User) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  strconv.FormatInt(u.ID, 10),
		"role": string(u.Role),
		"tv":   u.TokenVersion,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func doRequest(e *echo.Echo, method, path, body, token string, headers ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()

	var out ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
