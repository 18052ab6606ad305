package validator

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"bookshop/internal/repository"
	"bookshop/internal/usecase"
)

const minPasswordLength = 8

type authValidator struct {
	users repository.UserRepository
}

// Usecaseは interface を依存注入
func NewAuthValidator(users repository.UserRepository) usecase.AuthValidator {
	return &authValidator{users: users}
}

// サインアップの入力を検証
func (v *authValidator) ValidateRegister(ctx context.Context, email string, password string, name string) error {
	if err := validateEmail(email); err != nil {
		return err
	}
	if len(password) < minPasswordLength {
		return usecase.NewValidationError("password", "must be at least 8 characters")
	}
	if isWeakPassword(password) {
		return usecase.NewValidationError("password", "is too weak")
	}
	if len([]rune(strings.TrimSpace(name))) > 255 {
		return usecase.NewValidationError("name", "is too long")
	}

	// email重複チェック
	u, err := v.users.FindByEmail(ctx, strings.TrimSpace(email))
	if err == nil && u != nil {
		return usecase.NewHTTPError(http.StatusConflict, "email already used")
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return usecase.ErrInternal
	}
	return nil
}

// ログインの入力を検証
func (v *authValidator) ValidateLogin(ctx context.Context, email string, password string) error {
	if err := validateEmail(email); err != nil {
		return err
	}
	if password == "" {
		return usecase.NewValidationError("password", "is required")
	}
	return nil
}

// refresh 入力を検証
func (v *authValidator) ValidateRefresh(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return usecase.ErrInvalidRefreshToken
	}
	return nil
}

// 強制ログアウトの入力を検証
func (v *authValidator) ValidateForceLogout(ctx context.Context, targetUserID int64) error {
	if targetUserID <= 0 {
		return usecase.NewValidationError("id", "invalid id")
	}
	u, err := v.users.FindByID(ctx, targetUserID)
	if err != nil || u == nil {
		if err == nil || errors.Is(err, repository.ErrNotFound) {
			return usecase.ErrNotFound
		}
		return usecase.ErrInternal
	}
	return nil
}

func validateEmail(email string) error {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return usecase.NewValidationError("email", "is required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return usecase.NewValidationError("email", "is invalid")
	}
	return nil
}

// よくある弱いパスワード
func isWeakPassword(password string) bool {
	weak := map[string]struct{}{
		"password":    {},
		"password123": {},
		"12345678":    {},
		"1234567890":  {},
		"qwertyuiop":  {},
		"letmein1":    {},
		"admin123":    {},
	}
	_, ok := weak[strings.ToLower(strings.TrimSpace(password))]
	return ok
}
