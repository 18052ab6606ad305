package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"bookshop/internal/domain/model"
	"bookshop/internal/repository"

	"golang.org/x/crypto/bcrypt"
)

// usecaseがValidatorInterfaceに依存する約束
type AuthValidator interface {
	ValidateRegister(ctx context.Context, email string, password string, name string) error
	ValidateLogin(ctx context.Context, email string, password string) error
	ValidateRefresh(ctx context.Context, refreshToken string) error
	ValidateForceLogout(ctx context.Context, targetUserID int64) error
}

type UserDTO struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	TokenVersion int    `json:"token_version"`
	IsActive     bool   `json:"is_active"`
}

type AuthRegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type AuthRegisterResponse struct {
	User UserDTO `json:"user"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginResponse struct {
	User UserDTO `json:"user"`
	TokenPair
}

type SuccessResponse struct {
	Message string `json:"message"`
}

type ForceLogoutResponse struct {
	UserID          int64 `json:"user_id"`
	NewTokenVersion int   `json:"new_token_version"`
}

type AuthUsecase struct {
	users     repository.UserRepository
	tokens    *TokenService
	auditLogs repository.AuditLogRepository
	validator AuthValidator
}

func NewAuthUsecase(
	users repository.UserRepository,
	tokens *TokenService,
	auditLogs repository.AuditLogRepository,
	validator AuthValidator,
) *AuthUsecase {
	return &AuthUsecase{
		users:     users,
		tokens:    tokens,
		auditLogs: auditLogs,
		validator: validator,
	}
}

func (u *AuthUsecase) Register(ctx context.Context, req AuthRegisterRequest) (*AuthRegisterResponse, error) {
	if err := u.validator.ValidateRegister(ctx, req.Email, req.Password, req.Name); err != nil {
		return nil, err
	}

	//パスワードは必ずハッシュ化して保存
	pwHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, ErrInternal
	}

	user := &model.User{
		Email:        strings.TrimSpace(req.Email),
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: string(pwHash),
		Role:         model.RoleUser,
		TokenVersion: 0,
		IsActive:     true,
	}

	if err := u.users.Create(ctx, user); err != nil {
		//同時登録でvalidatorをすり抜けた場合
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrConflict
		}
		return nil, ErrInternal
	}

	return &AuthRegisterResponse{User: toUserDTO(user)}, nil
}

func (u *AuthUsecase) Login(ctx context.Context, req AuthLoginRequest) (*AuthLoginResponse, error) {
	if err := u.validator.ValidateLogin(ctx, req.Email, req.Password); err != nil {
		return nil, err
	}

	user, err := u.users.FindByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil || user == nil {
		return nil, ErrUnauthorized
	}

	//停止ユーザーはログイン不可
	if !user.IsActive {
		return nil, ErrForbidden
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrUnauthorized
	}

	//last_login更新
	now := time.Now()
	user.LastLoginAt = &now
	_ = u.users.Update(ctx, user)

	pair, err := u.tokens.Issue(ctx, user)
	if err != nil {
		return nil, ErrInternal
	}

	return &AuthLoginResponse{User: toUserDTO(user), TokenPair: pair}, nil
}

func (u *AuthUsecase) Refresh(ctx context.Context, refreshTokenPlain string) (*TokenPair, error) {
	if err := u.validator.ValidateRefresh(ctx, refreshTokenPlain); err != nil {
		return nil, err
	}

	pair, err := u.tokens.Refresh(ctx, strings.TrimSpace(refreshTokenPlain))
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

// refresh tokenがあればそれだけ、無ければユーザーの全トークンを失効
func (u *AuthUsecase) Logout(ctx context.Context, userID int64, refreshTokenPlain string) (*SuccessResponse, error) {
	if userID <= 0 {
		return nil, ErrUnauthorized
	}

	token := strings.TrimSpace(refreshTokenPlain)
	if token != "" {
		if _, err := u.tokens.Revoke(ctx, userID, token); err != nil {
			return nil, ErrInternal
		}
		return &SuccessResponse{Message: "logout success"}, nil
	}

	if err := u.tokens.RevokeAll(ctx, userID); err != nil {
		return nil, ErrInternal
	}
	return &SuccessResponse{Message: "logout success"}, nil
}

func (u *AuthUsecase) Me(ctx context.Context, userID int64) (*UserDTO, error) {
	if userID <= 0 {
		return nil, ErrUnauthorized
	}

	user, err := u.users.FindByID(ctx, userID)
	if err != nil || user == nil {
		return nil, ErrUnauthorized
	}
	if !user.IsActive {
		return nil, ErrForbidden
	}

	dto := toUserDTO(user)
	return &dto, nil
}

// token_versionを上げて発行済みのアクセストークンを無効化し、refreshも全削除
func (u *AuthUsecase) ForceLogout(ctx context.Context, actorUserID int64, targetUserID int64) (*ForceLogoutResponse, error) {
	if err := u.validator.ValidateForceLogout(ctx, targetUserID); err != nil {
		return nil, err
	}

	before, err := u.users.FindByID(ctx, targetUserID)
	if err != nil || before == nil {
		return nil, ErrNotFound
	}

	if err := u.users.IncrementTokenVersion(ctx, targetUserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrInternal
	}

	if err := u.tokens.RevokeAll(ctx, targetUserID); err != nil {
		return nil, ErrInternal
	}

	//更新後を取得してnew_token_versionを返す
	user, err := u.users.FindByID(ctx, targetUserID)
	if err != nil || user == nil {
		return nil, ErrInternal
	}

	b, _ := json.Marshal(map[string]int{"token_version": before.TokenVersion})
	a, _ := json.Marshal(map[string]int{"token_version": user.TokenVersion})
	if err := u.auditLogs.Create(ctx, model.AuditLog{
		ActorUserID:  actorUserID,
		Action:       model.AuditActionForceLogout,
		ResourceType: model.AuditResourceUser,
		ResourceID:   targetUserID,
		BeforeJSON:   string(b),
		AfterJSON:    string(a),
		CreatedAt:    time.Now(),
	}); err != nil {
		return nil, ErrInternal
	}

	return &ForceLogoutResponse{UserID: user.ID, NewTokenVersion: user.TokenVersion}, nil
}

// model.UserをAPI返却用DTOに変換。
func toUserDTO(u *model.User) UserDTO {
	return UserDTO{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Role:         string(u.Role),
		TokenVersion: u.TokenVersion,
		IsActive:     u.IsActive,
	}
}
