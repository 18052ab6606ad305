package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"bookshop/internal/config"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

const (
	CtxUserIDKey       = "user_id"       // int64
	CtxUserRoleKey     = "user_role"     // string
	CtxTokenVersionKey = "token_version" // int
)

var ErrInvalidAccessToken = errors.New("invalid access token")

// アクセストークンから取り出した値
type AccessClaims struct {
	UserID       int64
	Role         string
	TokenVersion int
}

// bearerAuth用のJWT検証ミドルウェア。
func AuthJWT(cfg config.Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			//Authorizationヘッダを取得
			authz := c.Request().Header.Get("Authorization")
			if authz == "" {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			//Bearer形式か確認してtokenを抜く
			parts := strings.SplitN(authz, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			claims, err := ParseAccessToken(cfg.JWTSecret, parts[1])
			if err != nil {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			//contextへ保存
			c.Set(CtxUserIDKey, claims.UserID)
			c.Set(CtxUserRoleKey, claims.Role)
			c.Set(CtxTokenVersionKey, claims.TokenVersion)

			return next(c)
		}
	}
}

// JWTをパースして検証する（/cable の接続時にも使う）
func ParseAccessToken(secret string, rawToken string) (AccessClaims, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return AccessClaims{}, ErrInvalidAccessToken
	}

	token, err := jwt.Parse(rawToken, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || token == nil || !token.Valid {
		return AccessClaims{}, ErrInvalidAccessToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return AccessClaims{}, ErrInvalidAccessToken
	}

	userID, err := parseUserID(claims["sub"])
	if err != nil || userID <= 0 {
		return AccessClaims{}, ErrInvalidAccessToken
	}

	//USER/ADMIN
	role, err := parseString(claims["role"])
	if err != nil || role == "" {
		return AccessClaims{}, ErrInvalidAccessToken
	}

	tv, err := parseInt(claims["tv"])
	if err != nil || tv < 0 {
		return AccessClaims{}, ErrInvalidAccessToken
	}

	return AccessClaims{UserID: userID, Role: role, TokenVersion: tv}, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func errorJSON(msg string) errorResponse {
	return errorResponse{Error: msg}
}

// user_idをint64に変換する
func parseUserID(v interface{}) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, errors.New("invalid sub")
	}
}

func parseString(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", errors.New("invalid string")
	}
	return s, nil
}

func parseInt(v interface{}) (int, error) {
	switch t := v.(type) {
	case float64:
		return int(t), nil
	case int:
		return t, nil
	case string:
		i64, err := strconv.ParseInt(t, 10, 32)
		if err != nil {
			return 0, err
		}
		return int(i64), nil
	default:
		return 0, errors.New("invalid int")
	}
}
