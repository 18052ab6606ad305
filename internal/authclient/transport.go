package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
)

var ErrRefreshFailed = errors.New("token refresh failed")

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// APIクライアント用のRoundTripper。
// 401なら1回だけリフレッシュして再送する。同時に401になったリクエストは
// 同じリフレッシュを待って新しいアクセストークンで再送する
type Transport struct {
	Base       http.RoundTripper
	RefreshURL string
	// リフレッシュ失敗時（ログアウト扱い）
	OnRefreshFailed func(error)

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	group        singleflight.Group
}

func NewTransport(base http.RoundTripper, refreshURL, accessToken, refreshToken string) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		Base:         base,
		RefreshURL:   refreshURL,
		accessToken:  accessToken,
		refreshToken: refreshToken,
	}
}

func (t *Transport) Tokens() (access string, refresh string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.accessToken, t.refreshToken
}

func (t *Transport) SetTokens(access, refresh string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accessToken, t.refreshToken = access, refresh
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := ensureReplayableBody(req); err != nil {
		return nil, err
	}

	used, _ := t.Tokens()
	resp, err := t.send(req, used)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || req.URL.String() == t.RefreshURL {
		return resp, err
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	fresh, err := t.refresh(req.Context(), used)
	if err != nil {
		return nil, err
	}
	return t.send(req, fresh)
}

func (t *Transport) send(req *http.Request, accessToken string) (*http.Response, error) {
	r := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
	}
	if accessToken != "" {
		r.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return t.Base.RoundTrip(r)
}

// usedで401になった。既に他が更新済みならそれを使う
func (t *Transport) refresh(ctx context.Context, used string) (string, error) {
	if current, _ := t.Tokens(); current != used {
		return afterRefresh(current)
	}

	ch := t.group.DoChan("refresh", func() (interface{}, error) {
		current, refreshToken := t.Tokens()
		if current != used {
			return afterRefresh(current)
		}
		return t.doRefresh(context.WithoutCancel(ctx), refreshToken)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// 先行したリフレッシュが失敗していればトークンは空
func afterRefresh(current string) (string, error) {
	if current == "" {
		return "", fmt.Errorf("%w: logged out", ErrRefreshFailed)
	}
	return current, nil
}

func (t *Transport) doRefresh(ctx context.Context, refreshToken string) (string, error) {
	access, err := t.postRefresh(ctx, refreshToken)
	if err != nil {
		t.SetTokens("", "")
		if t.OnRefreshFailed != nil {
			t.OnRefreshFailed(err)
		}
		return "", err
	}
	return access, nil
}

func (t *Transport) postRefresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token", ErrRefreshFailed)
	}

	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.RefreshURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Base.RoundTrip(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrRefreshFailed, resp.StatusCode)
	}

	var out refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	if out.AccessToken == "" || out.RefreshToken == "" {
		return "", fmt.Errorf("%w: empty tokens", ErrRefreshFailed)
	}

	t.SetTokens(out.AccessToken, out.RefreshToken)
	return out.AccessToken, nil
}

// 再送できるようにbodyを読み込んでおく
func ensureReplayableBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	b, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	req.Body, _ = req.GetBody()
	return nil
}
