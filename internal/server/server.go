package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"bookshop/internal/config"
	"bookshop/internal/repository"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
)

const (
	bodyLimit       = "1M"
	shutdownTimeout = 10 * time.Second
)

// echoの共通設定とルーティング
func New(cfg config.Config, logger *log.Logger, userRepo repository.UserRepository, h Handlers) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger = logger

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				logger.Errorf("%s %s status=%d latency=%s request_id=%s err=%v",
					v.Method, v.URIPath, v.Status, v.Latency, v.RequestID, v.Error)
				return nil
			}
			logger.Infof("%s %s status=%d latency=%s request_id=%s",
				v.Method, v.URIPath, v.Status, v.Latency, v.RequestID)
			return nil
		},
	}))
	e.Use(echomw.BodyLimit(bodyLimit))

	RegisterRoutes(e, cfg, userRepo, h)
	return e
}

// ctxがキャンセルされたらgraceful shutdown
func Start(ctx context.Context, e *echo.Echo, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
