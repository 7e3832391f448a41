package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.ngrok.com/ngrok"
	"golang.ngrok.com/ngrok/config"
)

// ListenNgrok opens a public HTTPS endpoint that tunnels to this process.
// domain may be empty to let ngrok assign one.
func ListenNgrok(ctx context.Context, authToken, domain string) (net.Listener, string, error) {
	var opts []config.HTTPEndpointOption
	if domain != "" {
		opts = append(opts, config.WithDomain(domain))
	}
	tun, err := ngrok.Listen(ctx, config.HTTPEndpoint(opts...), ngrok.WithAuthtoken(authToken))
	if err != nil {
		return nil, "", fmt.Errorf("ngrok listen: %w", err)
	}
	return tun, tun.URL(), nil
}

// Serve runs srv on ln until it is shut down.
func Serve(srv *http.Server, ln net.Listener, logger *zap.Logger) {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server error", zap.String("addr", ln.Addr().String()), zap.Error(err))
	}
}

func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
