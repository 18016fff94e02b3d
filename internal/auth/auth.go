// Package auth guards the OTLP receivers with bearer or basic credentials.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var (
	errMissingHeader = errors.New("missing authorization header")
	errBadFormat     = errors.New("invalid authorization header format")
	errBadToken      = errors.New("invalid bearer token")
	errBadBasic      = errors.New("invalid basic auth credentials")
)

var authFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "trace_forwarder_receiver_auth_failures_total",
	Help: "Receiver requests rejected by authentication",
}, []string{"protocol"})

func init() {
	prometheus.MustRegister(authFailuresTotal)
}

// ServerConfig holds authentication configuration for receivers. A bearer
// token takes precedence over basic credentials.
type ServerConfig struct {
	Enabled           bool
	BearerToken       string
	BasicAuthUsername string
	BasicAuthPassword string
}

// check validates one Authorization header value against cfg.
func check(cfg ServerConfig, header string) error {
	if !cfg.Enabled {
		return nil
	}
	switch {
	case cfg.BearerToken != "":
		if header == "" {
			return errMissingHeader
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return errBadFormat
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.BearerToken)) != 1 {
			return errBadToken
		}
	case cfg.BasicAuthUsername != "" && cfg.BasicAuthPassword != "":
		if header == "" {
			return errMissingHeader
		}
		expected := "Basic " + basicAuthEncoded(cfg.BasicAuthUsername, cfg.BasicAuthPassword)
		if subtle.ConstantTimeCompare([]byte(header), []byte(expected)) != 1 {
			return errBadBasic
		}
	}
	return nil
}

// HTTPMiddleware rejects requests that fail authentication with 401.
func HTTPMiddleware(cfg ServerConfig, next http.Handler) http.Handler {
	if !cfg.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := check(cfg, r.Header.Get("Authorization")); err != nil {
			authFailuresTotal.WithLabelValues("http").Inc()
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GRPCServerInterceptor rejects unary calls that fail authentication with
// codes.Unauthenticated.
func GRPCServerInterceptor(cfg ServerConfig) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !cfg.Enabled {
			return handler(ctx, req)
		}
		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("authorization"); len(v) > 0 {
				header = v[0]
			}
		}
		if err := check(cfg, header); err != nil {
			authFailuresTotal.WithLabelValues("grpc").Inc()
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(ctx, req)
	}
}

func basicAuthEncoded(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
