/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"canvasedit/internal/domain"
	applog "canvasedit/internal/log"
	"canvasedit/internal/storage"
	"canvasedit/internal/version"
)

// Repository is what the HTTP API serves from.
type Repository interface {
	Ping(ctx context.Context) error
	LoadNode(ctx context.Context, id string) (domain.NodeState, error)
	SaveNode(ctx context.Context, st domain.NodeState) error
	Artifact(ctx context.Context, url string) (storage.Artifact, error)
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	DSN    string
	Addr   string // http bind address, e.g., ":8080"
	Secret string
}

// LoadServerConfig reads the server configuration from the environment.
func LoadServerConfig() ServerConfig {
	cfg := ServerConfig{
		DSN:    os.Getenv("DATABASE_URL"),
		Addr:   ":8080",
		Secret: os.Getenv("CVE_AUTH_SECRET"),
	}
	if v := os.Getenv("CVE_PG_DSN"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Addr = ":" + v
	}
	if v := os.Getenv("ADDR"); v != "" {
		cfg.Addr = v
	}
	return cfg
}

// Start opens the database, applies migrations and serves the API until ctx is cancelled.
func Start(ctx context.Context, cfg ServerConfig) error {
	l := applog.WithComponent("backend")
	pg, err := OpenPG(ctx, cfg.DSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := pg.Close(); err != nil {
			l.Warn("db close", slog.Any("err", err))
		}
	}()
	secret := cfg.Secret
	if secret == "" {
		secret = "dev-secret-change-me"
		l.Warn("CVE_AUTH_SECRET not set; using insecure dev secret")
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(pg, secret),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	l.Info("server listening", slog.String("addr", cfg.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// NewHandler builds the HTTP API.
//
//	GET  /healthz, /readyz, /version
//	POST /api/auth/token             → { token, expires_at }
//	GET  /api/nodes/{id}             (auth) node state JSON
//	PUT  /api/nodes/{id}             (auth) replace node state
//	GET  /api/artifacts/{id}         artifact blob; ids are random UUIDs
func NewHandler(repo Repository, secret string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := repo.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(version.String()))
	})

	mux.HandleFunc("POST /api/auth/token", func(w http.ResponseWriter, r *http.Request) {
		// Optional JSON body: { "subject": "name", "ttl_seconds": 3600 }
		var req struct {
			Subject    string `json:"subject"`
			TTLSeconds int64  `json:"ttl_seconds"`
		}
		b, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		_ = r.Body.Close()
		_ = json.Unmarshal(b, &req)
		if req.Subject == "" {
			req.Subject = "dev"
		}
		if req.TTLSeconds <= 0 || req.TTLSeconds > 24*3600 {
			req.TTLSeconds = 3600
		}
		exp := time.Now().Add(time.Duration(req.TTLSeconds) * time.Second)
		tok, err := signToken(secret, req.Subject, exp)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":      tok,
			"expires_at": exp.UTC().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("GET /api/nodes/{id}", withAuth(secret, func(w http.ResponseWriter, r *http.Request, sub string) {
		st, err := repo.LoadNode(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}))

	mux.HandleFunc("PUT /api/nodes/{id}", withAuth(secret, func(w http.ResponseWriter, r *http.Request, sub string) {
		b, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
		_ = r.Body.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		st, err := storage.UnmarshalNode(b)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		if st.NodeID != r.PathValue("id") {
			writeError(w, http.StatusBadRequest, fmt.Errorf("node id mismatch: %q", st.NodeID))
			return
		}
		if err := repo.SaveNode(r.Context(), st); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		applog.WithNode(applog.WithComponent("backend"), st.NodeID).Info("node saved", slog.String("sub", sub))
		w.WriteHeader(http.StatusNoContent)
	}))

	mux.HandleFunc("GET /api/artifacts/{id}", func(w http.ResponseWriter, r *http.Request) {
		a, err := repo.Artifact(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.Header().Set("Content-Type", a.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
		// artifacts are immutable; a new export gets a new id
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(a.Data)
	})
	return mux
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidState):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// --- Helpers: auth and JSON ---

type tokenClaims struct {
	Sub string `json:"sub"`
	Exp int64  `json:"exp"` // unix seconds
}

func signToken(secret, subject string, exp time.Time) (string, error) {
	claims := tokenClaims{Sub: subject, Exp: exp.Unix()}
	b, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write(b)
	payload := base64.RawURLEncoding.EncodeToString(b)
	signature := base64.RawURLEncoding.EncodeToString(h.Sum(nil))
	return payload + "." + signature, nil
}

func verifyToken(secret, token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid token format")
	}
	payloadB, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("invalid token payload")
	}
	sigB, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("invalid token signature")
	}
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write(payloadB)
	if !hmac.Equal(h.Sum(nil), sigB) {
		return "", fmt.Errorf("bad signature")
	}
	var claims tokenClaims
	if err := json.Unmarshal(payloadB, &claims); err != nil {
		return "", fmt.Errorf("bad claims")
	}
	if claims.Exp < time.Now().Unix() {
		return "", fmt.Errorf("token expired")
	}
	if claims.Sub == "" {
		claims.Sub = "dev"
	}
	return claims.Sub, nil
}

func withAuth(secret string, next func(w http.ResponseWriter, r *http.Request, subject string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(strings.ToLower(auth), strings.ToLower(prefix)) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("missing bearer token"))
			return
		}
		sub, err := verifyToken(secret, strings.TrimSpace(auth[len(prefix):]))
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("invalid token"))
			return
		}
		next(w, r, sub)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
