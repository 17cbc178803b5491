// Copyright 2025 The darve-server Authors
// This file is part of darve-server.
//
// darve-server is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// darve-server is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with darve-server. If not, see <http://www.gnu.org/licenses/>.

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/crypto/bcrypt"

	"github.com/darve-social/darve-server/store"
)

type registerReq struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResp struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Email == "" || len(req.Password) < 8 {
		writeError(w, r, ErrBadRequest)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, r, err)
		return
	}
	u := &store.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(req.Email),
		Username:     req.Username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	err = s.db.Update(r.Context(), func(tx store.Tx) error {
		if _, err := tx.Users().GetByEmail(u.Email); err == nil {
			return store.ErrConflict
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return tx.Users().Put(u)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	token, err := s.issueToken(u.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.log.WithField("user", u.ID).Info("user registered")
	writeJSON(w, http.StatusCreated, authResp{Token: token, UserID: u.ID})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	var u *store.User
	err := s.db.View(r.Context(), func(tx store.Tx) error {
		var err error
		u, err = tx.Users().GetByEmail(strings.ToLower(req.Email))
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, ErrUnauthorized)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(req.Password)) != nil {
		writeError(w, r, ErrUnauthorized)
		return
	}
	token, err := s.issueToken(u.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResp{Token: token, UserID: u.ID})
}

func (s *Server) issueToken(userID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.JWTSecret)
}

// authenticate resolves the bearer token to a user ID. A token may ride in
// the Authorization header or, for browser event streams, in the `token`
// query parameter.
func (s *Server) authenticate(r *http.Request) (string, error) {
	raw := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		raw = strings.TrimPrefix(h, "Bearer ")
	} else if q := r.URL.Query().Get("token"); q != "" {
		raw = q
	}
	if raw == "" {
		return "", ErrUnauthorized
	}
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthorized
		}
		return s.cfg.JWTSecret, nil
	})
	if err != nil || !tok.Valid || claims.Subject == "" {
		return "", ErrUnauthorized
	}
	return claims.Subject, nil
}

// auth guards a plain handler with bearer authentication.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := s.authenticate(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKeyUser, uid)))
	}
}

// authP is auth for handlers that need route parameters.
func (s *Server) authP(next func(http.ResponseWriter, *http.Request, httprouter.Params)) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		uid, err := s.authenticate(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKeyUser, uid)), ps)
	}
}
