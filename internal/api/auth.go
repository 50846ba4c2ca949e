package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"model-market-go/internal/auth"
	"model-market-go/internal/models"
	"model-market-go/internal/store"

	"go.uber.org/zap"
)

const bearerPrefix = "Bearer "

func (s *LedgerService) handleAuthMessage(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet_address")
	msg, err := s.verifier.NewMessage(wallet, "")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: msg.String()})
}

func (s *LedgerService) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	var req models.SignedMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := s.verifier.Verify(req.Message, req.Signature)
	if err != nil {
		zap.L().Info("Sign-in rejected", zap.Error(err))
		writeServiceError(w, r, err)
		return
	}

	user, err := s.db.GetOrCreateUser(r.Context(), msg.Address)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	token, expireAt, err := s.tokens.Issue(user.WalletAddress)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	zap.L().Info("User signed in",
		zap.String("user_id", user.Id),
		zap.String("wallet", user.WalletAddress),
		zap.Time("expires_at", expireAt))

	writeJSON(w, http.StatusOK, models.TokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *LedgerService) handleGetMe(w http.ResponseWriter, r *http.Request) {
	user := models.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, models.UserRecord{
		Id:            user.Id,
		WalletAddress: user.WalletAddress,
		CreatedAt:     user.CreatedAt,
	})
}

// authMiddleware resolves the bearer token to a known user and stores it on the request context
func (s *LedgerService) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		wallet, err := s.tokens.Parse(strings.TrimPrefix(header, bearerPrefix))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		user, err := s.db.GetUserByWallet(r.Context(), wallet)
		if errors.Is(err, store.ErrNotFound) {
			writeServiceError(w, r, fmt.Errorf("%w: unknown wallet", auth.ErrUnauthorized))
			return
		}
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(models.WithUser(r.Context(), user)))
	})
}
