package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"model-market-go/internal/models"
	"model-market-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func normalizeWallet(walletAddress string) string {
	return strings.ToLower(strings.TrimSpace(walletAddress))
}

func (s *Service) GetUsers(ctx context.Context) ([]models.User, error) {
	zap.L().Debug("Querying users")

	rows, err := s.db.QueryContext(ctx, queryGetUsers)
	if err != nil {
		zap.L().Error("Failed to query users", zap.Error(err))
		return nil, fmt.Errorf("unable to query users: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.Id, &user.WalletAddress, &user.CreatedAt); err != nil {
			zap.L().Error("Failed to scan user row", zap.Error(err))
			return nil, fmt.Errorf("unable to scan user row: %w", err)
		}
		users = append(users, user)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during user row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	zap.L().Debug("Retrieved users", zap.Int("count", len(users)))
	return users, nil
}

func (s *Service) GetUserById(ctx context.Context, userId string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx, queryGetUserById, userId).Scan(&user.Id, &user.WalletAddress, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, userId)
		}
		zap.L().Error("Failed to query user by ID", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("unable to query user by ID: %w", err)
	}
	return &user, nil
}

func (s *Service) GetUserByWallet(ctx context.Context, walletAddress string) (*models.User, error) {
	wallet := normalizeWallet(walletAddress)

	var user models.User
	err := s.db.QueryRowContext(ctx, queryGetUserByWallet, wallet).Scan(&user.Id, &user.WalletAddress, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: wallet %s", store.ErrNotFound, wallet)
		}
		zap.L().Error("Failed to query user by wallet", zap.String("wallet_address", wallet), zap.Error(err))
		return nil, fmt.Errorf("unable to query user by wallet: %w", err)
	}
	return &user, nil
}

// GetOrCreateUser returns the user owning the wallet, creating it and its seeded balance on first sign-in
func (s *Service) GetOrCreateUser(ctx context.Context, walletAddress string) (*models.User, error) {
	wallet := normalizeWallet(walletAddress)
	if wallet == "" {
		return nil, fmt.Errorf("wallet_address is required")
	}

	result, err := s.db.ExecContext(ctx, queryInsertUser, uuid.New().String(), wallet, s.now())
	if err != nil {
		zap.L().Error("Failed to insert user", zap.String("wallet_address", wallet), zap.Error(err))
		return nil, fmt.Errorf("unable to insert user: %w", err)
	}

	user, err := s.GetUserByWallet(ctx, wallet)
	if err != nil {
		return nil, err
	}

	if n, _ := result.RowsAffected(); n > 0 {
		if err := s.ledger.EnsureBalance(ctx, user.Id); err != nil {
			return nil, err
		}
		zap.L().Info("User created", zap.String("user_id", user.Id), zap.String("wallet_address", wallet))
	}

	return user, nil
}
