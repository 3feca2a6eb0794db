package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SeedAdmin creates an enabled administrative user when none exists. When no
// password is configured a random one is generated and logged once so the
// operator can rotate it.
func SeedAdmin(ctx context.Context, repo RepositoryManager, cfg SeedAdminConfig, logger Logger) error {
	if logger == nil {
		logger = defLogger{}
	}

	if cfg.Username == "" || cfg.Email == "" {
		logger.Debug("seed admin not configured, skipping")
		return nil
	}

	return repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := repo.Users().ExistsByUsernameTx(ctx, tx, cfg.Username)
		if err != nil {
			return wrapStoreError(err, "failed to check seed admin")
		}
		if exists {
			return nil
		}

		password := cfg.Password
		generated := false
		if password == "" {
			password = uuid.NewString()
			generated = true
		}

		hash, err := HashPassword(password)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash seed admin password")
		}

		user := &User{
			Username:     cfg.Username,
			Email:        cfg.Email,
			PasswordHash: hash,
			Enabled:      true,
			CreatedAt:    time.Now(),
		}
		if err := repo.Users().SaveTx(ctx, tx, user); err != nil {
			return wrapStoreError(err, "failed to create seed admin")
		}

		if generated {
			logger.Warn("seed admin created with generated password, rotate it",
				"username", cfg.Username, "password", password)
		} else {
			logger.Info("seed admin created", "username", cfg.Username)
		}
		return nil
	})
}
