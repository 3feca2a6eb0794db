package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// UserService owns the user identity lifecycle: registration, credential
// checks and password mutation. It never touches refresh sessions; revoking
// them after a password change is the controller's job.
type UserService struct {
	repo   RepositoryManager
	logger Logger
	now    func() time.Time
}

func NewUserService(repo RepositoryManager) *UserService {
	return &UserService{
		repo:   repo,
		logger: defLogger{},
		now:    time.Now,
	}
}

func (s *UserService) WithLogger(logger Logger) *UserService {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *UserService) WithClock(now func() time.Time) *UserService {
	if now != nil {
		s.now = now
	}
	return s
}

// Register creates a disabled user with a freshly hashed password. Uniqueness
// is checked in-transaction; the unique indexes settle races, so a losing
// writer surfaces the same conflict codes.
func (s *UserService) Register(ctx context.Context, username, email, rawPassword string) (*User, error) {
	user := &User{}

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		taken, err := s.repo.Users().ExistsByUsernameTx(ctx, tx, username)
		if err != nil {
			return wrapStoreError(err, "failed to check username availability")
		}
		if taken {
			return ErrUsernameExists
		}

		taken, err = s.repo.Users().ExistsByEmailTx(ctx, tx, email)
		if err != nil {
			return wrapStoreError(err, "failed to check email availability")
		}
		if taken {
			return ErrEmailExists
		}

		hash, err := HashPassword(rawPassword)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		user.Username = username
		user.Email = email
		user.PasswordHash = hash
		user.Enabled = false
		user.CreatedAt = s.now()

		if err := s.repo.Users().SaveTx(ctx, tx, user); err != nil {
			if conflict := userConflictError(err); conflict != nil {
				return conflict
			}
			return wrapStoreError(err, "could not create user")
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// Authenticate resolves the identifier as username first, then email. A miss
// still burns a bcrypt verify so the branch timing does not leak whether the
// account exists. The enabled check runs after the password check on purpose:
// EMAIL_NOT_VERIFIED must only surface for valid credentials.
func (s *UserService) Authenticate(ctx context.Context, usernameOrEmail, rawPassword string) (*User, error) {
	user, err := s.repo.Users().FindByUsername(ctx, usernameOrEmail)
	if err != nil {
		if !isRecordNotFound(err) {
			return nil, wrapStoreError(err, "failed to look up user by username")
		}
		user, err = s.repo.Users().FindByEmail(ctx, usernameOrEmail)
		if err != nil {
			if !isRecordNotFound(err) {
				return nil, wrapStoreError(err, "failed to look up user by email")
			}
			DummyCompare(rawPassword)
			return nil, ErrInvalidCredentials
		}
	}

	if err := ComparePasswordAndHash(rawPassword, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	if !user.Enabled {
		return nil, ErrEmailNotVerified
	}

	return user, nil
}

// ChangePassword verifies the current password before storing the new hash.
func (s *UserService) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	return s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := s.repo.Users().FindByIDTx(ctx, tx, userID)
		if err != nil {
			if isRecordNotFound(err) {
				return ErrUserNotFound
			}
			return wrapStoreError(err, "failed to load user")
		}

		if err := ComparePasswordAndHash(current, user.PasswordHash); err != nil {
			return ErrCurrentPasswordIncorrect
		}

		hash, err := HashPassword(next)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		return s.repo.Users().UpdatePasswordTx(ctx, tx, userID, hash)
	})
}

// ForceChangePassword is the administrative/reset path: no current-password
// check.
func (s *UserService) ForceChangePassword(ctx context.Context, userID int64, rawPassword string) error {
	return s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return s.ForceChangePasswordTx(ctx, tx, userID, rawPassword)
	})
}

// ForceChangePasswordTx is the transaction-scoped form used by the password
// reset flow, which marks the token used in the same transaction.
func (s *UserService) ForceChangePasswordTx(ctx context.Context, tx bun.IDB, userID int64, rawPassword string) error {
	if _, err := s.repo.Users().FindByIDTx(ctx, tx, userID); err != nil {
		if isRecordNotFound(err) {
			return ErrUserNotFound
		}
		return wrapStoreError(err, "failed to load user")
	}

	hash, err := HashPassword(rawPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	return s.repo.Users().UpdatePasswordTx(ctx, tx, userID, hash)
}
