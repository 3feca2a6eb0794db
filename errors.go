package auth

import (
	"database/sql"
	stderrors "errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/jackc/pgx/v5/pgconn"
)

// Text codes raised by the services. The HTTP layer translates them to
// statuses; the body is always {"code": "<CODE>"}.
const (
	CodeUsernameExists           = "USERNAME_EXISTS"
	CodeEmailExists              = "EMAIL_EXISTS"
	CodeValidationError          = "VALIDATION_ERROR"
	CodeInvalidCredentials       = "INVALID_CREDENTIALS"
	CodeEmailNotVerified         = "EMAIL_NOT_VERIFIED"
	CodeUserNotFound             = "USER_NOT_FOUND"
	CodeCurrentPasswordIncorrect = "CURRENT_PASSWORD_INCORRECT"
	CodeInvalidRefreshToken      = "INVALID_REFRESH_TOKEN"
	CodeRefreshTokenRevoked      = "REFRESH_TOKEN_EXPIRED_OR_REVOKED"
	CodeInvalidToken             = "INVALID_TOKEN"
	CodeTokenExpired             = "TOKEN_EXPIRED"
	CodeTokenAlreadyUsed         = "TOKEN_ALREADY_USED"
	CodeResetTokenInvalid        = "RESET_TOKEN_INVALID"
	CodeResetTokenExpired        = "RESET_TOKEN_EXPIRED"
	CodeMailSendFailed           = "MAIL_SEND_FAILED"
	CodeUnauthorized             = "UNAUTHORIZED"
	CodeInternalError            = "INTERNAL_ERROR"
)

var ErrUsernameExists = goerrors.New("username is already taken", goerrors.CategoryConflict).
	WithTextCode(CodeUsernameExists)

var ErrEmailExists = goerrors.New("email is already registered", goerrors.CategoryConflict).
	WithTextCode(CodeEmailExists)

var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(CodeInvalidCredentials)

var ErrEmailNotVerified = goerrors.New("account email has not been verified", goerrors.CategoryAuth).
	WithTextCode(CodeEmailNotVerified)

var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithTextCode(CodeUserNotFound)

var ErrCurrentPasswordIncorrect = goerrors.New("current password does not match", goerrors.CategoryValidation).
	WithTextCode(CodeCurrentPasswordIncorrect)

var ErrInvalidRefreshToken = goerrors.New("unknown refresh token", goerrors.CategoryAuth).
	WithTextCode(CodeInvalidRefreshToken)

var ErrInvalidToken = goerrors.New("unknown verification token", goerrors.CategoryValidation).
	WithTextCode(CodeInvalidToken)

var ErrTokenExpired = goerrors.New("verification token has expired", goerrors.CategoryValidation).
	WithTextCode(CodeTokenExpired)

var ErrTokenAlreadyUsed = goerrors.New("verification token was already used", goerrors.CategoryValidation).
	WithTextCode(CodeTokenAlreadyUsed)

var ErrResetTokenInvalid = goerrors.New("unknown password reset token", goerrors.CategoryValidation).
	WithTextCode(CodeResetTokenInvalid)

var ErrResetTokenExpired = goerrors.New("password reset token expired or already used", goerrors.CategoryValidation).
	WithTextCode(CodeResetTokenExpired)

// statusForCode maps a service text code to its HTTP status. Unknown codes
// are fatal.
func statusForCode(code string) int {
	switch code {
	case CodeUsernameExists, CodeEmailExists, CodeValidationError, CodeCurrentPasswordIncorrect,
		CodeInvalidToken, CodeTokenExpired, CodeTokenAlreadyUsed,
		CodeResetTokenInvalid, CodeResetTokenExpired:
		return fiber.StatusBadRequest
	case CodeInvalidCredentials, CodeEmailNotVerified, CodeInvalidRefreshToken,
		CodeRefreshTokenRevoked, CodeUnauthorized:
		return fiber.StatusUnauthorized
	case CodeUserNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

// NewErrorHandler builds the fiber error handler applied to the whole auth
// surface. Rich errors carrying a text code map through statusForCode;
// anything else is a 500 with the detail logged, never leaked.
func NewErrorHandler(logger Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = defLogger{}
	}

	return func(c *fiber.Ctx, err error) error {
		var rich *goerrors.Error
		if goerrors.As(err, &rich) && rich.TextCode != "" {
			status := statusForCode(rich.TextCode)
			if status >= fiber.StatusInternalServerError {
				logger.Error("request failed", "code", rich.TextCode, "error", err)
			}
			return c.Status(status).JSON(fiber.Map{"code": rich.TextCode})
		}

		var fe *fiber.Error
		if stderrors.As(err, &fe) {
			code := CodeInternalError
			switch fe.Code {
			case fiber.StatusNotFound:
				code = "NOT_FOUND"
			case fiber.StatusMethodNotAllowed:
				code = "METHOD_NOT_ALLOWED"
			case fiber.StatusUnauthorized:
				code = CodeUnauthorized
			case fiber.StatusBadRequest:
				code = CodeValidationError
			}
			return c.Status(fe.Code).JSON(fiber.Map{"code": code})
		}

		logger.Error("unhandled error", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"code": CodeInternalError})
	}
}

// isRecordNotFound reports whether a store lookup came back empty.
func isRecordNotFound(err error) bool {
	return stderrors.Is(err, sql.ErrNoRows)
}

// userConflictError translates a unique-index violation on the users table
// into the matching conflict error, so a registration that loses a race after
// its exists checks still surfaces USERNAME_EXISTS or EMAIL_EXISTS. Returns
// nil for anything that is not a users unique violation.
func userConflictError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		if pgErr.Code != "23505" {
			return nil
		}
		if strings.Contains(pgErr.ConstraintName, "username") {
			return ErrUsernameExists
		}
		return ErrEmailExists
	}

	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") &&
		!strings.Contains(msg, "duplicate key value") {
		return nil
	}
	if strings.Contains(msg, "username") {
		return ErrUsernameExists
	}
	if strings.Contains(msg, "email") {
		return ErrEmailExists
	}
	return nil
}

func wrapStoreError(err error, msg string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}
