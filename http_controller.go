package auth

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

// AuthController wires the /auth HTTP surface to the services. Handlers
// return rich errors; the app-level error handler turns them into
// {"code": ...} bodies.
type AuthController struct {
	Logger       Logger
	Users        *UserService
	Verification *EmailVerificationService
	Resets       *PasswordResetService
	Refresh      *RefreshService
	Tokens       *TokenService
	Repo         RepositoryManager
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func NewAuthController(
	repo RepositoryManager,
	users *UserService,
	verification *EmailVerificationService,
	resets *PasswordResetService,
	refresh *RefreshService,
	tokens *TokenService,
	opts ...AuthControllerOption,
) *AuthController {
	c := &AuthController{
		Logger:       defLogger{},
		Repo:         repo,
		Users:        users,
		Verification: verification,
		Resets:       resets,
		Refresh:      refresh,
		Tokens:       tokens,
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	return c
}

// RegisterAuthRoutes mounts all /auth endpoints on the given router.
func RegisterAuthRoutes(app fiber.Router, controller *AuthController) {
	g := app.Group("/auth")

	g.Post("/register", controller.Register)
	g.Post("/login", controller.Login)
	g.Post("/refresh", controller.RefreshAccess)
	g.Post("/logout", controller.Logout)
	g.Post("/logout-all", controller.LogoutAll)
	g.Post("/forgot-password", controller.ForgotPassword)
	g.Post("/reset-password", controller.ResetPassword)
	g.Put("/users/me/password", RequireAccessToken(controller.Tokens), controller.ChangeOwnPassword)
	g.Post("/verify-email/request", controller.RequestVerification)
	g.Get("/verify-email", controller.VerifyEmail)
}

func validationError(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid request payload").
		WithTextCode(CodeValidationError)
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return validationError(err)
	}
	return nil
}

// RegisterRequest payload
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(3, 50)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 72)),
	)
}

func (a *AuthController) Register(c *fiber.Ctx) error {
	payload := new(RegisterRequest)
	if err := parseBody(c, payload); err != nil {
		return err
	}
	if err := payload.Validate(); err != nil {
		return validationError(err)
	}

	user, err := a.Users.Register(c.Context(), payload.Username, payload.Email, payload.Password)
	if err != nil {
		return err
	}

	// The user row stays even if delivery fails; the verification email can
	// be re-requested.
	if err := a.Verification.Send(c.Context(), user); err != nil {
		return err
	}

	return c.JSON(user)
}

// LoginRequest payload
type LoginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UsernameOrEmail, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

type tokenResponse struct {
	TokenType    string `json:"tokenType"`
	AccessToken  string `json:"accessToken"`
	ExpiresIn    int    `json:"expiresIn"`
	RefreshToken string `json:"refreshToken"`
}

func (a *AuthController) Login(c *fiber.Ctx) error {
	payload := new(LoginRequest)
	if err := parseBody(c, payload); err != nil {
		return err
	}
	if err := payload.Validate(); err != nil {
		return validationError(err)
	}

	user, err := a.Users.Authenticate(c.Context(), payload.UsernameOrEmail, payload.Password)
	if err != nil {
		return err
	}

	access, err := a.Tokens.Generate(user.Username, user.ID)
	if err != nil {
		return err
	}

	refresh, err := a.Refresh.Create(c.Context(), user)
	if err != nil {
		return err
	}

	return c.JSON(tokenResponse{
		TokenType:    "Bearer",
		AccessToken:  access,
		ExpiresIn:    a.Tokens.ExpirationSeconds(),
		RefreshToken: refresh,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (r refreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

func (a *AuthController) RefreshAccess(c *fiber.Ctx) error {
	payload := new(refreshRequest)
	if err := parseBody(c, payload); err != nil {
		return err
	}
	if err := payload.Validate(); err != nil {
		return validationError(err)
	}

	ref, err := a.Refresh.ValidateAndGetUserRef(c.Context(), payload.RefreshToken)
	if err != nil {
		return err
	}

	access, err := a.Tokens.Generate(ref.Username, ref.ID)
	if err != nil {
		return err
	}

	// No rotation: the presented refresh token is echoed back unchanged.
	return c.JSON(tokenResponse{
		TokenType:    "Bearer",
		AccessToken:  access,
		ExpiresIn:    a.Tokens.ExpirationSeconds(),
		RefreshToken: payload.RefreshToken,
	})
}

func (a *AuthController) Logout(c *fiber.Ctx) error {
	payload := new(refreshRequest)
	if err := parseBody(c, payload); err != nil {
		return err
	}

	if err := a.Refresh.Revoke(c.Context(), payload.RefreshToken); err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (a *AuthController) LogoutAll(c *fiber.Ctx) error {
	payload := new(refreshRequest)
	if err := parseBody(c, payload); err != nil {
		return err
	}
	if err := payload.Validate(); err != nil {
		return validationError(err)
	}

	ref, err := a.Refresh.ValidateAndGetUserRef(c.Context(), payload.RefreshToken)
	if err != nil {
		return err
	}

	if err := a.Refresh.RevokeAllByUserID(c.Context(), ref.ID); err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}

type emailRequest struct {
	Email string `json:"email"`
}

func (a *AuthController) ForgotPassword(c *fiber.Ctx) error {
	payload := new(emailRequest)
	if err := parseBody(c, payload); err != nil {
		return err
	}

	// Always 204: the response must not reveal whether the email exists.
	if err := a.Resets.RequestReset(c.Context(), payload.Email); err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (r resetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 72)),
	)
}

func (a *AuthController) ResetPassword(c *fiber.Ctx) error {
	payload := new(resetPasswordRequest)
	if err := parseBody(c, payload); err != nil {
		return err
	}
	if err := payload.Validate(); err != nil {
		return validationError(err)
	}

	if err := a.Resets.Reset(c.Context(), payload.Token, payload.NewPassword); err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (r changePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 72)),
	)
}

func (a *AuthController) ChangeOwnPassword(c *fiber.Ctx) error {
	claims, ok := ClaimsFromContext(c)
	if !ok || claims.UID == 0 {
		return fiber.ErrUnauthorized
	}

	payload := new(changePasswordRequest)
	if err := parseBody(c, payload); err != nil {
		return err
	}
	if err := payload.Validate(); err != nil {
		return validationError(err)
	}

	if err := a.Users.ChangePassword(c.Context(), claims.UID, payload.CurrentPassword, payload.NewPassword); err != nil {
		return err
	}

	// A password change ends every existing session.
	if err := a.Refresh.RevokeAllByUserID(c.Context(), claims.UID); err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (a *AuthController) RequestVerification(c *fiber.Ctx) error {
	payload := new(emailRequest)
	if err := parseBody(c, payload); err != nil {
		return err
	}

	// Always 204, same as forgot-password.
	user, err := a.Repo.Users().FindByEmailIgnoreCase(c.Context(), payload.Email)
	if err != nil {
		if isRecordNotFound(err) {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return wrapStoreError(err, "failed to look up user for verification")
	}

	if !user.Enabled {
		if err := a.Verification.Send(c.Context(), user); err != nil {
			return err
		}
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (a *AuthController) VerifyEmail(c *fiber.Ctx) error {
	redirect, err := a.Verification.ConfirmAndGetRedirectURL(c.Context(), c.Query("token"))
	if err != nil {
		return err
	}

	return c.Redirect(redirect, fiber.StatusFound)
}
