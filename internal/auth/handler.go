package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"slate-backend/internal/activity"
	"slate-backend/internal/engine"
	"slate-backend/internal/mail"
	"slate-backend/internal/schema"
	"slate-backend/internal/store"
)

// Handler serves the session endpoints.
type Handler struct {
	Store    *store.Store
	Recorder *activity.Recorder
	Notifier mail.Notifier
	Secret   string
}

func NewHandler(s *store.Store, recorder *activity.Recorder, notifier mail.Notifier, secret string) *Handler {
	return &Handler{Store: s, Recorder: recorder, Notifier: notifier, Secret: secret}
}

// RegisterRoutes mounts the unauthenticated session surface.
func (h *Handler) RegisterRoutes(router fiber.Router) {
	router.Post("/auth/login", h.Login)
	router.Post("/auth/forgot-password", h.ForgotPassword)
	router.Post("/auth/hash", h.Hash)
}

// RegisterProtectedRoutes mounts endpoints that need a valid token.
func (h *Handler) RegisterProtectedRoutes(router fiber.Router) {
	router.Get("/auth/me", h.Me)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates credentials and issues a token. Inactive and
// deleted accounts are rejected with the same error as bad credentials.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return engine.ErrBadRequest("invalid login payload")
	}
	if req.Email == "" || req.Password == "" {
		return engine.ErrValidation("email and password are required")
	}

	d := h.Store.Dialect
	row, err := store.QueryRow(c.Context(), h.Store.DB,
		fmt.Sprintf("SELECT * FROM _users WHERE email = %s", d.Placeholder(1)),
		req.Email)
	if err == store.ErrNotFound {
		return engine.ErrUnauthorized("invalid credentials")
	}
	if err != nil {
		return fmt.Errorf("login lookup: %w", err)
	}

	if store.ToInt64(row[schema.StatusColumn]) != schema.StatusActive {
		return engine.ErrUnauthorized("invalid credentials")
	}
	if !CheckPassword(store.ToString(row["password"]), req.Password) {
		return engine.ErrUnauthorized("invalid credentials")
	}

	user := &schema.UserContext{
		ID:      store.ToInt64(row["id"]),
		GroupID: store.ToInt64(row["group_id"]),
		Email:   store.ToString(row["email"]),
	}

	token, err := GenerateToken(h.Secret, user)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	_, err = store.Exec(c.Context(), h.Store.DB,
		fmt.Sprintf("UPDATE _users SET last_login = %s WHERE id = %s",
			d.NowExpr(), d.Placeholder(1)),
		user.ID)
	if err != nil {
		return fmt.Errorf("bump last_login: %w", err)
	}
	if err := h.Recorder.RecordLogin(c.Context(), user.ID, c.IP()); err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"token": token,
		"user": fiber.Map{
			"id":         user.ID,
			"email":      user.Email,
			"first_name": store.ToString(row["first_name"]),
			"last_name":  store.ToString(row["last_name"]),
			"group_id":   user.GroupID,
			"avatar":     store.ToString(row["avatar"]),
		},
	})
}

// Me returns the authenticated user's own record, without the password
// hash.
func (h *Handler) Me(c *fiber.Ctx) error {
	user, err := engine.RequireUser(c)
	if err != nil {
		return err
	}

	d := h.Store.Dialect
	row, err := store.QueryRow(c.Context(), h.Store.DB,
		fmt.Sprintf("SELECT * FROM _users WHERE id = %s", d.Placeholder(1)), user.ID)
	if err != nil {
		return engine.MapStoreError(err, "_users")
	}
	delete(row, "password")
	return c.JSON(row)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword resets the account to a generated password and mails it.
// The response does not reveal whether the address exists.
func (h *Handler) ForgotPassword(c *fiber.Ctx) error {
	var req forgotPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return engine.ErrBadRequest("invalid payload")
	}
	if req.Email == "" {
		return engine.ErrValidation("email is required")
	}

	d := h.Store.Dialect
	row, err := store.QueryRow(c.Context(), h.Store.DB,
		fmt.Sprintf("SELECT id, %s FROM _users WHERE email = %s",
			schema.StatusColumn, d.Placeholder(1)),
		req.Email)
	if err == store.ErrNotFound {
		return c.JSON(fiber.Map{"success": true})
	}
	if err != nil {
		return fmt.Errorf("forgot-password lookup: %w", err)
	}
	if store.ToInt64(row[schema.StatusColumn]) != schema.StatusActive {
		return c.JSON(fiber.Map{"success": true})
	}

	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("generate password: %w", err)
	}
	newPassword := hex.EncodeToString(raw)

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	_, err = store.Exec(c.Context(), h.Store.DB,
		fmt.Sprintf("UPDATE _users SET password = %s WHERE id = %s",
			d.Placeholder(1), d.Placeholder(2)),
		hash, store.ToInt64(row["id"]))
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}

	body := "Your password has been reset.\n\nNew password: " + newPassword + "\n\nPlease log in and change it."
	if err := h.Notifier.Send(req.Email, "Password reset", body); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

type hashRequest struct {
	Password string `json:"password"`
}

// Hash returns the bcrypt hash for a plaintext, for seeding accounts out
// of band.
func (h *Handler) Hash(c *fiber.Ctx) error {
	var req hashRequest
	if err := c.BodyParser(&req); err != nil {
		return engine.ErrBadRequest("invalid payload")
	}
	if req.Password == "" {
		return engine.ErrValidation("password is required")
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"hash": hash})
}
