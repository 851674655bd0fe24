package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"immobilier/server/internal/apperr"
	"immobilier/server/internal/auth"
	"immobilier/server/internal/models"
)

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"omitempty,email,max=100"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type createUserRequest struct {
	registerRequest
	IsAdmin bool `json:"is_admin"`
}

// An empty email clears it.
type selfUpdateRequest struct {
	Email *string `json:"email"`
}

type updateUserRequest struct {
	Email    *string `json:"email"`
	IsActive *bool   `json:"is_active"`
	IsAdmin  *bool   `json:"is_admin"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

type userListQuery struct {
	Skip            int  `form:"skip" binding:"omitempty,gte=0"`
	Limit           int  `form:"limit" binding:"omitempty,gte=1,lte=1000"`
	IncludeInactive bool `form:"include_inactive"`
}

type userURI struct {
	ID int64 `uri:"id" binding:"required,gt=0"`
}

var emailValidator = validator.New()

// normalizeEmail trims the address and checks its format. An empty result
// means the email is cleared.
func normalizeEmail(email *string) (*string, error) {
	if email == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*email)
	if trimmed != "" {
		if err := emailValidator.Var(trimmed, "email,max=100"); err != nil {
			return nil, err
		}
	}
	return &trimmed, nil
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	user, ok := h.createAccount(c, req, false)
	if !ok {
		return
	}
	h.logger.WithField("username", user.Username).Info("User registered")
	c.JSON(http.StatusCreated, gin.H{
		"message":  "User created",
		"username": user.Username,
		"email":    user.Email,
	})
}

// createAccount validates and stores a new account, writing the error
// response itself when it fails.
func (h *Handler) createAccount(c *gin.Context, req registerRequest, admin bool) (*models.User, bool) {
	username, err := auth.NormalizeUsername(req.Username)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	hashed, err := h.hasher.Hash(req.Password)
	if errors.Is(err, auth.ErrInvalidPassword) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	if err != nil {
		h.respondError(c, "Failed to create user", err)
		return nil, false
	}

	user := &models.User{
		Username:       username,
		HashedPassword: hashed,
		IsActive:       true,
		IsAdmin:        admin,
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		user.Email = &email
	}

	if err := h.db.CreateUser(c.Request.Context(), user); err != nil {
		var verr *apperr.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusConflict, gin.H{"error": "A user with this username or email already exists"})
			return nil, false
		}
		h.respondError(c, "Failed to create user", err)
		return nil, false
	}
	return user, true
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	ctx := c.Request.Context()
	unauthorized := func() {
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Incorrect username or password"})
	}

	username, err := auth.NormalizeUsername(req.Username)
	if err != nil {
		unauthorized()
		return
	}
	user, err := h.db.GetUserByUsername(ctx, username)
	if err != nil {
		h.respondError(c, "Failed to log in", err)
		return
	}
	if user == nil || h.hasher.Verify(user.HashedPassword, req.Password) != nil {
		unauthorized()
		return
	}
	if !user.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "Inactive user"})
		return
	}

	token, _, err := h.tokens.Generate(user.ID, user.IsAdmin)
	if err != nil {
		h.respondError(c, "Failed to log in", err)
		return
	}
	if err := h.db.TouchLastLogin(ctx, user.ID, h.now()); err != nil {
		h.logger.WithError(err).WithField("user_id", user.ID).Warn("Failed to record last login")
	}

	h.logger.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": user.Username,
	}).Info("User logged in")
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(h.tokens.TTL().Seconds()),
	})
}

func (h *Handler) Me(c *gin.Context) {
	user, ok := auth.UserFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Could not validate credentials"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateMe lets a user change their own email. Activity and admin flags
// are left to admins.
func (h *Handler) UpdateMe(c *gin.Context) {
	user, ok := auth.UserFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Could not validate credentials"})
		return
	}
	var req selfUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	h.applyUserChanges(c, user.ID, updateUserRequest{Email: req.Email})
}

func (h *Handler) ChangePassword(c *gin.Context) {
	user, ok := auth.UserFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Could not validate credentials"})
		return
	}
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	if h.hasher.Verify(user.HashedPassword, req.CurrentPassword) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Current password is incorrect"})
		return
	}
	hashed, err := h.hasher.Hash(req.NewPassword)
	if errors.Is(err, auth.ErrInvalidPassword) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.respondError(c, "Failed to change password", err)
		return
	}

	if _, err := h.db.SetPassword(c.Request.Context(), user.ID, hashed); err != nil {
		h.respondError(c, "Failed to change password", err)
		return
	}
	h.logger.WithField("user_id", user.ID).Info("Password changed")
	c.JSON(http.StatusOK, gin.H{"message": "Password changed successfully"})
}

func (h *Handler) ListUsers(c *gin.Context) {
	var q userListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, err)
		return
	}

	users, err := h.db.ListUsers(c.Request.Context(), models.UserFilter{
		Offset:          q.Skip,
		Limit:           q.Limit,
		IncludeInactive: q.IncludeInactive,
	})
	if err != nil {
		h.respondError(c, "Failed to list users", err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	user, ok := h.createAccount(c, req.registerRequest, req.IsAdmin)
	if !ok {
		return
	}
	h.logger.WithFields(logrus.Fields{
		"username": user.Username,
		"is_admin": user.IsAdmin,
	}).Info("User created by admin")
	c.JSON(http.StatusCreated, user)
}

func (h *Handler) GetUser(c *gin.Context) {
	var uri userURI
	if err := c.ShouldBindUri(&uri); err != nil {
		bindError(c, err)
		return
	}

	user, err := h.db.GetUserByID(c.Request.Context(), uri.ID)
	if err != nil {
		h.respondError(c, "Failed to get user", err)
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateUser lets an admin change any account, except removing their own
// admin rights or deactivating themselves.
func (h *Handler) UpdateUser(c *gin.Context) {
	var uri userURI
	if err := c.ShouldBindUri(&uri); err != nil {
		bindError(c, err)
		return
	}
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	if caller, ok := auth.UserFrom(c); ok && caller.ID == uri.ID {
		if (req.IsAdmin != nil && !*req.IsAdmin) || (req.IsActive != nil && !*req.IsActive) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot revoke your own access"})
			return
		}
	}
	h.applyUserChanges(c, uri.ID, req)
}

func (h *Handler) DeleteUser(c *gin.Context) {
	var uri userURI
	if err := c.ShouldBindUri(&uri); err != nil {
		bindError(c, err)
		return
	}
	if caller, ok := auth.UserFrom(c); ok && caller.ID == uri.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot delete yourself"})
		return
	}

	deleted, err := h.db.DeleteUser(c.Request.Context(), uri.ID)
	if err != nil {
		h.respondError(c, "Failed to delete user", err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	h.logger.WithField("user_id", uri.ID).Info("User deleted")
	c.JSON(http.StatusOK, gin.H{"message": "User deleted successfully"})
}

func (h *Handler) DeactivateUser(c *gin.Context) {
	var uri userURI
	if err := c.ShouldBindUri(&uri); err != nil {
		bindError(c, err)
		return
	}
	if caller, ok := auth.UserFrom(c); ok && caller.ID == uri.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot deactivate yourself"})
		return
	}

	inactive := false
	h.applyUserChanges(c, uri.ID, updateUserRequest{IsActive: &inactive})
}

func (h *Handler) applyUserChanges(c *gin.Context, id int64, req updateUserRequest) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		bindError(c, err)
		return
	}

	user, err := h.db.UpdateUser(c.Request.Context(), id, models.UserChanges{
		Email:    email,
		IsActive: req.IsActive,
		IsAdmin:  req.IsAdmin,
	})
	if err != nil {
		var verr *apperr.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusConflict, gin.H{"error": "A user with this email already exists"})
			return
		}
		h.respondError(c, "Failed to update user", err)
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	h.logger.WithField("user_id", id).Info("User updated")
	c.JSON(http.StatusOK, user)
}
