package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"telehealth-portal-server/internal/apperr"
	"telehealth-portal-server/internal/config"
	"telehealth-portal-server/internal/middleware"
	"telehealth-portal-server/internal/models"
	"telehealth-portal-server/internal/otp"
	"telehealth-portal-server/internal/scheduling"
	"telehealth-portal-server/internal/utils"
)

const refreshCookie = "refresh_token"

// AuthHandler handles authentication-related requests.
type AuthHandler struct {
	DB  *gorm.DB
	Cfg *config.Config
	OTP *otp.Service
	Log *logrus.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(db *gorm.DB, cfg *config.Config, otpService *otp.Service, log *logrus.Logger) *AuthHandler {
	return &AuthHandler{DB: db, Cfg: cfg, OTP: otpService, Log: log}
}

// RegisterRequest represents the request body for user registration.
// Admin accounts are created by the seed command only.
type RegisterRequest struct {
	FirstName      string `json:"firstName" binding:"required,max=100"`
	LastName       string `json:"lastName" binding:"required,max=100"`
	Email          string `json:"email" binding:"required,email"`
	Password       string `json:"password" binding:"required,min=8,max=72"`
	Role           string `json:"role" binding:"required,oneof=patient doctor"`
	PhoneNumber    string `json:"phoneNumber" binding:"omitempty,max=30"`
	Specialization string `json:"specialization" binding:"omitempty,max=100"`
	Qualification  string `json:"qualification" binding:"omitempty,max=255"`
}

// Register creates an unverified account and emails a verification code.
// Doctors also get an unapproved profile that an admin must approve.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	role := models.Role(req.Role)
	if role == models.RoleDoctor && strings.TrimSpace(req.Specialization) == "" {
		utils.BadRequest(c, "Specialization is required for doctors")
		return
	}

	user := models.User{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       email,
		Role:        role,
		PhoneNumber: req.PhoneNumber,
		IsVerified:  false,
		IsActive:    true,
	}
	if err := user.SetPassword(req.Password); err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("hash password", err))
		return
	}

	err := h.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.Conflict("User with this email already exists")
			}
			return apperr.Internal("create user", err)
		}
		if role != models.RoleDoctor {
			return nil
		}
		profile := models.DoctorProfile{
			UserID:             user.ID,
			Specialization:     req.Specialization,
			Qualification:      req.Qualification,
			AvailabilityStatus: models.AvailabilityOffline,
			IsApproved:         false,
			IsActive:           true,
		}
		if err := tx.Create(&profile).Error; err != nil {
			return apperr.Internal("create doctor profile", err)
		}
		return nil
	})
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}

	// The account exists either way; a failed email can be retried with resend-otp.
	if err := h.OTP.Issue(c.Request.Context(), user.Email, user.FullName()); err != nil {
		h.Log.WithFields(logrus.Fields{
			"user_id": user.ID,
			"error":   err,
		}).Error("failed to send verification code")
	}

	utils.Created(c, "Registration successful. Check your email for the verification code.", user.Sanitize())
}

// VerifyOTPRequest represents the request body for email verification.
type VerifyOTPRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required,len=6,numeric"`
}

// VerifyOTP marks the account verified when the code matches.
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req VerifyOTPRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	if err := h.DB.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.BadRequest(c, "Invalid verification code")
			return
		}
		utils.HandleError(c, h.Log, apperr.Internal("load user", err))
		return
	}
	if user.IsVerified {
		utils.Success(c, "Email already verified", user.Sanitize())
		return
	}

	if err := h.OTP.Verify(c.Request.Context(), email, req.Code); err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	if err := h.DB.Model(&user).Update("is_verified", true).Error; err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("verify user", err))
		return
	}
	user.IsVerified = true
	utils.Success(c, "Email verified successfully", user.Sanitize())
}

// ResendOTPRequest represents the request body for resending a code.
type ResendOTPRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ResendOTP sends a new code to an unverified account. Unknown emails get
// the same answer as known ones.
func (h *AuthHandler) ResendOTP(c *gin.Context) {
	var req ResendOTPRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	const sent = "If the account exists and is unverified, a new code has been sent"

	var user models.User
	if err := h.DB.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Success(c, sent, nil)
			return
		}
		utils.HandleError(c, h.Log, apperr.Internal("load user", err))
		return
	}
	if user.IsVerified {
		utils.BadRequest(c, "Email already verified")
		return
	}
	if err := h.OTP.Issue(c.Request.Context(), user.Email, user.FullName()); err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, sent, nil)
}

// LoginRequest represents the request body for user login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the response body for successful login.
type LoginResponse struct {
	AccessToken  string               `json:"accessToken"`
	RefreshToken string               `json:"refreshToken"`
	User         models.UserSanitized `json:"user"`
}

// Login handles user login. Unverified and deactivated accounts are refused.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	var user models.User
	if err := h.DB.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Unauthorized(c, "Invalid email or password")
		} else {
			utils.HandleError(c, h.Log, apperr.Internal("load user", err))
		}
		return
	}

	if !user.CheckPassword(req.Password) {
		utils.Unauthorized(c, "Invalid email or password")
		return
	}
	if !user.IsVerified {
		utils.Forbidden(c, "Email not verified. Please verify your email first.")
		return
	}
	if !user.IsActive {
		utils.Forbidden(c, "Account is deactivated")
		return
	}

	accessToken, refreshToken, err := h.issueTokens(h.DB, &user)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	h.setRefreshCookie(c, refreshToken)

	utils.Success(c, "Login successful", LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user.Sanitize(),
	})
}

// RefreshTokenRequest represents the request body for token refresh.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshTokenResponse represents the response body for successful token refresh.
type RefreshTokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshToken rotates a refresh token: the presented token is revoked and a
// new pair is issued. A token can be used once.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	presented, err := c.Cookie(refreshCookie)
	if err != nil || presented == "" {
		var req RefreshTokenRequest
		if !utils.BindAndValidate(c, &req) {
			return
		}
		presented = req.RefreshToken
	}

	claims, err := utils.ValidateToken(presented, h.Cfg.JWTRefreshSecret)
	if err != nil {
		utils.Unauthorized(c, "Invalid refresh token")
		return
	}

	var (
		user                      models.User
		accessToken, refreshToken string
	)
	err = h.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.RefreshToken{}).
			Where("token = ? AND user_id = ? AND is_revoked = ? AND expires_at > ?", presented, claims.UserID, false, time.Now()).
			Update("is_revoked", true)
		if res.Error != nil {
			return apperr.Internal("revoke refresh token", res.Error)
		}
		if res.RowsAffected == 0 {
			return errRefreshRejected
		}
		if err := tx.First(&user, "id = ?", claims.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errRefreshRejected
			}
			return apperr.Internal("load user", err)
		}
		if !user.IsActive {
			return errRefreshRejected
		}
		var err error
		accessToken, refreshToken, err = h.issueTokens(tx, &user)
		return err
	})
	if errors.Is(err, errRefreshRejected) {
		utils.Unauthorized(c, "Refresh token not found, expired, or revoked")
		return
	}
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}

	h.setRefreshCookie(c, refreshToken)
	utils.Success(c, "Access token refreshed successfully", RefreshTokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

var errRefreshRejected = errors.New("refresh token rejected")

// LogoutRequest represents the request body for user logout.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Logout revokes the refresh token from the cookie or the body.
func (h *AuthHandler) Logout(c *gin.Context) {
	token, err := c.Cookie(refreshCookie)
	if err != nil || token == "" {
		var req LogoutRequest
		_ = c.ShouldBindJSON(&req)
		token = req.RefreshToken
	}
	if token == "" {
		utils.BadRequest(c, "Refresh token is required")
		return
	}

	userID, _ := middleware.GetUserIDFromContext(c)
	err = h.DB.Model(&models.RefreshToken{}).
		Where("token = ? AND user_id = ? AND is_revoked = ?", token, userID, false).
		Updates(map[string]any{"is_revoked": true, "expires_at": time.Now()}).Error
	if err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("revoke refresh token", err))
		return
	}

	c.SetCookie(refreshCookie, "", -1, "/", "", !h.Cfg.IsDevelopment(), true)
	utils.Success(c, "Logout successful. Refresh token has been invalidated.", nil)
}

// ProfileResponse is the caller's account, with the doctor profile for doctors.
type ProfileResponse struct {
	models.UserSanitized
	DoctorProfile *models.DoctorProfile `json:"doctorProfile,omitempty"`
}

// GetProfile handles fetching the currently authenticated user's profile.
func (h *AuthHandler) GetProfile(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var user models.User
	if err := h.DB.Preload("DoctorProfile").First(&user, "id = ?", actor.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.NotFound(c, "User profile not found")
		} else {
			utils.HandleError(c, h.Log, apperr.Internal("load profile", err))
		}
		return
	}

	utils.Success(c, "Profile fetched successfully", ProfileResponse{
		UserSanitized: user.Sanitize(),
		DoctorProfile: user.DoctorProfile,
	})
}

// UpdateProfileRequest represents the request body for updating user profile.
// Email and role cannot be changed.
type UpdateProfileRequest struct {
	FirstName   *string `json:"firstName" binding:"omitempty,min=1,max=100"`
	LastName    *string `json:"lastName" binding:"omitempty,min=1,max=100"`
	PhoneNumber *string `json:"phoneNumber" binding:"omitempty,max=30"`
	Gender      *string `json:"gender" binding:"omitempty,oneof=male female other"`
	DateOfBirth *string `json:"dateOfBirth" binding:"omitempty,date"`
}

// UpdateProfile handles updating the currently authenticated user's profile.
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req UpdateProfileRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", actor.UserID).Error; err != nil {
		utils.NotFound(c, "User not found")
		return
	}

	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.PhoneNumber != nil {
		user.PhoneNumber = *req.PhoneNumber
	}
	if req.Gender != nil {
		user.Gender = *req.Gender
	}
	if req.DateOfBirth != nil {
		dob, err := scheduling.ParseDate(*req.DateOfBirth, time.UTC)
		if err != nil {
			utils.HandleError(c, h.Log, err)
			return
		}
		if dob.After(time.Now()) {
			utils.BadRequest(c, "Date of birth cannot be in the future")
			return
		}
		user.DateOfBirth = &dob
	}

	if err := h.DB.Save(&user).Error; err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("update profile", err))
		return
	}

	utils.Success(c, "Profile updated successfully", user.Sanitize())
}

// issueTokens signs a token pair and stores the refresh token.
func (h *AuthHandler) issueTokens(db *gorm.DB, user *models.User) (string, string, error) {
	accessToken, refreshToken, err := utils.GenerateTokens(user, h.Cfg)
	if err != nil {
		return "", "", apperr.Internal("generate tokens", err)
	}
	stored := models.RefreshToken{
		UserID:    user.ID,
		Token:     refreshToken,
		ExpiresAt: time.Now().Add(time.Duration(h.Cfg.JWTRefreshExpirationHours) * time.Hour),
		IsRevoked: false,
	}
	if err := db.Create(&stored).Error; err != nil {
		return "", "", apperr.Internal("store refresh token", err)
	}
	return accessToken, refreshToken, nil
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, token string) {
	c.SetCookie(
		refreshCookie,
		token,
		h.Cfg.JWTRefreshExpirationHours*60*60,
		"/",
		"",
		!h.Cfg.IsDevelopment(), // Secure outside development
		true,
	)
}
