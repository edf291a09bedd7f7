package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/keyfold/keyfold/internal/config"
	"github.com/keyfold/keyfold/internal/mailer"
	"github.com/keyfold/keyfold/internal/models"
	"github.com/keyfold/keyfold/internal/repositories"
	"github.com/keyfold/keyfold/internal/utils"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const resetTokenTTL = time.Hour

// POST /auth/password-reset
// Emails a single-use reset link for the given username.
func PasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Username string `json:"username"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil || input.Username == "" {
		utils.ValidationError(w, map[string][]string{
			"username": {"Username is required."},
		})
		return
	}

	var user models.User
	if err := repositories.DB.Where("username = ?", input.Username).First(&user).Error; err != nil {
		utils.ValidationError(w, map[string][]string{
			"username": {"No account found with this username."},
		})
		return
	}
	if user.Email == "" {
		utils.ValidationError(w, map[string][]string{
			"username": {"No email address associated with this username."},
		})
		return
	}

	token, err := utils.GenerateSecureToken(32)
	if err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to create reset token",
		})
		return
	}

	record := models.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: utils.HashToken(token),
		ExpiresAt: time.Now().Add(resetTokenTTL),
	}
	if err := repositories.DB.Create(&record).Error; err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Database insert failed",
		})
		return
	}

	// Link format: <frontend>/reset-password/<b64(uid)>.<token>. The
	// dot separator cannot appear in either base64url part.
	uid := base64.RawURLEncoding.EncodeToString([]byte(user.ID.String()))
	resetLink := fmt.Sprintf("%s/reset-password/%s.%s", config.Envs.FrontendBaseURL, uid, token)

	if err := mailer.SendPasswordReset(user.Email, user.Username, resetLink); err != nil {
		log.Printf("password reset mail to user %s failed: %v", user.ID, err)
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to send password reset email",
		})
		return
	}

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Password reset email sent successfully. Please check your email for further instructions.",
		Data: map[string]any{
			"username": user.Username,
		},
	})
}

// resolveResetToken parses the combined "<b64(uid)>.<token>" value and
// loads the matching user and token row. Every malformed shape answers
// the same generic error so the endpoint cannot be used to probe for
// user IDs.
func resolveResetToken(combined string) (*models.User, *models.PasswordResetToken, error) {
	parts := strings.SplitN(combined, ".", 2)
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("invalid token format")
	}

	uidBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("invalid token format")
	}
	userID, err := uuid.Parse(string(uidBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid token format")
	}

	var user models.User
	if err := repositories.DB.First(&user, "id = ?", userID).Error; err != nil {
		return nil, nil, fmt.Errorf("unknown user")
	}

	var record models.PasswordResetToken
	err = repositories.DB.
		Where("user_id = ? AND token_hash = ?", user.ID, utils.HashToken(parts[1])).
		First(&record).Error
	if err != nil {
		return nil, nil, fmt.Errorf("unknown token")
	}
	if !record.Usable(time.Now()) {
		return nil, nil, fmt.Errorf("token expired or used")
	}

	return &user, &record, nil
}

// validateNewPassword applies the password rules for resets.
func validateNewPassword(password, confirm string) map[string][]string {
	fieldErrs := map[string][]string{}
	if len(password) < 8 {
		fieldErrs["password"] = append(fieldErrs["password"], "Password must be at least 8 characters long.")
	}
	allDigits := password != ""
	for _, c := range password {
		if !unicode.IsDigit(c) {
			allDigits = false
			break
		}
	}
	if allDigits {
		fieldErrs["password"] = append(fieldErrs["password"], "Password cannot be entirely numeric.")
	}
	if confirm == "" {
		fieldErrs["passwordConfirm"] = append(fieldErrs["passwordConfirm"], "Password confirmation is required.")
	} else if confirm != password {
		fieldErrs["passwordConfirm"] = append(fieldErrs["passwordConfirm"], "The two password fields didn't match.")
	}
	if len(fieldErrs) == 0 {
		return nil
	}
	return fieldErrs
}

// POST /auth/password-reset/confirm
func PasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Token           string `json:"token"`
		Password        string `json:"password"`
		PasswordConfirm string `json:"passwordConfirm"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil || input.Token == "" || input.Password == "" {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Token and password are required",
		})
		return
	}

	user, record, err := resolveResetToken(input.Token)
	if err != nil {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Invalid or expired reset link. Please request a new password reset.",
		})
		return
	}

	if fieldErrs := validateNewPassword(input.Password, input.PasswordConfirm); fieldErrs != nil {
		utils.ValidationError(w, fieldErrs)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to hash password",
		})
		return
	}

	user.Password = string(hashed)
	record.Used = true
	// The new hash and the consumed token must land together; a partial
	// write would leave a spent token still redeemable.
	err = repositories.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(user).Error; err != nil {
			return err
		}
		return tx.Save(record).Error
	})
	if err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Database update failed",
		})
		return
	}

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Password reset successfully. You can now log in with your new password.",
		Data: map[string]any{
			"username": user.Username,
		},
	})
}

// POST /auth/password-reset/validate-token
// Returns 200 either way; the "valid" flag carries the verdict.
func PasswordResetValidateToken(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Token string `json:"token"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil || input.Token == "" {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Token is required",
		})
		return
	}

	user, _, err := resolveResetToken(input.Token)
	if err != nil {
		utils.JSONResponse(w, http.StatusOK, utils.Payload{
			Success: false,
			Message: "Invalid or expired reset link",
			Data:    map[string]any{"valid": false},
		})
		return
	}

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Token is valid",
		Data: map[string]any{
			"valid":    true,
			"username": user.Username,
		},
	})
}
