package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/keyfold/keyfold/internal/api/middleware"
	"github.com/keyfold/keyfold/internal/authz"
	"github.com/keyfold/keyfold/internal/config"
	"github.com/keyfold/keyfold/internal/models"
	"github.com/keyfold/keyfold/internal/repositories"
	"github.com/keyfold/keyfold/internal/utils"
	"github.com/keyfold/keyfold/internal/vault"
	"gorm.io/gorm"
)

// AccountVault seals and opens stored credentials. Config refuses to
// start without the encryption secret; tests substitute their own
// instance before exercising handlers.
var AccountVault = vaultFromConfig()

func vaultFromConfig() *vault.Vault {
	v, err := vault.New(config.Envs.EncryptionSecret)
	if err != nil {
		return nil
	}
	return v
}

// requestCaller pulls the authenticated caller out of the request
// context. A missing caller means the middleware never ran; answer 401
// rather than proceeding unauthenticated.
func requestCaller(w http.ResponseWriter, r *http.Request) (authz.Caller, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		utils.JSONResponse(w, http.StatusUnauthorized, utils.Payload{
			Success: false,
			Message: "Unauthorized",
		})
	}
	return caller, ok
}

// Shown instead of a plaintext when the stored blob cannot be opened.
// Never echo ciphertext or key material back to the client.
const decryptErrorPlaceholder = "Error decrypting password"

type accountResponse struct {
	ID                uuid.UUID `json:"id"`
	Username          string    `json:"username"`
	DecryptedPassword string    `json:"decryptedPassword"`
	URL               string    `json:"url"`
	Notes             string    `json:"notes"`
	Icon              string    `json:"icon"`
	FaviconURL        string    `json:"faviconUrl"`
	CreatedAt         time.Time `json:"createdAt"`
	Author            uuid.UUID `json:"author"`
}

func serializeAccount(a *models.Account) accountResponse {
	plain, err := a.GetPassword(AccountVault)
	if err != nil {
		plain = decryptErrorPlaceholder
	}
	return accountResponse{
		ID:                a.ID,
		Username:          a.Username,
		DecryptedPassword: plain,
		URL:               a.URL,
		Notes:             a.Notes,
		Icon:              a.Icon,
		FaviconURL:        a.FaviconURL(),
		CreatedAt:         a.CreatedAt,
		Author:            a.AuthorID,
	}
}

// accountNotFound is the uniform answer for both missing records and
// records owned by someone else, so the API never confirms that a
// foreign record exists.
func accountNotFound(w http.ResponseWriter) {
	utils.JSONResponse(w, http.StatusNotFound, utils.Payload{
		Success: false,
		Message: "Account not found",
	})
}

// findAccountForCaller loads an account by id and applies the ownership
// policy. Returns nil when the record is missing or off-limits; the
// caller must answer not-found in both cases.
func findAccountForCaller(r *http.Request, caller authz.Caller) *models.Account {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return nil
	}

	var account models.Account
	if err := repositories.DB.First(&account, "id = ?", id).Error; err != nil {
		return nil
	}
	if !authz.CanAccess(caller, account.AuthorID) {
		return nil
	}
	return &account
}

// GET /accounts
func ListAccounts(w http.ResponseWriter, r *http.Request) {
	caller, ok := requestCaller(w, r)
	if !ok {
		return
	}

	q := authz.ScopeAccounts(repositories.DB.Model(&models.Account{}), caller)
	q = applyAccountFilters(q, r)
	q = applyAccountOrdering(q, r)

	var accounts []models.Account
	if err := q.Find(&accounts).Error; err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Database error",
		})
		return
	}

	out := make([]accountResponse, 0, len(accounts))
	for i := range accounts {
		out = append(out, serializeAccount(&accounts[i]))
	}

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Accounts retrieved successfully",
		Data:    out,
	})
}

// applyAccountFilters narrows the list query from request parameters.
// All matching is case-insensitive substring matching.
func applyAccountFilters(q *gorm.DB, r *http.Request) *gorm.DB {
	params := r.URL.Query()

	contains := func(column, value string) *gorm.DB {
		return q.Where("LOWER("+column+") LIKE ?", "%"+strings.ToLower(value)+"%")
	}

	if v := params.Get("search"); v != "" {
		pat := "%" + strings.ToLower(v) + "%"
		q = q.Where(
			"LOWER(username) LIKE ? OR LOWER(url) LIKE ? OR LOWER(notes) LIKE ?",
			pat, pat, pat,
		)
	}
	if v := params.Get("domain"); v != "" {
		domain := strings.ToLower(v)
		if i := strings.Index(domain, "://"); i >= 0 {
			domain = domain[i+3:]
		}
		domain = strings.TrimPrefix(domain, "www.")
		domain = strings.TrimRight(domain, "/")
		q = q.Where(
			"LOWER(url) LIKE ? OR LOWER(url) LIKE ? OR LOWER(url) LIKE ?",
			"%://"+domain+"%", "%://www."+domain+"%", "%"+domain+"/%",
		)
	}
	if v := params.Get("created_after"); v != "" {
		if t, err := parseFilterTime(v); err == nil {
			q = q.Where("created_at >= ?", t)
		}
	}
	if v := params.Get("created_before"); v != "" {
		if t, err := parseFilterTime(v); err == nil {
			q = q.Where("created_at <= ?", t)
		}
	}
	if v := params.Get("username_contains"); v != "" {
		q = contains("username", v)
	}
	if v := params.Get("url_contains"); v != "" {
		q = contains("url", v)
	}
	if v := params.Get("notes_contains"); v != "" {
		q = contains("notes", v)
	}

	return q
}

func parseFilterTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

var orderableColumns = map[string]string{
	"username":   "username",
	"url":        "url",
	"created_at": "created_at",
}

// applyAccountOrdering sorts by a whitelisted column, newest first by
// default. A "-" prefix requests descending order.
func applyAccountOrdering(q *gorm.DB, r *http.Request) *gorm.DB {
	ordering := r.URL.Query().Get("ordering")
	if ordering == "" {
		return q.Order("created_at DESC")
	}

	desc := strings.HasPrefix(ordering, "-")
	field := strings.TrimPrefix(ordering, "-")
	column, ok := orderableColumns[field]
	if !ok {
		return q.Order("created_at DESC")
	}
	if desc {
		return q.Order(column + " DESC")
	}
	return q.Order(column + " ASC")
}

// POST /accounts
func CreateAccount(w http.ResponseWriter, r *http.Request) {
	caller, ok := requestCaller(w, r)
	if !ok {
		return
	}

	var input struct {
		Username string `json:"username"`
		Password string `json:"password"`
		URL      string `json:"url"`
		Notes    string `json:"notes"`
		Icon     string `json:"icon"`
		Author   string `json:"author"` // honored for superusers only
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Invalid input",
		})
		return
	}

	fieldErrs := map[string][]string{}
	if input.Username == "" {
		fieldErrs["username"] = append(fieldErrs["username"], "Username is required.")
	}
	if input.URL == "" {
		fieldErrs["url"] = append(fieldErrs["url"], "URL is required.")
	}
	if input.Password == "" {
		fieldErrs["password"] = append(fieldErrs["password"], "Password is required.")
	}
	if len(fieldErrs) > 0 {
		utils.ValidationError(w, fieldErrs)
		return
	}

	requestedOwner := uuid.Nil
	if input.Author != "" {
		if id, err := uuid.Parse(input.Author); err == nil {
			requestedOwner = id
		}
	}

	account := models.Account{
		Username: input.Username,
		URL:      input.URL,
		Notes:    input.Notes,
		Icon:     input.Icon,
		AuthorID: authz.ResolveOwner(caller, requestedOwner),
	}

	// Encrypt before insert: a row must never exist with a plaintext or
	// empty-but-required secret.
	if err := account.SetPassword(AccountVault, input.Password); err != nil {
		if errors.Is(err, vault.ErrNoOwner) {
			utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
				Success: false,
				Message: "Account must have an owner before a password can be set",
			})
			return
		}
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to encrypt password",
		})
		return
	}

	if err := repositories.DB.Create(&account).Error; err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Database insert failed",
		})
		return
	}

	utils.JSONResponse(w, http.StatusCreated, utils.Payload{
		Success: true,
		Message: "Account created successfully",
		Data:    serializeAccount(&account),
	})
}

// GET /accounts/{id}
func GetAccount(w http.ResponseWriter, r *http.Request) {
	caller, ok := requestCaller(w, r)
	if !ok {
		return
	}

	account := findAccountForCaller(r, caller)
	if account == nil {
		accountNotFound(w)
		return
	}

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Account retrieved successfully",
		Data:    serializeAccount(account),
	})
}

// PATCH/PUT /accounts/{id}
func UpdateAccount(w http.ResponseWriter, r *http.Request) {
	caller, ok := requestCaller(w, r)
	if !ok {
		return
	}

	account := findAccountForCaller(r, caller)
	if account == nil {
		accountNotFound(w)
		return
	}

	// Pointers distinguish "absent" from "set to empty": omitted fields
	// keep their current values.
	var input struct {
		Username *string `json:"username"`
		Password *string `json:"password"`
		URL      *string `json:"url"`
		Notes    *string `json:"notes"`
		Icon     *string `json:"icon"`
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Invalid input",
		})
		return
	}

	if input.Username != nil {
		account.Username = *input.Username
	}
	if input.URL != nil {
		account.URL = *input.URL
	}
	if input.Notes != nil {
		account.Notes = *input.Notes
	}
	if input.Icon != nil {
		account.Icon = *input.Icon
	}

	// The password never travels through generic field assignment; it
	// is re-encrypted under the record owner's key.
	if input.Password != nil {
		if err := account.SetPassword(AccountVault, *input.Password); err != nil {
			utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
				Success: false,
				Message: "Failed to encrypt password",
			})
			return
		}
	}

	if err := repositories.DB.Save(account).Error; err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Database update failed",
		})
		return
	}

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Account updated successfully",
		Data:    serializeAccount(account),
	})
}

// DELETE /accounts/{id}
func DeleteAccount(w http.ResponseWriter, r *http.Request) {
	caller, ok := requestCaller(w, r)
	if !ok {
		return
	}

	account := findAccountForCaller(r, caller)
	if account == nil {
		accountNotFound(w)
		return
	}

	if err := repositories.DB.Delete(account).Error; err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Database delete failed",
		})
		return
	}

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Account deleted successfully",
	})
}
