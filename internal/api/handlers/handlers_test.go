package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/keyfold/keyfold/internal/api/middleware"
	"github.com/keyfold/keyfold/internal/authz"
	"github.com/keyfold/keyfold/internal/models"
	"github.com/keyfold/keyfold/internal/repositories"
	"github.com/keyfold/keyfold/internal/utils"
	"github.com/keyfold/keyfold/internal/vault"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTest wires an in-memory database and a test vault into the
// package globals the handlers read.
func setupTest(t *testing.T) {
	t.Helper()

	db, err := gorm.Open(
		sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)},
	)
	require.NoError(t, err)
	require.NoError(t, repositories.Migrate(db))
	repositories.DB = db

	v, err := vault.New("handler-test-secret")
	require.NoError(t, err)
	AccountVault = v
}

func createTestUser(t *testing.T, username string, superuser bool) models.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("login-password"), bcrypt.MinCost)
	require.NoError(t, err)
	user := models.User{
		Username:    username,
		Email:       username + "@example.com",
		Password:    string(hashed),
		IsSuperuser: superuser,
	}
	require.NoError(t, repositories.DB.Create(&user).Error)
	return user
}

func createTestAccount(t *testing.T, owner models.User, username, password, url, notes string, createdAt time.Time) models.Account {
	t.Helper()
	account := models.Account{
		Username: username,
		URL:      url,
		Notes:    notes,
		AuthorID: owner.ID,
	}
	require.NoError(t, account.SetPassword(AccountVault, password))
	require.NoError(t, repositories.DB.Create(&account).Error)
	// Pin creation time so ordering tests are deterministic.
	require.NoError(t, repositories.DB.Model(&account).Update("created_at", createdAt).Error)
	account.CreatedAt = createdAt
	return account
}

func asCaller(user models.User) authz.Caller {
	return authz.Caller{ID: user.ID, Superuser: user.IsSuperuser}
}

// doRequest invokes a handler directly with an authenticated context,
// bypassing the router but exercising the same code paths.
func doRequest(t *testing.T, handler http.HandlerFunc, method, target string, body any, caller *authz.Caller, pathValues map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req = req.WithContext(context.WithValue(req.Context(), middleware.CallerKey, *caller))
	}
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}

	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodePayload(t *testing.T, rec *httptest.ResponseRecorder) utils.Payload {
	t.Helper()
	var payload utils.Payload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

// dataAccounts re-decodes the payload data as a list of serialized
// accounts.
func dataAccounts(t *testing.T, payload utils.Payload) []accountResponse {
	t.Helper()
	raw, err := json.Marshal(payload.Data)
	require.NoError(t, err)
	var accounts []accountResponse
	require.NoError(t, json.Unmarshal(raw, &accounts))
	return accounts
}

func dataAccount(t *testing.T, payload utils.Payload) accountResponse {
	t.Helper()
	raw, err := json.Marshal(payload.Data)
	require.NoError(t, err)
	var account accountResponse
	require.NoError(t, json.Unmarshal(raw, &account))
	return account
}
