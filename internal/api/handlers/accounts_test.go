package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/keyfold/keyfold/internal/authz"
	"github.com/keyfold/keyfold/internal/models"
	"github.com/keyfold/keyfold/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCreateAccount(t *testing.T) {
	setupTest(t)
	alice := createTestUser(t, "alice", false)
	caller := asCaller(alice)

	rec := doRequest(t, CreateAccount, http.MethodPost, "/accounts", map[string]any{
		"username": "john_doe",
		"password": "hunter2",
		"url":      "https://example.com",
		"notes":    "Test account",
	}, &caller, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	got := dataAccount(t, decodePayload(t, rec))
	assert.Equal(t, "john_doe", got.Username)
	assert.Equal(t, "hunter2", got.DecryptedPassword)
	assert.Equal(t, alice.ID, got.Author)

	// The stored row holds ciphertext, never the plaintext.
	var stored models.Account
	require.NoError(t, repositories.DB.First(&stored, "id = ?", got.ID).Error)
	assert.NotEmpty(t, stored.Password)
	assert.NotEqual(t, "hunter2", stored.Password)
}

func TestCreateAccountValidation(t *testing.T) {
	setupTest(t)
	alice := createTestUser(t, "alice", false)
	caller := asCaller(alice)

	rec := doRequest(t, CreateAccount, http.MethodPost, "/accounts", map[string]any{
		"notes": "missing everything else",
	}, &caller, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodePayload(t, rec)
	assert.Contains(t, payload.Errors, "username")
	assert.Contains(t, payload.Errors, "url")
	assert.Contains(t, payload.Errors, "password")
}

func TestCreateAccountOwnerForcedToCaller(t *testing.T) {
	setupTest(t)
	alice := createTestUser(t, "alice", false)
	bob := createTestUser(t, "bob", false)
	caller := asCaller(alice)

	// A regular caller cannot plant records in someone else's vault.
	rec := doRequest(t, CreateAccount, http.MethodPost, "/accounts", map[string]any{
		"username": "sneaky",
		"password": "hunter2",
		"url":      "https://example.com",
		"author":   bob.ID.String(),
	}, &caller, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	got := dataAccount(t, decodePayload(t, rec))
	assert.Equal(t, alice.ID, got.Author)
}

func TestCreateAccountSuperuserOnBehalf(t *testing.T) {
	setupTest(t)
	admin := createTestUser(t, "admin", true)
	bob := createTestUser(t, "bob", false)
	caller := asCaller(admin)

	rec := doRequest(t, CreateAccount, http.MethodPost, "/accounts", map[string]any{
		"username": "managed",
		"password": "hunter2",
		"url":      "https://example.com",
		"author":   bob.ID.String(),
	}, &caller, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	got := dataAccount(t, decodePayload(t, rec))
	assert.Equal(t, bob.ID, got.Author)

	// The secret is sealed under the record owner's key, so the owner
	// can read it back.
	var stored models.Account
	require.NoError(t, repositories.DB.First(&stored, "id = ?", got.ID).Error)
	plain, err := stored.GetPassword(AccountVault)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestListAccountsIsolation(t *testing.T) {
	setupTest(t)
	alice := createTestUser(t, "alice", false)
	bob := createTestUser(t, "bob", false)
	createTestAccount(t, alice, "my_account", "my_password", "https://my.com", "", baseTime)
	createTestAccount(t, bob, "other_account", "other_password", "https://other.com", "", baseTime)

	caller := asCaller(alice)
	rec := doRequest(t, ListAccounts, http.MethodGet, "/accounts", nil, &caller, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	accounts := dataAccounts(t, decodePayload(t, rec))
	require.Len(t, accounts, 1)
	assert.Equal(t, "my_account", accounts[0].Username)
	assert.Equal(t, "my_password", accounts[0].DecryptedPassword)
}

func TestListAccountsSuperuserSeesAll(t *testing.T) {
	setupTest(t)
	alice := createTestUser(t, "alice", false)
	bob := createTestUser(t, "bob", false)
	admin := createTestUser(t, "admin", true)
	createTestAccount(t, alice, "a1", "p1", "https://a.com", "", baseTime)
	createTestAccount(t, bob, "b1", "p2", "https://b.com", "", baseTime.Add(time.Minute))

	caller := asCaller(admin)
	rec := doRequest(t, ListAccounts, http.MethodGet, "/accounts", nil, &caller, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	accounts := dataAccounts(t, decodePayload(t, rec))
	assert.Len(t, accounts, 2)
}

func TestListAccountsDefaultOrderNewestFirst(t *testing.T) {
	setupTest(t)
	alice := createTestUser(t, "alice", false)
	createTestAccount(t, alice, "oldest", "p", "https://a.com", "", baseTime)
	createTestAccount(t, alice, "newest", "p", "https://b.com", "", baseTime.Add(2*time.Hour))
	createTestAccount(t, alice, "middle", "p", "https://c.com", "", baseTime.Add(time.Hour))

	caller := asCaller(alice)
	rec := doRequest(t, ListAccounts, http.MethodGet, "/accounts", nil, &caller, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	accounts := dataAccounts(t, decodePayload(t, rec))
	require.Len(t, accounts, 3)
	assert.Equal(t, "newest", accounts[0].Username)
	assert.Equal(t, "middle", accounts[1].Username)
	assert.Equal(t, "oldest", accounts[2].Username)
}

func TestListAccountsOrderingParam(t *testing.T) {
	setupTest(t)
	alice := createTestUser(t, "alice", false)
	createTestAccount(t, alice, "bbb", "p", "https://b.com", "", baseTime)
	createTestAccount(t, alice, "aaa", "p", "https://a.com", "", baseTime.Add(time.Hour))

	caller := asCaller(alice)
	rec := doRequest(t, ListAccounts, http.MethodGet, "/accounts?ordering=username", nil, &caller, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	accounts := dataAccounts(t, decodePayload(t, rec))
	require.Len(t, accounts, 2)
	assert.Equal(t, "aaa", accounts[0].Username)

	// Unknown ordering fields fall back to the default instead of
	// reaching the SQL layer.
	rec = doRequest(t, ListAccounts, http.MethodGet, "/accounts?ordering=password", nil, &caller, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	accounts = dataAccounts(t, decodePayload(t, rec))
	assert.Equal(t, "aaa", accounts[0].Username) // newest first
}

func TestListAccountsSearch(t *testing.T) {
	setupTest(t)
	alice := createTestUser(t, "alice", false)
	createTestAccount(t, alice, "john_doe", "p", "https://gmail.com", "My Gmail account for work", baseTime)
	createTestAccount(t, alice, "jane_smith", "p", "https://github.com", "GitHub for coding projects", baseTime.Add(time.Minute))

	caller := asCaller(alice)

	tests := []struct {
		name   string
		query  string
		expect []string
	}{
		{name: "by username", query: "search=john", expect: []string{"john_doe"}},
		{name: "by notes", query: "search=coding", expect: []string{"jane_smith"}},
		{name: "by url", query: "search=gmail", expect: []string{"john_doe"}},
		{name: "case insensitive", query: "search=GITHUB", expect: []string{"jane_smith"}},
		{name: "username_contains", query: "username_contains=jane", expect: []string{"jane_smith"}},
		{name: "url_contains", query: "url_contains=github", expect: []string{"jane_smith"}},
		{name: "notes_contains", query: "notes_contains=work", expect: []string{"john_doe"}},
		{name: "domain", query: "domain=gmail.com", expect: []string{"john_doe"}},
		{name: "domain with scheme and www", query: "domain=https://www.github.com/", expect: []string{"jane_smith"}},
		{name: "no match", query: "search=netflix", expect: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, ListAccounts, http.MethodGet, "/accounts?"+tt.query, nil, &caller, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			accounts := dataAccounts(t, decodePayload(t, rec))
			got := make([]string, 0, len(accounts))
			for _, a := range accounts {
				got = append(got, a.Username)
			}
			assert.Equal(t, tt.expect, got)
		})
	}
}

func TestListAccountsCreatedRange(t *testing.T) {
	setupTest(t)
	alice := createTestUser(t, "alice", false)
	createTestAccount(t, alice, "old", "p", "https://a.com", "", baseTime.AddDate(0, -2, 0))
	createTestAccount(t, alice, "recent", "p", "https://b.com", "", baseTime)

	caller := asCaller(alice)
	cutoff := baseTime.AddDate(0, -1, 0).Format(time.RFC3339)

	rec := doRequest(t, ListAccounts, http.MethodGet, "/accounts?created_after="+cutoff, nil, &caller, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	accounts := dataAccounts(t, decodePayload(t, rec))
	require.Len(t, accounts, 1)
	assert.Equal(t, "recent", accounts[0].Username)

	rec = doRequest(t, ListAccounts, http.MethodGet, "/accounts?created_before="+cutoff, nil, &caller, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	accounts = dataAccounts(t, decodePayload(t, rec))
	require.Len(t, accounts, 1)
	assert.Equal(t, "old", accounts[0].Username)
}

func TestGetAccountDetail(t *testing.T) {
	setupTest(t)
	alice := createTestUser(t, "alice", false)
	account := createTestAccount(t, alice, "john_doe", "original_password", "https://gmail.com", "My Gmail account", baseTime)

	caller := asCaller(alice)
	rec := doRequest(t, GetAccount, http.MethodGet, "/accounts/"+account.ID.String(), nil, &caller, map[string]string{"id": account.ID.String()})

	require.Equal(t, http.StatusOK, rec.Code)
	got := dataAccount(t, decodePayload(t, rec))
	assert.Equal(t, "john_doe", got.Username)
	assert.Equal(t, "original_password", got.DecryptedPassword)
}

func TestGetForeignAccountIsNotFound(t *testing.T) {
	setupTest(t)
	alice := createTestUser(t, "alice", false)
	bob := createTestUser(t, "bob", false)
	account := createTestAccount(t, bob, "bobs", "secret", "https://b.com", "", baseTime)

	// Not 403: a forbidden answer would confirm the record exists.
	caller := asCaller(alice)
	rec := doRequest(t, GetAccount, http.MethodGet, "/accounts/"+account.ID.String(), nil, &caller, map[string]string{"id": account.ID.String()})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A superuser reaches the same record.
	admin := createTestUser(t, "admin", true)
	adminCaller := asCaller(admin)
	rec = doRequest(t, GetAccount, http.MethodGet, "/accounts/"+account.ID.String(), nil, &adminCaller, map[string]string{"id": account.ID.String()})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateAccountPasswordOnly(t *testing.T) {
	setupTest(t)
	alice := createTestUser(t, "alice", false)
	account := createTestAccount(t, alice, "john_doe", "original_password", "https://gmail.com", "My Gmail account", baseTime)

	caller := asCaller(alice)
	rec := doRequest(t, UpdateAccount, http.MethodPatch, "/accounts/"+account.ID.String(), map[string]any{
		"password": "new_password",
	}, &caller, map[string]string{"id": account.ID.String()})

	require.Equal(t, http.StatusOK, rec.Code)

	var stored models.Account
	require.NoError(t, repositories.DB.First(&stored, "id = ?", account.ID).Error)
	assert.Equal(t, "john_doe", stored.Username)
	assert.Equal(t, "https://gmail.com", stored.URL)
	assert.Equal(t, "My Gmail account", stored.Notes)

	plain, err := stored.GetPassword(AccountVault)
	require.NoError(t, err)
	assert.Equal(t, "new_password", plain)
}

func TestUpdateAccountFields(t *testing.T) {
	setupTest(t)
	alice := createTestUser(t, "alice", false)
	account := createTestAccount(t, alice, "john_doe", "original_password", "https://gmail.com", "old notes", baseTime)

	caller := asCaller(alice)
	rec := doRequest(t, UpdateAccount, http.MethodPatch, "/accounts/"+account.ID.String(), map[string]any{
		"username": "john_updated",
		"notes":    "",
	}, &caller, map[string]string{"id": account.ID.String()})

	require.Equal(t, http.StatusOK, rec.Code)

	var stored models.Account
	require.NoError(t, repositories.DB.First(&stored, "id = ?", account.ID).Error)
	assert.Equal(t, "john_updated", stored.Username)
	assert.Equal(t, "", stored.Notes) // explicit empty clears

	// Untouched fields survive, including the secret.
	plain, err := stored.GetPassword(AccountVault)
	require.NoError(t, err)
	assert.Equal(t, "original_password", plain)
}

func TestUpdateForeignAccountIsNotFound(t *testing.T) {
	setupTest(t)
	alice := createTestUser(t, "alice", false)
	bob := createTestUser(t, "bob", false)
	account := createTestAccount(t, bob, "bobs", "secret", "https://b.com", "", baseTime)

	caller := asCaller(alice)
	rec := doRequest(t, UpdateAccount, http.MethodPatch, "/accounts/"+account.ID.String(), map[string]any{
		"username": "hijacked",
	}, &caller, map[string]string{"id": account.ID.String()})

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var stored models.Account
	require.NoError(t, repositories.DB.First(&stored, "id = ?", account.ID).Error)
	assert.Equal(t, "bobs", stored.Username)
}

func TestDeleteAccount(t *testing.T) {
	setupTest(t)
	alice := createTestUser(t, "alice", false)
	account := createTestAccount(t, alice, "john_doe", "p", "https://a.com", "", baseTime)

	caller := asCaller(alice)
	rec := doRequest(t, DeleteAccount, http.MethodDelete, "/accounts/"+account.ID.String(), nil, &caller, map[string]string{"id": account.ID.String()})

	require.Equal(t, http.StatusOK, rec.Code)

	var count int64
	require.NoError(t, repositories.DB.Model(&models.Account{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestDeleteForeignAccountIsNotFound(t *testing.T) {
	setupTest(t)
	alice := createTestUser(t, "alice", false)
	bob := createTestUser(t, "bob", false)
	account := createTestAccount(t, bob, "bobs", "p", "https://b.com", "", baseTime)

	caller := asCaller(alice)
	rec := doRequest(t, DeleteAccount, http.MethodDelete, "/accounts/"+account.ID.String(), nil, &caller, map[string]string{"id": account.ID.String()})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var count int64
	require.NoError(t, repositories.DB.Model(&models.Account{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	// The superuser override applies to delete as well.
	admin := createTestUser(t, "admin", true)
	adminCaller := asCaller(admin)
	rec = doRequest(t, DeleteAccount, http.MethodDelete, "/accounts/"+account.ID.String(), nil, &adminCaller, map[string]string{"id": account.ID.String()})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetAccountUnknownID(t *testing.T) {
	setupTest(t)
	alice := createTestUser(t, "alice", false)
	caller := asCaller(alice)

	for _, id := range []string{uuid.NewString(), "not-a-uuid"} {
		rec := doRequest(t, GetAccount, http.MethodGet, "/accounts/"+id, nil, &caller, map[string]string{"id": id})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
}

func TestSerializeAccountDecryptFailure(t *testing.T) {
	setupTest(t)
	alice := createTestUser(t, "alice", false)
	account := createTestAccount(t, alice, "john_doe", "p", "https://a.com", "", baseTime)

	// Corrupt the stored blob; the API must answer with a fixed safe
	// message, never the raw ciphertext or an error dump.
	require.NoError(t, repositories.DB.Model(&account).Update("password", "AAAA_not_a_real_blob").Error)

	caller := asCaller(alice)
	rec := doRequest(t, GetAccount, http.MethodGet, "/accounts/"+account.ID.String(), nil, &caller, map[string]string{"id": account.ID.String()})

	require.Equal(t, http.StatusOK, rec.Code)
	got := dataAccount(t, decodePayload(t, rec))
	assert.Equal(t, decryptErrorPlaceholder, got.DecryptedPassword)
}

func TestRequestCallerMissing(t *testing.T) {
	setupTest(t)

	var nilCaller *authz.Caller
	rec := doRequest(t, ListAccounts, http.MethodGet, "/accounts", nil, nilCaller, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
