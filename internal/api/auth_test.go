package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/npezzotti/go-messenger/internal/auth"
	"github.com/npezzotti/go-messenger/internal/config"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/testutil"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// findCookie is a helper function to find a cookie by name in the response recorder.
// It returns the cookie if found, or nil if not found.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestIdentityFrom(t *testing.T) {
	identity := auth.Identity{User: types.User{Id: 42, Email: "a@example.com"}}

	tcases := []struct {
		name     string
		ctx      context.Context
		expected bool
	}{
		{
			name:     "no identity",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "identity set",
			ctx:      WithIdentity(context.Background(), identity),
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := IdentityFrom(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected IdentityFrom to return %v", tc.expected)
			if tc.expected {
				assert.Equal(t, 42, got.User.Id)
			}
		})
	}
}

func TestCreateAccountHandler(t *testing.T) {
	expectedUser := database.User{
		Id:           1,
		Name:         "newuser",
		EmailAddress: "newuser@example.com",
		PasswordHash: "hashedpassword",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	tcases := []struct {
		name       string
		body       any
		mockUser   database.User
		mockErr    error
		callsRepo  bool
		statusCode int
	}{
		{
			name: "successfully creates a new account",
			body: RegisterRequest{
				Name:     expectedUser.Name,
				Email:    expectedUser.EmailAddress,
				Password: "password",
			},
			mockUser:   expectedUser,
			callsRepo:  true,
			statusCode: http.StatusCreated,
		},
		{
			name:       "failed with invalid json body",
			body:       "invalid json",
			statusCode: http.StatusBadRequest,
		},
		{
			name: "fails with missing name",
			body: RegisterRequest{
				Email:    expectedUser.EmailAddress,
				Password: "password",
			},
			statusCode: http.StatusBadRequest,
		},
		{
			name: "fails with malformed email",
			body: RegisterRequest{
				Name:     expectedUser.Name,
				Email:    "not-an-email",
				Password: "password",
			},
			statusCode: http.StatusBadRequest,
		},
		{
			name: "fails with missing password",
			body: RegisterRequest{
				Name:  expectedUser.Name,
				Email: expectedUser.EmailAddress,
			},
			statusCode: http.StatusBadRequest,
		},
		{
			name: "fails with duplicate email",
			body: RegisterRequest{
				Name:     expectedUser.Name,
				Email:    expectedUser.EmailAddress,
				Password: "password",
			},
			mockErr:    database.ErrDuplicateEmail,
			callsRepo:  true,
			statusCode: http.StatusConflict,
		},
		{
			name: "fails with db error",
			body: RegisterRequest{
				Name:     expectedUser.Name,
				Email:    expectedUser.EmailAddress,
				Password: "password",
			},
			mockErr:    errors.New("db error"),
			callsRepo:  true,
			statusCode: http.StatusInternalServerError,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockGoChatRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.callsRepo {
				regReq := tc.body.(RegisterRequest)
				mockRepo.On("CreateAccount", mock.MatchedBy(func(req database.CreateAccountParams) bool {
					return req.Name == regReq.Name &&
						req.EmailAddress == regReq.Email &&
						verifyPassword(req.PasswordHash, regReq.Password)
				})).Return(tc.mockUser, tc.mockErr).Once()
			}

			app := NewGoChatApp(http.NewServeMux(), testutil.TestLogger(t), nil, mockRepo, nil, &config.Config{})

			var req *http.Request
			switch v := tc.body.(type) {
			case string:
				req = httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(v))
			case RegisterRequest:
				body, err := json.Marshal(v)
				require.NoError(t, err, "failed to marshal request body")
				req = httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewBuffer(body))
			}

			rr := httptest.NewRecorder()
			app.createAccount(rr, req)

			assert.Equal(t, tc.statusCode, rr.Code)
			if tc.statusCode == http.StatusCreated {
				var u types.User
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&u))
				assert.Equal(t, expectedUser.Id, u.Id)
				assert.Equal(t, expectedUser.EmailAddress, u.Email)
				assert.NotContains(t, rr.Body.String(), "hashedpassword")
				return
			}

			var apiErr ApiError
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&apiErr))
			assert.Equal(t, tc.statusCode, apiErr.StatusCode)
		})
	}
}

func TestLoginHandler(t *testing.T) {
	pwdHash, err := hashPassword("password")
	require.NoError(t, err)

	account := database.User{
		Id:           1,
		Name:         "alice",
		EmailAddress: "alice@example.com",
		PasswordHash: pwdHash,
	}

	tcases := []struct {
		name       string
		body       string
		mockUser   database.User
		mockErr    error
		callsRepo  bool
		statusCode int
	}{
		{
			name:       "successful login",
			body:       `{"email":"alice@example.com","password":"password"}`,
			mockUser:   account,
			callsRepo:  true,
			statusCode: http.StatusOK,
		},
		{
			name:       "wrong password",
			body:       `{"email":"alice@example.com","password":"nope"}`,
			mockUser:   account,
			callsRepo:  true,
			statusCode: http.StatusUnauthorized,
		},
		{
			name:       "unknown account",
			body:       `{"email":"alice@example.com","password":"password"}`,
			mockErr:    sql.ErrNoRows,
			callsRepo:  true,
			statusCode: http.StatusNotFound,
		},
		{
			name:       "missing password",
			body:       `{"email":"alice@example.com"}`,
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "invalid json",
			body:       `{`,
			statusCode: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockGoChatRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.callsRepo {
				mockRepo.On("GetAccountByEmail", "alice@example.com").Return(tc.mockUser, tc.mockErr).Once()
			}

			app := NewGoChatApp(http.NewServeMux(), testutil.TestLogger(t), nil, mockRepo, nil,
				&config.Config{SigningKey: []byte("test-signing-key")})

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(tc.body))
			app.login(rr, req)

			assert.Equal(t, tc.statusCode, rr.Code)
			if tc.statusCode != http.StatusOK {
				assert.Nil(t, findCookie(rr, auth.TokenCookieKey))
				return
			}

			var resp SessionResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, "alice@example.com", resp.Email)
			assert.NotEmpty(t, resp.Token)

			cookie := findCookie(rr, auth.TokenCookieKey)
			require.NotNil(t, cookie, "expected token cookie to be set")
			assert.Equal(t, resp.Token, cookie.Value)
			assert.True(t, cookie.HttpOnly)
		})
	}
}

func TestSessionHandler(t *testing.T) {
	app := &GoChatApp{log: testutil.TestLogger(t)}

	t.Run("returns the resolved user", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req = req.WithContext(WithIdentity(req.Context(), auth.Identity{
			User: types.User{Id: 3, Name: "carol", Email: "carol@example.com"},
		}))

		app.session(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var u types.User
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&u))
		assert.Equal(t, 3, u.Id)
	})

	t.Run("no identity", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)

		app.session(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestLogoutHandler(t *testing.T) {
	app := &GoChatApp{log: testutil.TestLogger(t)}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/logout", nil)
	app.logout(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	cookie := findCookie(rr, auth.TokenCookieKey)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.True(t, cookie.Expires.Before(time.Now()), "expected cookie to be expired")
}

func TestPasswordHashing(t *testing.T) {
	hash, err := hashPassword("secret")
	require.NoError(t, err)

	assert.NotEqual(t, "secret", hash)
	assert.True(t, verifyPassword(hash, "secret"))
	assert.False(t, verifyPassword(hash, "other"))
}
