package tests

import (
	"context"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/doubtbuddy/apps/api/echo"
	"github.com/trezcool/doubtbuddy/core/user"
	emailsvc "github.com/trezcool/doubtbuddy/services/email"
	testutil "github.com/trezcool/doubtbuddy/tests"
)

const pwd = "c0rrect-Horse"

func TestRegister(t *testing.T) {
	app := setup(t)
	testutil.CreateUser(t, usrRepo, "Taken", "taken@test.test", pwd, user.RoleStudent)

	t.Run("student", func(t *testing.T) {
		body := marchallObj(t, user.NewUser{
			Name: " Ana ", Email: " ANA@Test.test ", Password: pwd, PasswordConfirm: pwd, Role: user.RoleStudent,
		})
		req, rec := newRequest(http.MethodPost, "/api/auth/register", body)
		app.ServeHTTP(rec, req)

		if assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String()) {
			var res LoginResponse
			unmarshal(t, rec, &res)
			assert.NotEmpty(t, res.Token)
			assert.NotEmpty(t, res.User.ID)
			assert.Equal(t, "Ana", res.User.Name)
			assert.Equal(t, "ana@test.test", res.User.Email)
			assert.Equal(t, user.RoleStudent, res.User.Role)
			assert.True(t, res.User.IsActive)
		}
	})

	t.Run("tutor", func(t *testing.T) {
		body := marchallObj(t, user.NewUser{
			Name: "Tom", Email: "tom@test.test", Password: pwd, PasswordConfirm: pwd,
			Role: user.RoleTutor, Expertise: []string{"Go", " Go ", "React"},
		})
		req, rec := newRequest(http.MethodPost, "/api/auth/register", body)
		app.ServeHTTP(rec, req)

		if assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String()) {
			var res LoginResponse
			unmarshal(t, rec, &res)
			assert.Equal(t, user.RoleTutor, res.User.Role)
			assert.Equal(t, []string{"Go", "React"}, res.User.Expertise)
		}
	})

	runTests(t, app, []httpTest{
		{
			name:     "email taken",
			method:   http.MethodPost,
			path:     "/api/auth/register",
			body:     marchallObj(t, user.NewUser{Name: "Other", Email: "TAKEN@test.test", Password: pwd, PasswordConfirm: pwd, Role: user.RoleStudent}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"email": user.ErrEmailExists.Error()}),
		},
		{
			name:     "invalid data",
			method:   http.MethodPost,
			path:     "/api/auth/register",
			body:     marchallObj(t, user.NewUser{Name: "Bad", Email: "not-an-email", Password: pwd, PasswordConfirm: pwd, Role: "admin"}),
			wantCode: http.StatusBadRequest,
		},
	})
}

func TestLogin(t *testing.T) {
	app := setup(t)
	testutil.CreateUser(t, usrRepo, "Ana", "ana@test.test", pwd, user.RoleStudent)
	inactive := testutil.CreateUser(t, usrRepo, "Ben", "ben@test.test", pwd, user.RoleTutor, "Go")
	inactive.IsActive = false
	if _, err := usrRepo.UpdateUser(context.Background(), inactive); err != nil {
		t.Fatalf("deactivating user: %v", err)
	}

	t.Run("valid", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/api/auth/login", marchallObj(t, LoginRequest{Email: " ANA@test.test", Password: pwd}))
		app.ServeHTTP(rec, req)

		if assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String()) {
			var res LoginResponse
			unmarshal(t, rec, &res)
			assert.NotEmpty(t, res.Token)
			assert.Equal(t, "ana@test.test", res.User.Email)
		}
	})

	runTests(t, app, []httpTest{
		{
			name:     "wrong password",
			method:   http.MethodPost,
			path:     "/api/auth/login",
			body:     marchallObj(t, LoginRequest{Email: "ana@test.test", Password: "wrong"}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: user.ErrInvalidCredentials.Error()}),
		},
		{
			name:     "unknown email",
			method:   http.MethodPost,
			path:     "/api/auth/login",
			body:     marchallObj(t, LoginRequest{Email: "nobody@test.test", Password: pwd}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: user.ErrInvalidCredentials.Error()}),
		},
		{
			name:     "deactivated",
			method:   http.MethodPost,
			path:     "/api/auth/login",
			body:     marchallObj(t, LoginRequest{Email: "ben@test.test", Password: pwd}),
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{
			name:     "missing fields",
			method:   http.MethodPost,
			path:     "/api/auth/login",
			body:     marchallObj(t, LoginRequest{}),
			wantCode: http.StatusBadRequest,
		},
	})
}

func TestMe(t *testing.T) {
	app := setup(t)
	ana := testutil.CreateUser(t, usrRepo, "Ana", "ana@test.test", pwd, user.RoleStudent)

	t.Run("valid", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/auth/me", getToken(t, ana))
		app.ServeHTTP(rec, req)

		if assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String()) {
			var usr user.User
			unmarshal(t, rec, &usr)
			assert.Equal(t, ana.ID, usr.ID)
			assert.Equal(t, ana.Email, usr.Email)
		}
	})

	ghost := user.User{ID: "2c1b5c62-3d1f-4a7e-9f2a-2b0e8a4f9d11", Name: "Ghost", Role: user.RoleStudent}

	runTests(t, app, []httpTest{
		{
			name:     "missing token",
			path:     "/api/auth/me",
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name:     "invalid token",
			path:     "/api/auth/me",
			token:    "not.a.token",
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "unknown user",
			path:     "/api/auth/me",
			token:    getToken(t, ghost),
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "user not authenticated"}),
		},
	})
}

func TestTokenRefresh(t *testing.T) {
	app := setup(t)
	ana := testutil.CreateUser(t, usrRepo, "Ana", "ana@test.test", pwd, user.RoleStudent)

	t.Run("valid", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/api/auth/token-refresh", getToken(t, ana))
		app.ServeHTTP(rec, req)

		if assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String()) {
			var res TokenResponse
			unmarshal(t, rec, &res)
			assert.NotEmpty(t, res.Token)
		}
	})

	t.Run("refresh expired", func(t *testing.T) {
		oriat := time.Now().Add(-conf.Server.JWTRefreshExpirationDelta - time.Minute).Unix()
		token, err := GenerateToken(conf, GetUserClaims(conf, ana, oriat))
		if err != nil {
			t.Fatal(err)
		}
		req, rec := newAuthRequest(http.MethodPost, "/api/auth/token-refresh", token)
		app.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
		jsonBytesEqual(t, rec.Body.Bytes(), marchallObj(t, httpErr{Error: "refresh has expired"}))
	})

	runTests(t, app, []httpTest{
		{
			name:     "missing token",
			method:   http.MethodPost,
			path:     "/api/auth/token-refresh",
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
	})
}

var resetLinkRegex = regexp.MustCompile(`/password-reset/([^/\s"]+)/([^/\s"]+)`)

func TestPasswordReset(t *testing.T) {
	app := setup(t)
	ana := testutil.CreateUser(t, usrRepo, "Ana", "ana@test.test", pwd, user.RoleStudent)
	requested := marchallObj(t, SuccessResponse{Success: "If the email address supplied is associated with an active account, " +
		"an email will arrive in your inbox shortly with instructions to reset your password."})

	runTests(t, app, []httpTest{
		{
			name:     "unknown email",
			method:   http.MethodPost,
			path:     "/api/auth/password-reset",
			body:     marchallObj(t, PasswordResetRequest{Email: "nobody@test.test"}),
			wantCode: http.StatusOK,
			wantData: requested,
		},
		{
			name:     "invalid email",
			method:   http.MethodPost,
			path:     "/api/auth/password-reset",
			body:     marchallObj(t, PasswordResetRequest{Email: "nope"}),
			wantCode: http.StatusBadRequest,
		},
	})
	assert.Empty(t, emailsvc.SentMessages())

	req, rec := newRequest(http.MethodPost, "/api/auth/password-reset", marchallObj(t, PasswordResetRequest{Email: " ANA@test.test"}))
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	jsonBytesEqual(t, rec.Body.Bytes(), requested)

	sent := emailsvc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, ana.Email, sent[0].To[0].Address)
	link := resetLinkRegex.FindStringSubmatch(sent[0].TextContent)
	require.Len(t, link, 3, sent[0].TextContent)
	uid, token := link[1], link[2]
	newPwd := "Tr0ub4dor&3x"

	runTests(t, app, []httpTest{
		{
			name:     "confirm: weak password",
			method:   http.MethodPost,
			path:     "/api/auth/password-reset/confirm",
			body:     marchallObj(t, user.ResetUserPassword{UID: uid, Token: token, Password: "12345678", PasswordConfirm: "12345678"}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"password": "password cannot be entirely numeric"}),
		},
		{
			name:     "confirm: forged token",
			method:   http.MethodPost,
			path:     "/api/auth/password-reset/confirm",
			body:     marchallObj(t, user.ResetUserPassword{UID: uid, Token: "zz-c2lnbmF0dXJl", Password: newPwd, PasswordConfirm: newPwd}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: user.ErrInvalidResetLink.Error()}),
		},
		{
			name:     "confirm: valid",
			method:   http.MethodPost,
			path:     "/api/auth/password-reset/confirm",
			body:     marchallObj(t, user.ResetUserPassword{UID: uid, Token: token, Password: newPwd, PasswordConfirm: newPwd}),
			wantCode: http.StatusOK,
			wantData: marchallObj(t, SuccessResponse{Success: "Password has been reset with the new password."}),
		},
		{
			name:     "confirm: link reused",
			method:   http.MethodPost,
			path:     "/api/auth/password-reset/confirm",
			body:     marchallObj(t, user.ResetUserPassword{UID: uid, Token: token, Password: "An0ther-Horse", PasswordConfirm: "An0ther-Horse"}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: user.ErrInvalidResetLink.Error()}),
		},
		{
			name:     "login with old password",
			method:   http.MethodPost,
			path:     "/api/auth/login",
			body:     marchallObj(t, LoginRequest{Email: ana.Email, Password: pwd}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: user.ErrInvalidCredentials.Error()}),
		},
	})

	req, rec = newRequest(http.MethodPost, "/api/auth/login", marchallObj(t, LoginRequest{Email: ana.Email, Password: newPwd}))
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
