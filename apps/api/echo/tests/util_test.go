package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	. "github.com/trezcool/doubtbuddy/apps/api/echo"
	"github.com/trezcool/doubtbuddy/core"
	"github.com/trezcool/doubtbuddy/core/doubt"
	"github.com/trezcool/doubtbuddy/core/user"
	emailsvc "github.com/trezcool/doubtbuddy/services/email"
	"github.com/trezcool/doubtbuddy/services/markup"
	inmemdb "github.com/trezcool/doubtbuddy/storage/database/inmem"
	testutil "github.com/trezcool/doubtbuddy/tests"
)

var (
	conf = core.NewTestConfig()

	usrRepo      user.Repository
	questionRepo doubt.Repository

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

func setup(t *testing.T) *Server {
	// set up DB & repos
	db := inmemdb.Open()
	usrRepo = inmemdb.NewUserRepository(db)
	questionRepo = inmemdb.NewQuestionRepository(db)

	// set up services
	logger := testutil.Logger{}
	validate, translator := testutil.NewValidator()
	user.LoadCommonPasswords(logger)
	emailsvc.ResetSentMessages()
	t.Cleanup(emailsvc.ResetSentMessages)

	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	usrSvc := user.NewService(conf, usrRepo, mailSvc, validate)
	questionSvc := doubt.NewService(conf, questionRepo, usrSvc, mailSvc, logger, validate)

	// set up server
	return NewServer(conf, logger, usrSvc, questionSvc, markup.NewRenderer(), validate, translator)
}

type httpErr struct {
	Error string `json:"error"`
}

type kindErr struct {
	Error string     `json:"error"`
	Kind  doubt.Kind `json:"kind"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, usr user.User) string {
	token, err := GenerateToken(conf, GetUserClaims(conf, usr))
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList(): %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("json.Unmarshal() failed! body %s; err %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) bool {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		t.Errorf("jsonBytesEqual() failed to unmarshal %s: %v", b1, err)
		return false
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		t.Errorf("jsonBytesEqual() failed to unmarshal %s: %v", b2, err)
		return false
	}
	return assert.Equal(t, j2, j1)
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
	}
	if tt.wantData != nil {
		jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	}
}

func runTests(t *testing.T, app *Server, tests []httpTest) {
	for _, tt := range tests {
		if tt.method == "" {
			tt.method = http.MethodGet
		}
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
