package tests

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/pkg/errors"
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

// lostRepository behaves like a question store whose database was shut down.
type lostRepository struct {
	doubt.Repository
}

func (lostRepository) GetQuestion(context.Context, string) (doubt.Question, error) {
	return doubt.Question{}, errors.Wrap(core.NewShutdownError("terminating connection due to administrator command"), "selecting question")
}

func TestShutdownOnLostDatabase(t *testing.T) {
	db := inmemdb.Open()
	users := inmemdb.NewUserRepository(db)
	logger := testutil.Logger{}
	validate, translator := testutil.NewValidator()

	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	usrSvc := user.NewService(conf, users, mailSvc, validate)
	questionSvc := doubt.NewService(conf, lostRepository{inmemdb.NewQuestionRepository(db)}, usrSvc, mailSvc, logger, validate)
	app := NewServer(conf, logger, usrSvc, questionSvc, markup.NewRenderer(), validate, translator)

	ana := testutil.CreateUser(t, users, "Ana", "ana@test.test", pwd, user.RoleStudent)
	req, rec := newAuthRequest(http.MethodGet, questionPath(unknownID), getToken(t, ana))
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	select {
	case <-app.ShutdownSignal():
	case <-time.After(time.Second):
		t.Fatal("no shutdown signalled")
	}
}
