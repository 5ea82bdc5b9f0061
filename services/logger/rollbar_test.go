package logsvc

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/rollbar/rollbar-go"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/doubtbuddy/core/user"
)

func TestPersonOf(t *testing.T) {
	err := errors.New("boom")
	usr := user.User{ID: "u1", Name: "Ana", Email: "ana@test.test"}
	sess := user.Session{UserID: "u2", Name: "Tom", Role: user.RoleTutor}

	tests := []struct {
		name       string
		args       []interface{}
		wantPerson *rollbar.Person
		wantRest   []interface{}
	}{
		{name: "no user", args: []interface{}{err}, wantRest: []interface{}{err}},
		{name: "user", args: []interface{}{err, usr}, wantPerson: &rollbar.Person{Id: "u1", Username: "Ana", Email: "ana@test.test"}, wantRest: []interface{}{err}},
		{name: "session", args: []interface{}{sess, err}, wantPerson: &rollbar.Person{Id: "u2", Username: "Tom"}, wantRest: []interface{}{err}},
		{name: "anonymous session", args: []interface{}{user.Session{}}, wantRest: []interface{}{}},
		{name: "first one wins", args: []interface{}{sess, usr}, wantPerson: &rollbar.Person{Id: "u2", Username: "Tom"}, wantRest: []interface{}{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			person, rest := personOf(tc.args)
			assert.Equal(t, tc.wantPerson, person)
			assert.Equal(t, tc.wantRest, rest)
		})
	}
}

func TestRollbarLogger_Prepare(t *testing.T) {
	var l RollbarLogger
	err := errors.New("boom")

	args := l.prepare("failed", []interface{}{err})
	assert.Equal(t, []interface{}{"failed", err}, args)

	args = l.prepare("failed", []interface{}{err, user.Session{UserID: "u2", Name: "Tom", Role: user.RoleTutor}})
	if assert.Len(t, args, 3) {
		assert.Equal(t, "failed", args[0])
		assert.Equal(t, err, args[1])
		_, isCtx := args[2].(context.Context)
		assert.True(t, isCtx)
	}
}
