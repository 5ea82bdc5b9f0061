package testutil

import (
	"context"
	"log"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/trezcool/doubtbuddy/core"
	"github.com/trezcool/doubtbuddy/core/doubt"
	"github.com/trezcool/doubtbuddy/core/user"
)

// NewValidator returns a validator with every application validator registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	doubt.InitValidators(validate, translator)
	return validate, translator
}

// Logger discards everything but Fatal.
type Logger struct{}

var _ core.Logger = Logger{}

func (Logger) Debug(string, ...interface{}) {}
func (Logger) Info(string, ...interface{})  {}
func (Logger) Warn(string, ...interface{})  {}
func (Logger) Error(string, ...interface{}) {}
func (Logger) Fatal(msg string, _ ...interface{}) {
	log.Fatal(msg)
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, email, pwd string,
	role user.Role,
	expertise ...string,
) user.User {
	tstamp := time.Now().UTC()
	usr := user.User{
		Name:      name,
		Email:     email,
		Role:      role,
		Expertise: expertise,
		IsActive:  true,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if usr.Expertise == nil {
		usr.Expertise = []string{}
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

// CreateQuestion stores an unassigned question posted by student.
func CreateQuestion(
	t *testing.T,
	repo doubt.Repository,
	student user.User,
	title string,
	topic doubt.Topic,
	createdAt ...time.Time,
) doubt.Question {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	q, err := repo.CreateQuestion(context.Background(), doubt.Question{
		ID:          uuid.New().String(),
		Title:       title,
		Description: title + "?",
		Topic:       topic,
		Student:     doubt.Participant{ID: student.ID, Name: student.Name},
		Status:      doubt.StatusUnassigned,
		Version:     1,
		CreatedAt:   tstamp,
		UpdatedAt:   tstamp,
	})
	if err != nil {
		t.Fatalf("createQuestion() failed: %v", err)
	}
	return q
}
