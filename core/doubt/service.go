package doubt

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/doubtbuddy/core"
	"github.com/trezcool/doubtbuddy/core/user"
)

type (
	Repository interface {
		CreateQuestion(ctx context.Context, q Question) (Question, error)
		GetQuestion(ctx context.Context, id string) (Question, error)
		// QueryQuestions returns the questions matching filter, newest first unless orderings are given.
		QueryQuestions(ctx context.Context, filter QueryFilter, orderings ...core.DBOrdering) ([]Question, error)
		// UpdateQuestion stores q only if the stored version still equals expectedVersion.
		// It returns ErrConflict otherwise, and ErrNotFound if q does not exist.
		UpdateQuestion(ctx context.Context, q Question, expectedVersion int) (Question, error)
		CreateComment(ctx context.Context, c Comment) (Comment, error)
		// QueryComments returns the comments of a question, oldest first.
		QueryComments(ctx context.Context, questionID string) ([]Comment, error)
	}

	// UserFinder looks up the recipients of notification emails.
	UserFinder interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	Service struct {
		repo     Repository
		users    UserFinder
		mailSvc  core.EmailService
		logger   core.Logger
		validate *validator.Validate
		policy   CommentPolicy
		nowFunc  func() time.Time
	}
)

var orderingFields = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"title":      "title",
	"topic":      "topic",
	"status":     "status",
}

func NewService(
	conf *core.Config,
	repo Repository,
	users UserFinder,
	mailSvc core.EmailService,
	logger core.Logger,
	validate *validator.Validate,
) *Service {
	policy, err := ParseCommentPolicy(conf.CommentPolicy)
	if err != nil {
		logger.Warn(fmt.Sprintf("%v, falling back to %q", err, policy))
	}
	return &Service{
		repo:     repo,
		users:    users,
		mailSvc:  mailSvc,
		logger:   logger,
		validate: validate,
		policy:   policy,
		nowFunc:  time.Now,
	}
}

func (svc *Service) CommentPolicy() CommentPolicy { return svc.policy }

// Actions lists the events s may currently apply to q under the configured comment policy.
func (svc *Service) Actions(q Question, s user.Session) []Event {
	return Actions(q, s, svc.policy)
}

func (svc *Service) now() time.Time {
	return svc.nowFunc().UTC()
}

// Create posts a new unassigned question on behalf of a student.
func (svc *Service) Create(ctx context.Context, s user.Session, nq NewQuestion) (Question, error) {
	if !s.IsStudent() {
		return Question{}, forbidden("only students can post questions")
	}
	nq.Clean()
	if err := svc.validate.Struct(nq); err != nil {
		return Question{}, err
	}

	now := svc.now()
	q := Question{
		ID:          uuid.New().String(),
		Title:       nq.Title,
		Description: nq.Description,
		Topic:       nq.Topic,
		Student:     Participant{ID: s.UserID, Name: s.Name},
		Status:      StatusUnassigned,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	q, err := svc.repo.CreateQuestion(ctx, q)
	return q, errors.Wrap(err, "creating question")
}

func (svc *Service) Get(ctx context.Context, s user.Session, id string) (Question, error) {
	if !s.Authenticated() {
		return Question{}, forbidden("you must be logged in")
	}
	return svc.get(ctx, id)
}

func (svc *Service) get(ctx context.Context, id string) (Question, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Question{}, ErrNotFound
	}
	q, err := svc.repo.GetQuestion(ctx, id)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return Question{}, ErrNotFound
		}
		return Question{}, errors.Wrap(err, "getting question")
	}
	return q, nil
}

// QueryMine returns the questions posted by the acting student.
func (svc *Service) QueryMine(ctx context.Context, s user.Session, orderings ...core.DBOrdering) ([]Question, error) {
	if !s.IsStudent() {
		return nil, forbidden("only students have their own questions")
	}
	return svc.query(ctx, QueryFilter{StudentID: s.UserID}, orderings)
}

// QueryAssigned returns the questions the acting tutor currently holds.
func (svc *Service) QueryAssigned(ctx context.Context, s user.Session, orderings ...core.DBOrdering) ([]Question, error) {
	if !s.IsTutor() {
		return nil, forbidden("only tutors have assigned questions")
	}
	filter := QueryFilter{AssignedToID: s.UserID, Statuses: []Status{StatusAssigned, StatusResolved}}
	return svc.query(ctx, filter, orderings)
}

// QueryAvailable returns the unassigned pool, optionally narrowed to one topic.
func (svc *Service) QueryAvailable(ctx context.Context, s user.Session, topic Topic, orderings ...core.DBOrdering) ([]Question, error) {
	if !s.IsTutor() {
		return nil, forbidden("only tutors can browse available questions")
	}
	if topic != "" && !topic.IsValid() {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "topic", Error: topicText})
	}
	return svc.query(ctx, QueryFilter{Statuses: []Status{StatusUnassigned}, Topic: topic}, orderings)
}

func (svc *Service) query(ctx context.Context, filter QueryFilter, orderings []core.DBOrdering) ([]Question, error) {
	qs, err := svc.repo.QueryQuestions(ctx, filter, core.CleanOrderings(orderings, orderingFields)...)
	return qs, errors.Wrap(err, "querying questions")
}

// transition loads a question, applies fn and saves the result if nobody changed the question meanwhile.
func (svc *Service) transition(ctx context.Context, id string, fn func(Question) (Question, error)) (Question, Question, error) {
	orig, err := svc.get(ctx, id)
	if err != nil {
		return Question{}, Question{}, err
	}
	next, err := fn(orig)
	if err != nil {
		return Question{}, Question{}, err
	}
	saved, err := svc.repo.UpdateQuestion(ctx, next, orig.Version)
	if err != nil {
		if k := KindOf(err); k == KindConflict || k == KindNotFound {
			return Question{}, Question{}, err
		}
		return Question{}, Question{}, errors.Wrap(err, "updating question")
	}
	return orig, saved, nil
}

func (svc *Service) Claim(ctx context.Context, s user.Session, id string) (Question, error) {
	_, q, err := svc.transition(ctx, id, func(q Question) (Question, error) {
		return Claim(q, s, svc.now())
	})
	if err != nil {
		return Question{}, err
	}
	svc.notify(ctx, q.Student.ID, "Your doubt has been picked up", "question_claimed", q, s.Name, "")
	return q, nil
}

func (svc *Service) Resolve(ctx context.Context, s user.Session, id, resolution string) (Question, error) {
	_, q, err := svc.transition(ctx, id, func(q Question) (Question, error) {
		return Resolve(q, s, resolution, svc.now())
	})
	if err != nil {
		return Question{}, err
	}
	svc.notify(ctx, q.Student.ID, "Your doubt has been resolved", "question_resolved", q, s.Name, "")
	return q, nil
}

func (svc *Service) Reopen(ctx context.Context, s user.Session, id, reason string) (Question, error) {
	orig, q, err := svc.transition(ctx, id, func(q Question) (Question, error) {
		return Reopen(q, s, reason, svc.now())
	})
	if err != nil {
		return Question{}, err
	}
	if orig.AssignedTo != nil {
		svc.notify(ctx, orig.AssignedTo.ID, "A doubt you resolved was reopened", "question_reopened", q, s.Name, q.ReopenReason)
	}
	return q, nil
}

func (svc *Service) Rate(ctx context.Context, s user.Session, id string, score int, feedback string) (Question, error) {
	_, q, err := svc.transition(ctx, id, func(q Question) (Question, error) {
		return Rate(q, s, score, feedback, svc.now())
	})
	return q, err
}

// AddComment appends a comment to a question; the question itself is left as is.
func (svc *Service) AddComment(ctx context.Context, s user.Session, id, text string) (Comment, error) {
	q, err := svc.get(ctx, id)
	if err != nil {
		return Comment{}, err
	}
	c, err := AddComment(q, s, text, svc.policy, svc.now())
	if err != nil {
		return Comment{}, err
	}
	c.ID = uuid.New().String()
	c, err = svc.repo.CreateComment(ctx, c)
	return c, errors.Wrap(err, "creating comment")
}

func (svc *Service) QueryComments(ctx context.Context, s user.Session, id string) ([]Comment, error) {
	if !s.Authenticated() {
		return nil, forbidden("you must be logged in")
	}
	if _, err := svc.get(ctx, id); err != nil {
		return nil, err
	}
	cs, err := svc.repo.QueryComments(ctx, id)
	return cs, errors.Wrap(err, "querying comments")
}

func (svc *Service) TutorStats(ctx context.Context, s user.Session) (TutorStats, error) {
	if !s.IsTutor() {
		return TutorStats{}, forbidden("only tutors have stats")
	}
	qs, err := svc.repo.QueryQuestions(ctx, QueryFilter{TutorID: s.UserID})
	if err != nil {
		return TutorStats{}, errors.Wrap(err, "querying questions")
	}
	return ComputeTutorStats(qs, s.UserID, svc.now()), nil
}

type notificationData struct {
	RecipientName string
	ActorName     string
	Reason        string
	Question      Question
}

// notify emails a lifecycle change to userID. Failures are logged, never returned.
func (svc *Service) notify(ctx context.Context, userID, subject, tmpl string, q Question, actorName, reason string) {
	if svc.mailSvc == nil {
		return
	}
	usr, err := svc.users.GetByID(ctx, userID)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("finding %s recipient: %v", tmpl, err), errors.Wrap(err, "finding user"))
		return
	}
	if usr.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      subject,
		TemplateName: tmpl,
		TemplateData: notificationData{
			RecipientName: usr.Name,
			ActorName:     actorName,
			Reason:        reason,
			Question:      q,
		},
	})
}
