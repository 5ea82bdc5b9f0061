package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/doubtbuddy/core"
	"github.com/trezcool/doubtbuddy/core/doubt"
)

type questionRow struct {
	ID             string      `db:"id"`
	Title          string      `db:"title"`
	Description    string      `db:"description"`
	Topic          string      `db:"topic"`
	StudentID      string      `db:"student_id"`
	StudentName    string      `db:"student_name"`
	AssignedToID   null.String `db:"assigned_to_id"`
	AssignedToName null.String `db:"assigned_to_name"`
	Status         string      `db:"status"`
	Resolution     null.String `db:"resolution"`
	ReopenReason   null.String `db:"reopen_reason"`
	RatingScore    null.Int    `db:"rating_score"`
	RatingFeedback null.String `db:"rating_feedback"`
	RatedTutorID   null.String `db:"rated_tutor_id"`
	RatedAt        null.Time   `db:"rated_at"`
	Version        int         `db:"version"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
	AssignedAt     null.Time   `db:"assigned_at"`
	ResolvedAt     null.Time   `db:"resolved_at"`
}

func nullTimePtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

func timePtrNull(t *time.Time) null.Time {
	if t == nil {
		return null.Time{}
	}
	return null.TimeFrom(t.UTC())
}

func (r questionRow) toQuestion() doubt.Question {
	q := doubt.Question{
		ID:            r.ID,
		Title:         r.Title,
		Description:   r.Description,
		Topic:         doubt.Topic(r.Topic),
		Student:       doubt.Participant{ID: r.StudentID, Name: r.StudentName},
		Status:        doubt.Status(r.Status),
		Resolution:    r.Resolution.String,
		ReopenReason:  r.ReopenReason.String,
		ReopenHistory: []doubt.Reopening{},
		Version:       r.Version,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
		AssignedAt:    nullTimePtr(r.AssignedAt),
		ResolvedAt:    nullTimePtr(r.ResolvedAt),
	}
	if r.AssignedToID.Valid {
		q.AssignedTo = &doubt.Participant{ID: r.AssignedToID.String, Name: r.AssignedToName.String}
	}
	if r.RatingScore.Valid {
		q.Rating = &doubt.Rating{
			Score:    r.RatingScore.Int,
			Feedback: r.RatingFeedback.String,
			TutorID:  r.RatedTutorID.String,
			RatedAt:  r.RatedAt.Time.UTC(),
		}
	}
	return q
}

type reopeningRow struct {
	QuestionID         string    `db:"question_id"`
	Reason             string    `db:"reason"`
	PreviousTutorID    string    `db:"previous_tutor_id"`
	PreviousTutorName  string    `db:"previous_tutor_name"`
	PreviousResolution string    `db:"previous_resolution"`
	PreviousResolvedAt null.Time `db:"previous_resolved_at"`
	ReopenedAt         time.Time `db:"reopened_at"`
}

type commentRow struct {
	ID         string    `db:"id"`
	QuestionID string    `db:"question_id"`
	AuthorID   string    `db:"author_id"`
	AuthorName string    `db:"author_name"`
	Text       string    `db:"text"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r commentRow) toComment() doubt.Comment {
	return doubt.Comment{
		ID:         r.ID,
		QuestionID: r.QuestionID,
		Author:     doubt.Participant{ID: r.AuthorID, Name: r.AuthorName},
		Text:       r.Text,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

const selectQuestions = `
	SELECT q.id, q.title, q.description, q.topic, q.student_id, s.name AS student_name,
		q.assigned_to_id, t.name AS assigned_to_name, q.status, q.resolution, q.reopen_reason,
		q.rating_score, q.rating_feedback, q.rated_tutor_id, q.rated_at, q.version,
		q.created_at, q.updated_at, q.assigned_at, q.resolved_at
	FROM questions q
	JOIN users s ON s.id = q.student_id
	LEFT JOIN users t ON t.id = q.assigned_to_id`

type questionRepository struct {
	db core.DB
}

var _ doubt.Repository = (*questionRepository)(nil)

func NewQuestionRepository(db core.DB) doubt.Repository {
	return &questionRepository{db: db}
}

func (repo *questionRepository) CreateQuestion(ctx context.Context, q doubt.Question) (doubt.Question, error) {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	stmt := `
		INSERT INTO questions (id, title, description, topic, student_id, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := repo.db.ExecContext(ctx, stmt,
		q.ID, q.Title, q.Description, string(q.Topic), q.Student.ID, string(q.Status),
		q.Version, q.CreatedAt.UTC(), q.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return doubt.Question{}, doubt.ErrConflict
		}
		return doubt.Question{}, wrap(err, "inserting question")
	}
	return repo.GetQuestion(ctx, q.ID)
}

func (repo *questionRepository) GetQuestion(ctx context.Context, id string) (doubt.Question, error) {
	return getQuestion(ctx, repo.db, id)
}

func getQuestion(ctx context.Context, db core.DBExecutor, id string) (doubt.Question, error) {
	if _, err := uuid.Parse(id); err != nil {
		return doubt.Question{}, doubt.ErrNotFound
	}

	var row questionRow
	if err := db.GetContext(ctx, &row, selectQuestions+` WHERE q.id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return doubt.Question{}, doubt.ErrNotFound
		}
		return doubt.Question{}, wrap(err, "selecting question")
	}

	qs := []doubt.Question{row.toQuestion()}
	if err := loadReopenHistory(ctx, db, qs); err != nil {
		return doubt.Question{}, err
	}
	return qs[0], nil
}

func (repo *questionRepository) QueryQuestions(
	ctx context.Context,
	filter doubt.QueryFilter,
	orderings ...core.DBOrdering,
) ([]doubt.Question, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.StudentID != "" {
		conds = append(conds, "q.student_id = "+arg(filter.StudentID))
	}
	if filter.AssignedToID != "" {
		conds = append(conds, "q.assigned_to_id = "+arg(filter.AssignedToID))
	}
	if filter.TutorID != "" {
		tutor := arg(filter.TutorID)
		conds = append(conds, fmt.Sprintf(`(q.assigned_to_id = %[1]s OR EXISTS (
			SELECT 1 FROM question_reopenings r WHERE r.question_id = q.id AND r.previous_tutor_id = %[1]s))`, tutor))
	}
	if filter.Topic != "" {
		conds = append(conds, "q.topic = "+arg(string(filter.Topic)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		conds = append(conds, "q.status = ANY("+arg(pq.Array(statuses))+")")
	}

	stmt := selectQuestions
	if len(conds) > 0 {
		stmt += " WHERE " + strings.Join(conds, " AND ")
	}
	stmt += " ORDER BY " + orderBy(orderings)

	var rows []questionRow
	if err := repo.db.SelectContext(ctx, &rows, stmt, args...); err != nil {
		return nil, wrap(err, "selecting questions")
	}

	qs := make([]doubt.Question, 0, len(rows))
	for _, r := range rows {
		qs = append(qs, r.toQuestion())
	}
	if err := loadReopenHistory(ctx, repo.db, qs); err != nil {
		return nil, err
	}
	return qs, nil
}

// orderBy expects orderings already cleaned against the allowed columns.
func orderBy(orderings []core.DBOrdering) string {
	if len(orderings) == 0 {
		return "q.created_at DESC, q.id"
	}
	clauses := make([]string, 0, len(orderings)+1)
	for _, ord := range orderings {
		clauses = append(clauses, "q."+ord.String())
	}
	clauses = append(clauses, "q.id")
	return strings.Join(clauses, ", ")
}

func loadReopenHistory(ctx context.Context, db core.DBExecutor, qs []doubt.Question) error {
	if len(qs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(qs))
	idx := make(map[string]int, len(qs))
	for i, q := range qs {
		ids = append(ids, q.ID)
		idx[q.ID] = i
	}

	stmt := `
		SELECT r.question_id, r.reason, r.previous_tutor_id, u.name AS previous_tutor_name,
			r.previous_resolution, r.previous_resolved_at, r.reopened_at
		FROM question_reopenings r
		JOIN users u ON u.id = r.previous_tutor_id
		WHERE r.question_id::text = ANY($1)
		ORDER BY r.reopened_at, r.id`
	var rows []reopeningRow
	if err := db.SelectContext(ctx, &rows, stmt, pq.Array(ids)); err != nil {
		return wrap(err, "selecting reopenings")
	}
	for _, r := range rows {
		i := idx[r.QuestionID]
		qs[i].ReopenHistory = append(qs[i].ReopenHistory, doubt.Reopening{
			Reason:             r.Reason,
			PreviousTutor:      doubt.Participant{ID: r.PreviousTutorID, Name: r.PreviousTutorName},
			PreviousResolution: r.PreviousResolution,
			PreviousResolvedAt: nullTimePtr(r.PreviousResolvedAt),
			ReopenedAt:         r.ReopenedAt.UTC(),
		})
	}
	return nil
}

// UpdateQuestion saves the lifecycle fields of q in one transaction, guarded by the stored version.
func (repo *questionRepository) UpdateQuestion(ctx context.Context, q doubt.Question, expectedVersion int) (doubt.Question, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return doubt.Question{}, wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var (
		assignedToID   null.String
		ratingScore    null.Int
		ratingFeedback null.String
		ratedTutorID   null.String
		ratedAt        null.Time
		resolution     = null.NewString(q.Resolution, q.Resolution != "")
		reopenReason   = null.NewString(q.ReopenReason, q.ReopenReason != "")
	)
	if q.AssignedTo != nil {
		assignedToID = null.StringFrom(q.AssignedTo.ID)
	}
	if q.Rating != nil {
		ratingScore = null.IntFrom(q.Rating.Score)
		ratingFeedback = null.StringFrom(q.Rating.Feedback)
		ratedTutorID = null.NewString(q.Rating.TutorID, q.Rating.TutorID != "")
		ratedAt = null.TimeFrom(q.Rating.RatedAt.UTC())
	}

	stmt := `
		UPDATE questions
		SET assigned_to_id = $3, status = $4, resolution = $5, reopen_reason = $6,
			rating_score = $7, rating_feedback = $8, rated_tutor_id = $9, rated_at = $10, version = $11,
			updated_at = $12, assigned_at = $13, resolved_at = $14
		WHERE id = $1 AND version = $2`
	res, err := tx.ExecContext(ctx, stmt,
		q.ID, expectedVersion, assignedToID, string(q.Status), resolution, reopenReason,
		ratingScore, ratingFeedback, ratedTutorID, ratedAt, q.Version,
		q.UpdatedAt.UTC(), timePtrNull(q.AssignedAt), timePtrNull(q.ResolvedAt),
	)
	if err != nil {
		return doubt.Question{}, wrap(err, "updating question")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return doubt.Question{}, wrap(err, "updating question")
	}
	if n == 0 {
		var exists bool
		if err = tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM questions WHERE id = $1)`, q.ID); err != nil {
			return doubt.Question{}, wrap(err, "selecting question")
		}
		if !exists {
			return doubt.Question{}, doubt.ErrNotFound
		}
		return doubt.Question{}, doubt.ErrConflict
	}

	var stored int
	if err = tx.GetContext(ctx, &stored, `SELECT COUNT(*) FROM question_reopenings WHERE question_id = $1`, q.ID); err != nil {
		return doubt.Question{}, wrap(err, "counting reopenings")
	}
	for i := stored; i < len(q.ReopenHistory); i++ {
		r := q.ReopenHistory[i]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO question_reopenings (question_id, reason, previous_tutor_id, previous_resolution, previous_resolved_at, reopened_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			q.ID, r.Reason, r.PreviousTutor.ID, r.PreviousResolution, timePtrNull(r.PreviousResolvedAt), r.ReopenedAt.UTC(),
		)
		if err != nil {
			return doubt.Question{}, wrap(err, "inserting reopening")
		}
	}

	saved, err := getQuestion(ctx, tx, q.ID)
	if err != nil {
		return doubt.Question{}, err
	}
	if err = tx.Commit(); err != nil {
		return doubt.Question{}, wrap(err, "committing transaction")
	}
	return saved, nil
}

func (repo *questionRepository) CreateComment(ctx context.Context, c doubt.Comment) (doubt.Comment, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	stmt := `
		INSERT INTO question_comments (id, question_id, author_id, text, created_at)
		SELECT $1::uuid, q.id, $3::uuid, $4::text, $5::timestamptz FROM questions q WHERE q.id = $2`
	res, err := repo.db.ExecContext(ctx, stmt, c.ID, c.QuestionID, c.Author.ID, c.Text, c.CreatedAt.UTC())
	if err != nil {
		return doubt.Comment{}, wrap(err, "inserting comment")
	}
	if n, err := res.RowsAffected(); err != nil {
		return doubt.Comment{}, wrap(err, "inserting comment")
	} else if n == 0 {
		return doubt.Comment{}, doubt.ErrNotFound
	}
	return c, nil
}

func (repo *questionRepository) QueryComments(ctx context.Context, questionID string) ([]doubt.Comment, error) {
	if _, err := uuid.Parse(questionID); err != nil {
		return []doubt.Comment{}, nil
	}
	stmt := `
		SELECT c.id, c.question_id, c.author_id, u.name AS author_name, c.text, c.created_at
		FROM question_comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.question_id = $1
		ORDER BY c.created_at, c.id`
	var rows []commentRow
	if err := repo.db.SelectContext(ctx, &rows, stmt, questionID); err != nil {
		return nil, wrap(err, "selecting comments")
	}
	cs := make([]doubt.Comment, 0, len(rows))
	for _, r := range rows {
		cs = append(cs, r.toComment())
	}
	return cs, nil
}
