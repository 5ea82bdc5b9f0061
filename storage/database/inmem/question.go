package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/doubtbuddy/core"
	"github.com/trezcool/doubtbuddy/core/doubt"
)

type questionRepository struct {
	questions *questionTable
	comments  *commentTable
}

var _ doubt.Repository = (*questionRepository)(nil)

func NewQuestionRepository(db *DB) doubt.Repository {
	return &questionRepository{questions: db.question, comments: db.comment}
}

func copyQuestion(q doubt.Question) doubt.Question {
	if q.AssignedTo != nil {
		p := *q.AssignedTo
		q.AssignedTo = &p
	}
	if q.Rating != nil {
		r := *q.Rating
		q.Rating = &r
	}
	if q.AssignedAt != nil {
		t := *q.AssignedAt
		q.AssignedAt = &t
	}
	if q.ResolvedAt != nil {
		t := *q.ResolvedAt
		q.ResolvedAt = &t
	}
	if q.ReopenHistory != nil {
		q.ReopenHistory = append([]doubt.Reopening(nil), q.ReopenHistory...)
	}
	return q
}

func (repo *questionRepository) CreateQuestion(_ context.Context, q doubt.Question) (doubt.Question, error) {
	repo.questions.Lock()
	defer repo.questions.Unlock()

	if _, ok := repo.questions.table[q.ID]; ok {
		return doubt.Question{}, doubt.ErrConflict
	}
	q = copyQuestion(q)
	repo.questions.table[q.ID] = &q
	return copyQuestion(q), nil
}

func (repo *questionRepository) GetQuestion(_ context.Context, id string) (doubt.Question, error) {
	repo.questions.RLock()
	defer repo.questions.RUnlock()

	if q, ok := repo.questions.table[id]; ok {
		return copyQuestion(*q), nil
	}
	return doubt.Question{}, doubt.ErrNotFound
}

func (repo *questionRepository) QueryQuestions(
	_ context.Context,
	filter doubt.QueryFilter,
	orderings ...core.DBOrdering,
) ([]doubt.Question, error) {
	repo.questions.RLock()
	defer repo.questions.RUnlock()

	qs := make([]doubt.Question, 0)
	for _, q := range repo.questions.table {
		if filter.Match(*q) {
			qs = append(qs, copyQuestion(*q))
		}
	}
	sortQuestions(qs, orderings)
	return qs, nil
}

// UpdateQuestion is a compare-and-swap on the question version.
func (repo *questionRepository) UpdateQuestion(_ context.Context, q doubt.Question, expectedVersion int) (doubt.Question, error) {
	repo.questions.Lock()
	defer repo.questions.Unlock()

	stored, ok := repo.questions.table[q.ID]
	if !ok {
		return doubt.Question{}, doubt.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return doubt.Question{}, doubt.ErrConflict
	}
	q = copyQuestion(q)
	repo.questions.table[q.ID] = &q
	return copyQuestion(q), nil
}

func (repo *questionRepository) CreateComment(_ context.Context, c doubt.Comment) (doubt.Comment, error) {
	repo.questions.RLock()
	_, ok := repo.questions.table[c.QuestionID]
	repo.questions.RUnlock()
	if !ok {
		return doubt.Comment{}, doubt.ErrNotFound
	}

	repo.comments.Lock()
	defer repo.comments.Unlock()
	repo.comments.table[c.QuestionID] = append(repo.comments.table[c.QuestionID], c)
	return c, nil
}

func (repo *questionRepository) QueryComments(_ context.Context, questionID string) ([]doubt.Comment, error) {
	repo.comments.RLock()
	defer repo.comments.RUnlock()

	cs := append(make([]doubt.Comment, 0, len(repo.comments.table[questionID])), repo.comments.table[questionID]...)
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].CreatedAt.Before(cs[j].CreatedAt) })
	return cs, nil
}

// sortQuestions orders qs by orderings, newest first by default.
func sortQuestions(qs []doubt.Question, orderings []core.DBOrdering) {
	if len(orderings) == 0 {
		orderings = []core.DBOrdering{{Field: "created_at", Ascending: false}}
	}
	sort.SliceStable(qs, func(i, j int) bool {
		for _, ord := range orderings {
			c := compareQuestions(qs[i], qs[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return qs[i].ID < qs[j].ID
	})
}

func compareQuestions(a, b doubt.Question, field string) int {
	switch field {
	case "created_at":
		return compareTimes(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	case "updated_at":
		return compareTimes(a.UpdatedAt.UnixNano(), b.UpdatedAt.UnixNano())
	case "title":
		return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
	case "topic":
		return strings.Compare(string(a.Topic), string(b.Topic))
	case "status":
		return strings.Compare(string(a.Status), string(b.Status))
	}
	return 0
}

func compareTimes(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
