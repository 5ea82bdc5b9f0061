package sqlxrepos_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/doubtbuddy/core/doubt"
	"github.com/trezcool/doubtbuddy/core/user"
	"github.com/trezcool/doubtbuddy/storage/database"
	sqlxrepos "github.com/trezcool/doubtbuddy/storage/database/sqlx"
	testutil "github.com/trezcool/doubtbuddy/tests"
)

// openTestDB connects to the Postgres database named by TEST_DATABASE_URL and migrates it.
// Rows are keyed by fresh UUIDs and emails, so tests share the database without cleanup.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(db.DB))
	return db
}

type sqlFixture struct {
	repo    doubt.Repository
	student user.User
	tutorA  user.User
	tutorB  user.User
	now     time.Time
}

func newSQLFixture(t *testing.T) sqlFixture {
	db := openTestDB(t)
	usrRepo := sqlxrepos.NewUserRepository(db)
	run := uuid.New().String()[:8]
	return sqlFixture{
		repo:    sqlxrepos.NewQuestionRepository(db),
		student: testutil.CreateUser(t, usrRepo, "Sam", "sam-"+run+"@test.test", "c0rrect-Horse", user.RoleStudent),
		tutorA:  testutil.CreateUser(t, usrRepo, "Ada", "ada-"+run+"@test.test", "c0rrect-Horse", user.RoleTutor, "Go"),
		tutorB:  testutil.CreateUser(t, usrRepo, "Bob", "bob-"+run+"@test.test", "c0rrect-Horse", user.RoleTutor, "Go"),
		now:     time.Now().UTC().Truncate(time.Microsecond),
	}
}

// apply runs a transition on the stored question and saves it against the version it read.
func (f sqlFixture) apply(t *testing.T, id string, fn func(doubt.Question) (doubt.Question, error)) doubt.Question {
	t.Helper()
	ctx := context.Background()
	orig, err := f.repo.GetQuestion(ctx, id)
	require.NoError(t, err)
	next, err := fn(orig)
	require.NoError(t, err)
	saved, err := f.repo.UpdateQuestion(ctx, next, orig.Version)
	require.NoError(t, err)
	return saved
}

func TestQuestionRepository_UpdateQuestion_CompareAndSwap(t *testing.T) {
	f := newSQLFixture(t)
	ctx := context.Background()
	q := testutil.CreateQuestion(t, f.repo, f.student, "Channels", doubt.TopicDevOps)

	byA, err := doubt.Claim(q, f.tutorA.Session(), f.now)
	require.NoError(t, err)
	byB, err := doubt.Claim(q, f.tutorB.Session(), f.now)
	require.NoError(t, err)

	saved, err := f.repo.UpdateQuestion(ctx, byA, q.Version)
	require.NoError(t, err)
	assert.Equal(t, doubt.StatusAssigned, saved.Status)
	assert.Equal(t, 2, saved.Version)
	assert.Equal(t, f.tutorA.ID, saved.AssignedTo.ID)
	assert.Equal(t, "Ada", saved.AssignedTo.Name)

	_, err = f.repo.UpdateQuestion(ctx, byB, q.Version)
	assert.Equal(t, doubt.ErrConflict, err)

	got, err := f.repo.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, f.tutorA.ID, got.AssignedTo.ID)

	unknown := byA
	unknown.ID = uuid.New().String()
	_, err = f.repo.UpdateQuestion(ctx, unknown, 1)
	assert.Equal(t, doubt.ErrNotFound, err)
}

func TestQuestionRepository_UpdateQuestion_ConcurrentClaims(t *testing.T) {
	f := newSQLFixture(t)
	ctx := context.Background()
	q := testutil.CreateQuestion(t, f.repo, f.student, "Mutexes", doubt.TopicDevOps)

	const claimants = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < claimants; i++ {
		tutor := f.tutorA
		if i%2 == 1 {
			tutor = f.tutorB
		}
		wg.Add(1)
		go func(s user.Session) {
			defer wg.Done()
			next, err := doubt.Claim(q, s, f.now)
			if err != nil {
				return
			}
			_, err = f.repo.UpdateQuestion(ctx, next, q.Version)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case doubt.KindOf(err) == doubt.KindConflict:
				conflicts++
			}
		}(tutor.Session())
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, claimants-1, conflicts)

	got, err := f.repo.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
}

func TestQuestionRepository_ReopenHistory(t *testing.T) {
	f := newSQLFixture(t)
	ctx := context.Background()
	q := testutil.CreateQuestion(t, f.repo, f.student, "Generics", doubt.TopicDevOps)

	f.apply(t, q.ID, func(q doubt.Question) (doubt.Question, error) { return doubt.Claim(q, f.tutorA.Session(), f.now) })
	f.apply(t, q.ID, func(q doubt.Question) (doubt.Question, error) {
		return doubt.Resolve(q, f.tutorA.Session(), "Use type parameters", f.now)
	})
	f.apply(t, q.ID, func(q doubt.Question) (doubt.Question, error) {
		return doubt.Rate(q, f.student.Session(), 2, "too short", f.now)
	})
	f.apply(t, q.ID, func(q doubt.Question) (doubt.Question, error) {
		return doubt.Reopen(q, f.student.Session(), "no example", f.now.Add(time.Minute))
	})
	saved := f.apply(t, q.ID, func(q doubt.Question) (doubt.Question, error) {
		return doubt.Claim(q, f.tutorB.Session(), f.now.Add(2*time.Minute))
	})

	assert.Equal(t, doubt.StatusAssigned, saved.Status)
	assert.Equal(t, f.tutorB.ID, saved.AssignedTo.ID)
	assert.Equal(t, "no example", saved.ReopenReason)
	if assert.Len(t, saved.ReopenHistory, 1) {
		r := saved.ReopenHistory[0]
		assert.Equal(t, f.tutorA.ID, r.PreviousTutor.ID)
		assert.Equal(t, "Ada", r.PreviousTutor.Name)
		assert.Equal(t, "Use type parameters", r.PreviousResolution)
		if assert.NotNil(t, r.PreviousResolvedAt) {
			assert.True(t, f.now.Equal(*r.PreviousResolvedAt))
		}
	}
	if assert.NotNil(t, saved.Rating) {
		assert.Equal(t, 2, saved.Rating.Score)
		assert.Equal(t, f.tutorA.ID, saved.Rating.TutorID)
	}

	// a later save leaves the stored history alone
	saved = f.apply(t, q.ID, func(q doubt.Question) (doubt.Question, error) {
		return doubt.Resolve(q, f.tutorB.Session(), "Here is an example", f.now.Add(3*time.Minute))
	})
	assert.Len(t, saved.ReopenHistory, 1)

	byTutor, err := f.repo.QueryQuestions(ctx, doubt.QueryFilter{TutorID: f.tutorA.ID})
	require.NoError(t, err)
	if assert.Len(t, byTutor, 1) {
		assert.Equal(t, q.ID, byTutor[0].ID)
	}
	byAssignee, err := f.repo.QueryQuestions(ctx, doubt.QueryFilter{AssignedToID: f.tutorA.ID})
	require.NoError(t, err)
	assert.Empty(t, byAssignee)
}

func TestQuestionRepository_AssignmentConstraint(t *testing.T) {
	f := newSQLFixture(t)
	ctx := context.Background()
	q := testutil.CreateQuestion(t, f.repo, f.student, "Interfaces", doubt.TopicDevOps)

	broken := q
	broken.Status = doubt.StatusAssigned
	broken.Version = q.Version + 1
	_, err := f.repo.UpdateQuestion(ctx, broken, q.Version)
	require.Error(t, err)
	assert.NotEqual(t, doubt.KindConflict, doubt.KindOf(err))

	got, err := f.repo.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, doubt.StatusUnassigned, got.Status)
	assert.Equal(t, q.Version, got.Version)
}
