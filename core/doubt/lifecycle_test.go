package doubt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/doubtbuddy/core/user"
)

var (
	now = time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC)

	student      = user.Session{UserID: "s1", Name: "Sam Student", Role: user.RoleStudent}
	otherStudent = user.Session{UserID: "s2", Name: "Sue Student", Role: user.RoleStudent}
	tutorA       = user.Session{UserID: "t1", Name: "Ada Tutor", Role: user.RoleTutor}
	tutorB       = user.Session{UserID: "t2", Name: "Bob Tutor", Role: user.RoleTutor}
	anonymous    = user.Session{}
)

func newQuestion() Question {
	return Question{
		ID:          "q1",
		Title:       "Two sum",
		Description: "How do I solve two sum in O(n)?",
		Topic:       TopicDataStructures,
		Student:     Participant{ID: student.UserID, Name: student.Name},
		Status:      StatusUnassigned,
		Version:     1,
		CreatedAt:   now.Add(-time.Hour),
		UpdatedAt:   now.Add(-time.Hour),
	}
}

func assignedQuestion(t *testing.T) Question {
	q, err := Claim(newQuestion(), tutorA, now)
	require.NoError(t, err)
	return q
}

func resolvedQuestion(t *testing.T) Question {
	q, err := Resolve(assignedQuestion(t), tutorA, "Use a hash map", now)
	require.NoError(t, err)
	return q
}

// assignmentConsistent checks that AssignedTo is set iff the question is assigned or resolved.
func assignmentConsistent(t *testing.T, q Question) {
	t.Helper()
	held := q.Status == StatusAssigned || q.Status == StatusResolved
	assert.Equal(t, held, q.AssignedTo != nil, "status %s with assignedTo %v", q.Status, q.AssignedTo)
}

func TestNext(t *testing.T) {
	tests := []struct {
		from   Status
		ev     Event
		wantTo Status
		wantOk bool
	}{
		{StatusUnassigned, EventClaim, StatusAssigned, true},
		{StatusAssigned, EventResolve, StatusResolved, true},
		{StatusResolved, EventReopen, StatusUnassigned, true},
		{StatusResolved, EventRate, StatusResolved, true},
		{StatusClosed, EventComment, StatusClosed, true},
		{StatusAssigned, EventComment, StatusAssigned, true},
		{StatusUnassigned, EventResolve, "", false},
		{StatusAssigned, EventClaim, "", false},
		{StatusResolved, EventClaim, "", false},
		{StatusClosed, EventReopen, "", false},
		{StatusClosed, EventClaim, "", false},
	}
	for _, tc := range tests {
		t.Run(string(tc.from)+"/"+string(tc.ev), func(t *testing.T) {
			to, ok := Next(tc.from, tc.ev)
			assert.Equal(t, tc.wantOk, ok)
			assert.Equal(t, tc.wantTo, to)
		})
	}
}

func TestClaim(t *testing.T) {
	resolved := resolvedQuestion(t)
	closed := newQuestion()
	closed.Status = StatusClosed

	tests := []struct {
		name     string
		q        Question
		s        user.Session
		wantKind Kind
	}{
		{name: "tutor claims unassigned", q: newQuestion(), s: tutorA},
		{name: "student cannot claim", q: newQuestion(), s: student, wantKind: KindForbidden},
		{name: "anonymous cannot claim", q: newQuestion(), s: anonymous, wantKind: KindForbidden},
		{name: "assigned", q: assignedQuestion(t), s: tutorB, wantKind: KindInvalidState},
		{name: "assigned, same tutor", q: assignedQuestion(t), s: tutorA, wantKind: KindInvalidState},
		{name: "resolved", q: resolved, s: tutorB, wantKind: KindInvalidState},
		{name: "closed", q: closed, s: tutorA, wantKind: KindInvalidState},
		{name: "student on assigned question sees state first", q: assignedQuestion(t), s: student, wantKind: KindInvalidState},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Claim(tc.q, tc.s, now)
			if tc.wantKind != "" {
				assert.Equal(t, tc.wantKind, KindOf(err))
				assert.Equal(t, Question{}, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusAssigned, got.Status)
			assert.Equal(t, &Participant{ID: tc.s.UserID, Name: tc.s.Name}, got.AssignedTo)
			assert.Equal(t, tc.q.Version+1, got.Version)
			assert.Equal(t, now, got.UpdatedAt)
			if assert.NotNil(t, got.AssignedAt) {
				assert.Equal(t, now, *got.AssignedAt)
			}
			assignmentConsistent(t, got)
		})
	}
}

func TestClaim_DoesNotMutateInput(t *testing.T) {
	q := newQuestion()
	_, err := Claim(q, tutorA, now)
	require.NoError(t, err)
	assert.Equal(t, newQuestion(), q)
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		q          Question
		s          user.Session
		resolution string
		wantKind   Kind
	}{
		{name: "assigned tutor resolves", q: assignedQuestion(t), s: tutorA, resolution: "  Use a hash map "},
		{name: "empty resolution", q: assignedQuestion(t), s: tutorA, resolution: "  ", wantKind: KindValidationError},
		{name: "other tutor", q: assignedQuestion(t), s: tutorB, resolution: "x", wantKind: KindForbidden},
		{name: "other tutor, empty resolution", q: assignedQuestion(t), s: tutorB, resolution: " ", wantKind: KindForbidden},
		{name: "unassigned question, empty resolution", q: newQuestion(), s: tutorA, resolution: "", wantKind: KindForbidden},
		{name: "student", q: assignedQuestion(t), s: student, resolution: "x", wantKind: KindForbidden},
		{name: "unassigned question", q: newQuestion(), s: tutorA, resolution: "x", wantKind: KindForbidden},
		{name: "already resolved, same tutor", q: resolvedQuestion(t), s: tutorA, resolution: "again", wantKind: KindInvalidState},
		{name: "already resolved, other tutor", q: resolvedQuestion(t), s: tutorB, resolution: "again", wantKind: KindForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(tc.q, tc.s, tc.resolution, now.Add(time.Minute))
			if tc.wantKind != "" {
				assert.Equal(t, tc.wantKind, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusResolved, got.Status)
			assert.Equal(t, "Use a hash map", got.Resolution)
			assert.Equal(t, tc.q.AssignedTo, got.AssignedTo)
			if assert.NotNil(t, got.ResolvedAt) {
				assert.Equal(t, now.Add(time.Minute), *got.ResolvedAt)
			}
			assignmentConsistent(t, got)
		})
	}
}

func TestReopen(t *testing.T) {
	tests := []struct {
		name     string
		q        Question
		s        user.Session
		reason   string
		wantKind Kind
	}{
		{name: "owner reopens", q: resolvedQuestion(t), s: student, reason: "still confused"},
		{name: "empty reason", q: resolvedQuestion(t), s: student, reason: "", wantKind: KindValidationError},
		{name: "other student", q: resolvedQuestion(t), s: otherStudent, reason: "x", wantKind: KindForbidden},
		{name: "other student, empty reason", q: resolvedQuestion(t), s: otherStudent, reason: "", wantKind: KindForbidden},
		{name: "tutor", q: resolvedQuestion(t), s: tutorA, reason: "x", wantKind: KindForbidden},
		{name: "assigned question", q: assignedQuestion(t), s: student, reason: "x", wantKind: KindInvalidState},
		{name: "unassigned question", q: newQuestion(), s: student, reason: "x", wantKind: KindInvalidState},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Reopen(tc.q, tc.s, tc.reason, now.Add(time.Hour))
			if tc.wantKind != "" {
				assert.Equal(t, tc.wantKind, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusUnassigned, got.Status)
			assert.Nil(t, got.AssignedTo)
			assert.Nil(t, got.AssignedAt)
			assert.Nil(t, got.ResolvedAt)
			assert.Empty(t, got.Resolution)
			assert.Equal(t, "still confused", got.ReopenReason)
			assert.Equal(t, []Reopening{{
				Reason:             "still confused",
				PreviousTutor:      Participant{ID: tutorA.UserID, Name: tutorA.Name},
				PreviousResolution: "Use a hash map",
				PreviousResolvedAt: &now,
				ReopenedAt:         now.Add(time.Hour),
			}}, got.ReopenHistory)
			assignmentConsistent(t, got)

			// the original resolution is untouched
			assert.Equal(t, "Use a hash map", tc.q.Resolution)
			assert.Empty(t, tc.q.ReopenHistory)
		})
	}
}

func TestReopen_ThenClaimByAnotherTutor(t *testing.T) {
	q, err := Reopen(resolvedQuestion(t), student, "still confused", now)
	require.NoError(t, err)

	q, err = Claim(q, tutorB, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, q.Status)
	assert.Equal(t, tutorB.UserID, q.AssignedTo.ID)
	assert.Len(t, q.ReopenHistory, 1)
	assignmentConsistent(t, q)

	// the previous tutor has lost the question
	_, err = Resolve(q, tutorA, "x", now)
	assert.Equal(t, KindForbidden, KindOf(err))
}

func TestRate(t *testing.T) {
	rated, err := Rate(resolvedQuestion(t), student, 5, "great", now)
	require.NoError(t, err)

	tests := []struct {
		name     string
		q        Question
		s        user.Session
		score    int
		wantKind Kind
	}{
		{name: "owner rates", q: resolvedQuestion(t), s: student, score: 4},
		{name: "score too low", q: resolvedQuestion(t), s: student, score: 0, wantKind: KindValidationError},
		{name: "score too high", q: resolvedQuestion(t), s: student, score: 6, wantKind: KindValidationError},
		{name: "other student", q: resolvedQuestion(t), s: otherStudent, score: 4, wantKind: KindForbidden},
		{name: "tutor", q: resolvedQuestion(t), s: tutorA, score: 4, wantKind: KindForbidden},
		{name: "other student, score out of range", q: resolvedQuestion(t), s: otherStudent, score: 9, wantKind: KindForbidden},
		{name: "not resolved", q: assignedQuestion(t), s: student, score: 4, wantKind: KindInvalidState},
		{name: "second rating", q: rated, s: student, score: 4, wantKind: KindAlreadyRated},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Rate(tc.q, tc.s, tc.score, " thanks ", now)
			if tc.wantKind != "" {
				assert.Equal(t, tc.wantKind, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusResolved, got.Status)
			assert.Equal(t, &Rating{Score: tc.score, Feedback: "thanks", TutorID: tutorA.UserID, RatedAt: now}, got.Rating)
			assert.Equal(t, tc.q.Version+1, got.Version)
		})
	}
}

func TestRate_OnceEvenAfterReopen(t *testing.T) {
	q, err := Rate(resolvedQuestion(t), student, 2, "", now)
	require.NoError(t, err)
	q, err = Reopen(q, student, "not what I asked", now)
	require.NoError(t, err)
	assert.NotNil(t, q.Rating)

	q, err = Claim(q, tutorB, now)
	require.NoError(t, err)
	q, err = Resolve(q, tutorB, "Sort first, then two pointers", now)
	require.NoError(t, err)

	_, err = Rate(q, student, 5, "", now)
	assert.Equal(t, KindAlreadyRated, KindOf(err))
	assert.Equal(t, 2, q.Rating.Score)
	assert.Equal(t, tutorA.UserID, q.Rating.TutorID)
}

func TestAddComment(t *testing.T) {
	tests := []struct {
		name     string
		q        Question
		s        user.Session
		policy   CommentPolicy
		text     string
		wantKind Kind
	}{
		{name: "open: any user", q: assignedQuestion(t), s: otherStudent, policy: CommentPolicyOpen, text: "me too"},
		{name: "open: unrelated tutor", q: newQuestion(), s: tutorB, policy: CommentPolicyOpen, text: "hint: hashing"},
		{name: "open: anonymous", q: newQuestion(), s: anonymous, policy: CommentPolicyOpen, text: "x", wantKind: KindForbidden},
		{name: "empty text", q: newQuestion(), s: student, policy: CommentPolicyOpen, text: " ", wantKind: KindValidationError},
		{name: "participants: owner", q: newQuestion(), s: student, policy: CommentPolicyParticipants, text: "bump"},
		{name: "participants: assigned tutor", q: assignedQuestion(t), s: tutorA, policy: CommentPolicyParticipants, text: "looking"},
		{name: "participants: other tutor", q: assignedQuestion(t), s: tutorB, policy: CommentPolicyParticipants, text: "x", wantKind: KindForbidden},
		{name: "participants: other student", q: assignedQuestion(t), s: otherStudent, policy: CommentPolicyParticipants, text: "x", wantKind: KindForbidden},
		{name: "participants: other tutor, empty text", q: assignedQuestion(t), s: tutorB, policy: CommentPolicyParticipants, text: "", wantKind: KindForbidden},
		{name: "anonymous, empty text", q: newQuestion(), s: anonymous, policy: CommentPolicyOpen, text: "", wantKind: KindForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			orig := tc.q.clone()
			c, err := AddComment(tc.q, tc.s, tc.text, tc.policy, now)
			assert.Equal(t, orig, tc.q)
			if tc.wantKind != "" {
				assert.Equal(t, tc.wantKind, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.q.ID, c.QuestionID)
			assert.Equal(t, Participant{ID: tc.s.UserID, Name: tc.s.Name}, c.Author)
			assert.Equal(t, now, c.CreatedAt)
		})
	}
}

func TestParseCommentPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    CommentPolicy
		wantErr bool
	}{
		{"", CommentPolicyOpen, false},
		{"open", CommentPolicyOpen, false},
		{" Participants ", CommentPolicyParticipants, false},
		{"owners", CommentPolicyOpen, true},
	}
	for _, tc := range tests {
		got, err := ParseCommentPolicy(tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		assert.Equal(t, tc.wantErr, err != nil, tc.in)
	}
}

func TestActions(t *testing.T) {
	rated, err := Rate(resolvedQuestion(t), student, 5, "", now)
	require.NoError(t, err)

	tests := []struct {
		name   string
		q      Question
		s      user.Session
		policy CommentPolicy
		want   []Event
	}{
		{"tutor, unassigned", newQuestion(), tutorA, CommentPolicyOpen, []Event{EventClaim, EventComment}},
		{"owner, unassigned", newQuestion(), student, CommentPolicyOpen, []Event{EventComment}},
		{"assignee", assignedQuestion(t), tutorA, CommentPolicyOpen, []Event{EventResolve, EventComment}},
		{"other tutor, assigned, participants", assignedQuestion(t), tutorB, CommentPolicyParticipants, []Event{}},
		{"owner, resolved", resolvedQuestion(t), student, CommentPolicyParticipants, []Event{EventReopen, EventRate, EventComment}},
		{"owner, rated", rated, student, CommentPolicyOpen, []Event{EventReopen, EventComment}},
		{"anonymous", newQuestion(), anonymous, CommentPolicyOpen, []Event{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Actions(tc.q, tc.s, tc.policy))
		})
	}
}

// TestGuardsAgreeWithTransitions checks that every guard allows exactly what its transition accepts.
func TestGuardsAgreeWithTransitions(t *testing.T) {
	rated, err := Rate(resolvedQuestion(t), student, 5, "", now)
	require.NoError(t, err)
	closed := newQuestion()
	closed.Status = StatusClosed

	questions := []Question{newQuestion(), assignedQuestion(t), resolvedQuestion(t), rated, closed}
	sessions := []user.Session{student, otherStudent, tutorA, tutorB, anonymous}

	for _, q := range questions {
		for _, s := range sessions {
			_, err := Claim(q, s, now)
			assert.Equal(t, CanClaim(q, s), err == nil, "claim %s by %s", q.Status, s.Name)
			_, err = Resolve(q, s, "answer", now)
			assert.Equal(t, CanResolve(q, s), err == nil, "resolve %s by %s", q.Status, s.Name)
			_, err = Reopen(q, s, "reason", now)
			assert.Equal(t, CanReopen(q, s), err == nil, "reopen %s by %s", q.Status, s.Name)
			_, err = Rate(q, s, 3, "", now)
			assert.Equal(t, CanRate(q, s), err == nil, "rate %s by %s", q.Status, s.Name)
			for _, p := range []CommentPolicy{CommentPolicyOpen, CommentPolicyParticipants} {
				_, err = AddComment(q, s, "hi", p, now)
				assert.Equal(t, p.CanComment(q, s), err == nil, "comment(%s) %s by %s", p, q.Status, s.Name)
			}
		}
	}
}

func TestHappyPath(t *testing.T) {
	q := newQuestion()
	assignmentConsistent(t, q)

	q, err := Claim(q, tutorA, now)
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, q.Status)
	assert.Equal(t, tutorA.UserID, q.AssignedTo.ID)

	q, err = Resolve(q, tutorA, "Use a hash map", now)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, q.Status)
	assert.Equal(t, "Use a hash map", q.Resolution)

	q, err = Rate(q, student, 5, "great", now)
	require.NoError(t, err)
	assert.Equal(t, 5, q.Rating.Score)
	assert.Equal(t, "great", q.Rating.Feedback)

	again, err := Rate(q, student, 4, "", now)
	assert.Equal(t, KindAlreadyRated, KindOf(err))
	assert.Equal(t, Question{}, again)
	assert.Equal(t, 5, q.Rating.Score)
	assert.Equal(t, 4, q.Version)
	assignmentConsistent(t, q)
}
