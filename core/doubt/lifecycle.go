package doubt

import (
	"fmt"
	"strings"
	"time"

	"github.com/trezcool/doubtbuddy/core"
	"github.com/trezcool/doubtbuddy/core/user"
)

// Event is a lifecycle action applied to a Question.
type Event string

const (
	EventClaim   Event = "claim"
	EventResolve Event = "resolve"
	EventReopen  Event = "reopen"
	EventRate    Event = "rate"
	EventComment Event = "comment"
)

const (
	MinScore = 1
	MaxScore = 5
)

// edges is the transition table. Comments are accepted from every status and never appear here.
var edges = map[Status]map[Event]Status{
	StatusUnassigned: {EventClaim: StatusAssigned},
	StatusAssigned:   {EventResolve: StatusResolved},
	StatusResolved:   {EventReopen: StatusUnassigned, EventRate: StatusResolved},
}

// Next returns the status reached by applying ev from status `from`.
func Next(from Status, ev Event) (Status, bool) {
	if ev == EventComment {
		return from, true
	}
	to, ok := edges[from][ev]
	return to, ok
}

// CommentPolicy decides who may comment on a question.
type CommentPolicy string

const (
	// CommentPolicyOpen lets any authenticated user comment on any question.
	CommentPolicyOpen CommentPolicy = "open"
	// CommentPolicyParticipants restricts comments to the owning student and the assigned tutor.
	CommentPolicyParticipants CommentPolicy = "participants"
)

func ParseCommentPolicy(s string) (CommentPolicy, error) {
	switch p := CommentPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case CommentPolicyOpen, CommentPolicyParticipants:
		return p, nil
	case "":
		return CommentPolicyOpen, nil
	default:
		return CommentPolicyOpen, fmt.Errorf("unknown comment policy %q", s)
	}
}

// Guards

func CanClaim(q Question, s user.Session) bool {
	return q.Status == StatusUnassigned && s.IsTutor()
}

func CanResolve(q Question, s user.Session) bool {
	return q.Status == StatusAssigned && q.IsAssignedTo(s.UserID)
}

func CanReopen(q Question, s user.Session) bool {
	return q.Status == StatusResolved && q.IsOwnedBy(s.UserID)
}

func CanRate(q Question, s user.Session) bool {
	return q.Status == StatusResolved && q.IsOwnedBy(s.UserID) && q.Rating == nil
}

func (p CommentPolicy) CanComment(q Question, s user.Session) bool {
	if !s.Authenticated() {
		return false
	}
	if p == CommentPolicyParticipants {
		return q.IsOwnedBy(s.UserID) || q.IsAssignedTo(s.UserID)
	}
	return true
}

// Actions lists the events s may currently apply to q.
func Actions(q Question, s user.Session, policy CommentPolicy) []Event {
	actions := make([]Event, 0, 2)
	if CanClaim(q, s) {
		actions = append(actions, EventClaim)
	}
	if CanResolve(q, s) {
		actions = append(actions, EventResolve)
	}
	if CanReopen(q, s) {
		actions = append(actions, EventReopen)
	}
	if CanRate(q, s) {
		actions = append(actions, EventRate)
	}
	if policy.CanComment(q, s) {
		actions = append(actions, EventComment)
	}
	return actions
}

// Transitions
//
// Each transition returns a new Question and leaves q untouched. Checks run in this order:
// actor, then input, then state. Claim is the exception: it checks the state first.

func Claim(q Question, s user.Session, now time.Time) (Question, error) {
	if q.Status != StatusUnassigned {
		return Question{}, invalidState(q, EventClaim)
	}
	if !s.IsTutor() {
		return Question{}, forbidden("only tutors can claim questions")
	}

	next := advance(q, EventClaim, now)
	next.AssignedTo = &Participant{ID: s.UserID, Name: s.Name}
	assignedAt := next.UpdatedAt
	next.AssignedAt = &assignedAt
	return next, nil
}

func Resolve(q Question, s user.Session, resolution string, now time.Time) (Question, error) {
	if !q.IsAssignedTo(s.UserID) {
		return Question{}, forbidden("only the assigned tutor can resolve this question")
	}
	resolution = core.CleanString(resolution)
	if resolution == "" {
		return Question{}, invalidInput("resolution is required")
	}
	if q.Status != StatusAssigned {
		return Question{}, invalidState(q, EventResolve)
	}

	next := advance(q, EventResolve, now)
	next.Resolution = resolution
	resolvedAt := next.UpdatedAt
	next.ResolvedAt = &resolvedAt
	return next, nil
}

// Reopen sends a resolved question back to the unassigned pool.
// The resolution and the tutor are moved into ReopenHistory.
func Reopen(q Question, s user.Session, reason string, now time.Time) (Question, error) {
	if !q.IsOwnedBy(s.UserID) {
		return Question{}, forbidden("only the student who asked this question can reopen it")
	}
	reason = core.CleanString(reason)
	if reason == "" {
		return Question{}, invalidInput("reason is required")
	}
	if q.Status != StatusResolved {
		return Question{}, invalidState(q, EventReopen)
	}

	next := advance(q, EventReopen, now)
	entry := Reopening{
		Reason:             reason,
		PreviousResolution: q.Resolution,
		PreviousResolvedAt: q.ResolvedAt,
		ReopenedAt:         next.UpdatedAt,
	}
	if q.AssignedTo != nil {
		entry.PreviousTutor = *q.AssignedTo
	}
	next.ReopenHistory = append(next.ReopenHistory, entry)
	next.ReopenReason = reason
	next.Resolution = ""
	next.AssignedTo = nil
	next.AssignedAt = nil
	next.ResolvedAt = nil
	return next, nil
}

func Rate(q Question, s user.Session, score int, feedback string, now time.Time) (Question, error) {
	if !q.IsOwnedBy(s.UserID) {
		return Question{}, forbidden("only the student who asked this question can rate it")
	}
	if score < MinScore || score > MaxScore {
		return Question{}, invalidInput(fmt.Sprintf("score must be between %d and %d", MinScore, MaxScore))
	}
	if q.Rating != nil {
		return Question{}, ErrAlreadyRated
	}
	if q.Status != StatusResolved {
		return Question{}, invalidState(q, EventRate)
	}

	next := advance(q, EventRate, now)
	next.Rating = &Rating{
		Score:    score,
		Feedback: core.CleanString(feedback),
		RatedAt:  next.UpdatedAt,
	}
	// the rating stays with the tutor who wrote the resolution, even if the question is reopened
	if q.AssignedTo != nil {
		next.Rating.TutorID = q.AssignedTo.ID
	}
	return next, nil
}

// AddComment builds the comment s appends to q. The question itself is never changed.
func AddComment(q Question, s user.Session, text string, policy CommentPolicy, now time.Time) (Comment, error) {
	if !s.Authenticated() {
		return Comment{}, forbidden("you must be logged in to comment")
	}
	if !policy.CanComment(q, s) {
		return Comment{}, forbidden("only the student and the assigned tutor can comment on this question")
	}
	text = core.CleanString(text)
	if text == "" {
		return Comment{}, invalidInput("comment text is required")
	}
	return Comment{
		QuestionID: q.ID,
		Author:     Participant{ID: s.UserID, Name: s.Name},
		Text:       text,
		CreatedAt:  now.UTC(),
	}, nil
}

// advance copies q, moves it along ev and bumps its version.
func advance(q Question, ev Event, now time.Time) Question {
	to, ok := Next(q.Status, ev)
	if !ok {
		panic(fmt.Sprintf("doubt: no %s edge from %s", ev, q.Status)) // guarded by every caller
	}
	next := q.clone()
	next.Status = to
	next.Version = q.Version + 1
	next.UpdatedAt = now.UTC()
	return next
}
