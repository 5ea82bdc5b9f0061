package doubt

import (
	"time"

	"github.com/trezcool/doubtbuddy/core"
)

type Status string

const (
	StatusUnassigned Status = "unassigned"
	StatusAssigned   Status = "assigned"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed" // terminal; reached through moderation only
)

// Topic is one of the fixed subject tags a Question is filed under.
type Topic string

const (
	TopicWebDevelopment    Topic = "Web Development"
	TopicJavaScript        Topic = "JavaScript"
	TopicPython            Topic = "Python"
	TopicReact             Topic = "React"
	TopicNodeJS            Topic = "Node.js"
	TopicDatabase          Topic = "Database"
	TopicDataStructures    Topic = "Data Structures"
	TopicJava              Topic = "Java"
	TopicMachineLearning   Topic = "Machine Learning"
	TopicDevOps            Topic = "DevOps"
	TopicCloudComputing    Topic = "Cloud Computing"
	TopicCybersecurity     Topic = "Cybersecurity"
	TopicMobileDevelopment Topic = "Mobile Development"
	TopicUIUXDesign        Topic = "UI/UX Design"
)

var Topics = []Topic{
	TopicWebDevelopment,
	TopicJavaScript,
	TopicPython,
	TopicReact,
	TopicNodeJS,
	TopicDatabase,
	TopicDataStructures,
	TopicJava,
	TopicMachineLearning,
	TopicDevOps,
	TopicCloudComputing,
	TopicCybersecurity,
	TopicMobileDevelopment,
	TopicUIUXDesign,
}

func (t Topic) IsValid() bool {
	for _, topic := range Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// Participant references a user taking part in a Question.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Rating struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback,omitempty"`
	// TutorID is the tutor whose resolution was rated.
	TutorID string    `json:"tutor_id"`
	RatedAt time.Time `json:"rated_at"`
}

// Reopening records one resolved -> unassigned transition.
type Reopening struct {
	Reason             string      `json:"reason"`
	PreviousTutor      Participant `json:"previous_tutor"`
	PreviousResolution string      `json:"previous_resolution,omitempty"`
	PreviousResolvedAt *time.Time  `json:"previous_resolved_at,omitempty"`
	ReopenedAt         time.Time   `json:"reopened_at"`
}

type Question struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	Topic         Topic        `json:"topic"`
	Student       Participant  `json:"student"`
	AssignedTo    *Participant `json:"assigned_to"`
	Status        Status       `json:"status"`
	Resolution    string       `json:"resolution,omitempty"`
	ReopenReason  string       `json:"reopen_reason,omitempty"`
	ReopenHistory []Reopening  `json:"reopen_history"`
	Rating        *Rating      `json:"rating"`
	Version       int          `json:"version"`
	CreatedAt     time.Time    `json:"created_at"` // UTC
	UpdatedAt     time.Time    `json:"updated_at"` // UTC
	AssignedAt    *time.Time   `json:"assigned_at,omitempty"`
	ResolvedAt    *time.Time   `json:"resolved_at,omitempty"`
}

// clone returns a deep copy of q, so transitions never share memory with their input.
func (q Question) clone() Question {
	c := q
	if q.AssignedTo != nil {
		p := *q.AssignedTo
		c.AssignedTo = &p
	}
	if q.Rating != nil {
		r := *q.Rating
		c.Rating = &r
	}
	if q.AssignedAt != nil {
		t := *q.AssignedAt
		c.AssignedAt = &t
	}
	if q.ResolvedAt != nil {
		t := *q.ResolvedAt
		c.ResolvedAt = &t
	}
	if q.ReopenHistory != nil {
		c.ReopenHistory = make([]Reopening, len(q.ReopenHistory))
		for i, r := range q.ReopenHistory {
			if r.PreviousResolvedAt != nil {
				t := *r.PreviousResolvedAt
				r.PreviousResolvedAt = &t
			}
			c.ReopenHistory[i] = r
		}
	}
	return c
}

// IsAssignedTo reports whether the tutor identified by userID currently holds q.
func (q Question) IsAssignedTo(userID string) bool {
	return q.AssignedTo != nil && userID != "" && q.AssignedTo.ID == userID
}

// HasResolved reports whether the tutor identified by userID has resolved q,
// now or before one of its reopenings.
func (q Question) HasResolved(userID string) bool {
	if userID == "" {
		return false
	}
	if q.Status == StatusResolved && q.IsAssignedTo(userID) {
		return true
	}
	for _, r := range q.ReopenHistory {
		if r.PreviousTutor.ID == userID {
			return true
		}
	}
	return false
}

// IsOwnedBy reports whether the student identified by userID authored q.
func (q Question) IsOwnedBy(userID string) bool {
	return userID != "" && q.Student.ID == userID
}

type Comment struct {
	ID         string      `json:"id"`
	QuestionID string      `json:"question_id"`
	Author     Participant `json:"author"`
	Text       string      `json:"text"`
	CreatedAt  time.Time   `json:"created_at"` // UTC
}

// NewQuestion contains information needed to post a new Question.
type NewQuestion struct {
	Title       string `json:"title" validate:"required,notblank,max=200"`
	Description string `json:"description" validate:"required,notblank"`
	Topic       Topic  `json:"topic" validate:"required,topic"`
}

func (nq *NewQuestion) Clean() {
	nq.Title = core.CleanString(nq.Title)
	nq.Description = core.CleanString(nq.Description)
	nq.Topic = Topic(core.CleanString(string(nq.Topic)))
}

// QueryFilter applies AND operation on its set fields.
type QueryFilter struct {
	StudentID    string
	AssignedToID string
	// TutorID matches the questions a tutor holds or has resolved before a reopening.
	TutorID  string
	Statuses []Status
	Topic    Topic
}

func (qf QueryFilter) Match(q Question) bool {
	if qf.StudentID != "" && q.Student.ID != qf.StudentID {
		return false
	}
	if qf.AssignedToID != "" && !q.IsAssignedTo(qf.AssignedToID) {
		return false
	}
	if qf.TutorID != "" && !q.IsAssignedTo(qf.TutorID) && !q.HasResolved(qf.TutorID) {
		return false
	}
	if qf.Topic != "" && q.Topic != qf.Topic {
		return false
	}
	if len(qf.Statuses) > 0 {
		for _, s := range qf.Statuses {
			if q.Status == s {
				return true
			}
		}
		return false
	}
	return true
}
