// Package client is a Go client for the DoubtBuddy HTTP API.
//
// Lifecycle calls are checked locally against the cached copy of the question first, so a call
// that is bound to be rejected fails with the same doubt.Error kinds the API would answer and
// never reaches the mutating endpoint. A rejection read off a cached copy is confirmed against a
// freshly fetched one before it is returned. The API stays authoritative: every question it
// returns replaces the cached copy wholesale.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/doubtbuddy/core/doubt"
	"github.com/trezcool/doubtbuddy/core/user"
)

// ErrUnauthorized is returned whenever the API rejects the token; the token store is cleared.
var ErrUnauthorized = errors.New("not authenticated")

// APIError is a failed API call that does not carry a lifecycle rejection.
type APIError struct {
	StatusCode int
	Message    string
	Fields     map[string]string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d: %v", e.StatusCode, e.Fields)
}

type Option func(*Client)

// WithHTTPClient sets the http.Client requests are sent with.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.rest.HTTPClient = hc }
}

// WithCommentPolicy sets the policy local comment checks run with. It should match the server's.
func WithCommentPolicy(policy doubt.CommentPolicy) Option {
	return func(c *Client) { c.policy = policy }
}

type Client struct {
	baseURL string
	rest    *rest.Client
	tokens  TokenStore
	policy  doubt.CommentPolicy
	nowFunc func() time.Time

	mu        sync.RWMutex
	session   user.Session
	questions map[string]doubt.Question
}

// New returns a Client for the API served under baseURL (e.g. "http://localhost:8000/api").
func New(baseURL string, tokens TokenStore, opts ...Option) (*Client, error) {
	if err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(baseURL, "baseURL"),
		vala.IsNotNil(tokens, "tokens"),
	).Check(); err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		rest:      &rest.Client{HTTPClient: &http.Client{Timeout: 20 * time.Second}},
		tokens:    tokens,
		policy:    doubt.CommentPolicyOpen,
		nowFunc:   time.Now,
		questions: make(map[string]doubt.Question),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Session returns the identity local checks run as; it is anonymous until Login, Register or Me succeeds.
func (c *Client) Session() user.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) setSession(usr user.User) {
	c.mu.Lock()
	c.session = usr.Session()
	c.mu.Unlock()
}

// Cached returns the last copy of a question the API sent back.
func (c *Client) Cached(id string) (doubt.Question, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.questions[id]
	return q, ok
}

func (c *Client) store(qs ...doubt.Question) {
	c.mu.Lock()
	for _, q := range qs {
		c.questions[q.ID] = q
	}
	c.mu.Unlock()
}

func (c *Client) evict(id string) {
	c.mu.Lock()
	delete(c.questions, id)
	c.mu.Unlock()
}

func (c *Client) reset() {
	c.tokens.Clear()
	c.mu.Lock()
	c.session = user.Session{}
	c.questions = make(map[string]doubt.Question)
	c.mu.Unlock()
}

// Auth

type authResponse struct {
	Token string    `json:"token"`
	User  user.User `json:"user"`
}

func (c *Client) authenticate(ctx context.Context, path string, body interface{}) (user.User, error) {
	var res authResponse
	if err := c.send(ctx, rest.Post, path, nil, body, &res); err != nil {
		return user.User{}, err
	}
	c.tokens.SetToken(res.Token)
	c.setSession(res.User)
	return res.User, nil
}

func (c *Client) Register(ctx context.Context, nu user.NewUser) (user.User, error) {
	return c.authenticate(ctx, "/auth/register", nu)
}

func (c *Client) Login(ctx context.Context, email, pwd string) (user.User, error) {
	return c.authenticate(ctx, "/auth/login", map[string]string{"email": email, "password": pwd})
}

// Logout forgets the token, the session and every cached question.
func (c *Client) Logout() {
	c.reset()
}

// Me loads the user behind the stored token, e.g. after restoring a token from elsewhere.
func (c *Client) Me(ctx context.Context) (user.User, error) {
	var usr user.User
	if err := c.send(ctx, rest.Get, "/auth/me", nil, nil, &usr); err != nil {
		return user.User{}, err
	}
	c.setSession(usr)
	return usr, nil
}

// Questions

func (c *Client) CreateQuestion(ctx context.Context, nq doubt.NewQuestion) (doubt.Question, error) {
	return c.sendQuestion(ctx, rest.Post, "/questions", nq)
}

// Question fetches a question and refreshes the cached copy.
func (c *Client) Question(ctx context.Context, id string) (doubt.Question, error) {
	return c.sendQuestion(ctx, rest.Get, questionPath(id), nil)
}

func (c *Client) MyQuestions(ctx context.Context) ([]doubt.Question, error) {
	return c.queryQuestions(ctx, "/questions/my-questions", nil)
}

func (c *Client) AssignedQuestions(ctx context.Context) ([]doubt.Question, error) {
	return c.queryQuestions(ctx, "/questions/assigned", nil)
}

// AvailableQuestions lists the unassigned pool; an empty topic lists every topic.
func (c *Client) AvailableQuestions(ctx context.Context, topic doubt.Topic) ([]doubt.Question, error) {
	var params map[string]string
	if topic != "" {
		params = map[string]string{"topic": string(topic)}
	}
	return c.queryQuestions(ctx, "/questions/available", params)
}

func (c *Client) Topics(ctx context.Context) ([]doubt.Topic, error) {
	var topics []doubt.Topic
	err := c.send(ctx, rest.Get, "/questions/topics", nil, nil, &topics)
	return topics, err
}

func (c *Client) Stats(ctx context.Context) (doubt.TutorStats, error) {
	var stats doubt.TutorStats
	err := c.send(ctx, rest.Get, "/questions/stats", nil, nil, &stats)
	return stats, err
}

func (c *Client) queryQuestions(ctx context.Context, path string, params map[string]string) ([]doubt.Question, error) {
	var qs []doubt.Question
	if err := c.send(ctx, rest.Get, path, params, nil, &qs); err != nil {
		return nil, err
	}
	c.store(qs...)
	return qs, nil
}

// Lifecycle

func (c *Client) Claim(ctx context.Context, id string) (doubt.Question, error) {
	return c.transition(ctx, id, func(q doubt.Question, s user.Session, now time.Time) error {
		_, err := doubt.Claim(q, s, now)
		return err
	}, rest.Post, "/assign", nil)
}

func (c *Client) Resolve(ctx context.Context, id, resolution string) (doubt.Question, error) {
	return c.transition(ctx, id, func(q doubt.Question, s user.Session, now time.Time) error {
		_, err := doubt.Resolve(q, s, resolution, now)
		return err
	}, rest.Put, "/status", map[string]string{"status": string(doubt.StatusResolved), "resolution": resolution})
}

func (c *Client) Reopen(ctx context.Context, id, reason string) (doubt.Question, error) {
	return c.transition(ctx, id, func(q doubt.Question, s user.Session, now time.Time) error {
		_, err := doubt.Reopen(q, s, reason, now)
		return err
	}, rest.Put, "/reopen", map[string]string{"reason": reason})
}

func (c *Client) Rate(ctx context.Context, id string, score int, feedback string) (doubt.Question, error) {
	return c.transition(ctx, id, func(q doubt.Question, s user.Session, now time.Time) error {
		_, err := doubt.Rate(q, s, score, feedback, now)
		return err
	}, rest.Put, "/rate", map[string]interface{}{"score": score, "feedback": feedback})
}

// transition runs check against the question and only then calls the API.
func (c *Client) transition(
	ctx context.Context,
	id string,
	check func(doubt.Question, user.Session, time.Time) error,
	method rest.Method,
	suffix string,
	body interface{},
) (doubt.Question, error) {
	if err := c.guard(ctx, id, check); err != nil {
		return doubt.Question{}, err
	}
	return c.sendQuestion(ctx, method, questionPath(id, suffix), body)
}

// guard runs check against the cached copy, fetched first if missing.
// A rejection that depends on the question's state is only final once confirmed on a fresh copy.
func (c *Client) guard(ctx context.Context, id string, check func(doubt.Question, user.Session, time.Time) error) error {
	q, cached := c.Cached(id)
	if !cached {
		var err error
		if q, err = c.Question(ctx, id); err != nil {
			return err
		}
	}

	err := check(q, c.Session(), c.nowFunc())
	if err == nil || !cached {
		return err
	}
	switch doubt.KindOf(err) {
	case doubt.KindInvalidState, doubt.KindForbidden, doubt.KindAlreadyRated:
		if q, err = c.Question(ctx, id); err != nil {
			return err
		}
		return check(q, c.Session(), c.nowFunc())
	}
	return err
}

// Comments

func (c *Client) Comments(ctx context.Context, id string) ([]doubt.Comment, error) {
	var cs []doubt.Comment
	err := c.send(ctx, rest.Get, questionPath(id, "/comments"), nil, nil, &cs)
	return cs, err
}

func (c *Client) AddComment(ctx context.Context, id, text string) (doubt.Comment, error) {
	err := c.guard(ctx, id, func(q doubt.Question, s user.Session, now time.Time) error {
		_, err := doubt.AddComment(q, s, text, c.policy, now)
		return err
	})
	if err != nil {
		return doubt.Comment{}, err
	}

	var cmt doubt.Comment
	err = c.send(ctx, rest.Post, questionPath(id, "/comments"), nil, map[string]string{"text": text}, &cmt)
	return cmt, err
}

// Transport

func questionPath(id string, suffix ...string) string {
	p := "/questions/" + id
	if len(suffix) > 0 {
		p += suffix[0]
	}
	return p
}

// sendQuestion calls the API and replaces the cached copy with the question it answers.
// A rejection meaning the cached copy is stale evicts it instead.
func (c *Client) sendQuestion(ctx context.Context, method rest.Method, path string, body interface{}) (doubt.Question, error) {
	var q doubt.Question
	if err := c.send(ctx, method, path, nil, body, &q); err != nil {
		switch doubt.KindOf(err) {
		case doubt.KindConflict, doubt.KindInvalidState, doubt.KindAlreadyRated, doubt.KindNotFound:
			if id := questionID(path); id != "" {
				c.evict(id)
			}
		}
		return doubt.Question{}, err
	}
	c.store(q)
	return q, nil
}

func questionID(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/questions/"), "/")
	if !strings.HasPrefix(path, "/questions/") || parts[0] == "" {
		return ""
	}
	return parts[0]
}

func (c *Client) send(ctx context.Context, method rest.Method, path string, params map[string]string, body, v interface{}) error {
	req := rest.Request{
		Method:      method,
		BaseURL:     c.baseURL + path,
		Headers:     map[string]string{"Accept": "application/json"},
		QueryParams: params,
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		req.Body = data
	}
	if token := c.tokens.Token(); token != "" {
		req.Headers["Authorization"] = "Bearer " + token
	}

	res, err := c.rest.SendWithContext(ctx, req)
	if err != nil {
		return errors.Wrapf(err, "calling %s %s", method, path)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return c.decodeError(res)
	}
	if v != nil {
		if err := json.Unmarshal([]byte(res.Body), v); err != nil {
			return errors.Wrapf(err, "decoding %s %s", method, path)
		}
	}
	return nil
}

func (c *Client) decodeError(res *rest.Response) error {
	if res.StatusCode == http.StatusUnauthorized {
		c.reset()
		return ErrUnauthorized
	}

	var body struct {
		Error string     `json:"error"`
		Kind  doubt.Kind `json:"kind"`
	}
	if err := json.Unmarshal([]byte(res.Body), &body); err == nil {
		if body.Kind != "" {
			return &doubt.Error{Kind: body.Kind, Message: body.Error}
		}
		if body.Error != "" {
			return &APIError{StatusCode: res.StatusCode, Message: body.Error}
		}
	}

	// field errors
	var fields map[string]string
	if err := json.Unmarshal([]byte(res.Body), &fields); err == nil && len(fields) > 0 {
		return &APIError{StatusCode: res.StatusCode, Fields: fields}
	}
	return &APIError{StatusCode: res.StatusCode, Message: strings.TrimSpace(res.Body)}
}
