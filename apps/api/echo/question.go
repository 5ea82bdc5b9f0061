package echoapi

import (
	"html/template"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/doubtbuddy/core"
	"github.com/trezcool/doubtbuddy/core/doubt"
	"github.com/trezcool/doubtbuddy/core/user"
	"github.com/trezcool/doubtbuddy/services/markup"
)

type questionApi struct {
	svc      *doubt.Service
	renderer *markup.Renderer
}

func registerQuestionAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *doubt.Service, renderer *markup.Renderer) {
	api := questionApi{
		svc:      svc,
		renderer: renderer,
	}

	qg := g.Group("/questions", jwt)
	qg.POST("", api.create)
	qg.GET("/topics", api.queryTopics)
	qg.GET("/my-questions", api.queryMine, roleMiddleware(user.RoleStudent))
	qg.GET("/assigned", api.queryAssigned, roleMiddleware(user.RoleTutor))
	qg.GET("/available", api.queryAvailable, roleMiddleware(user.RoleTutor))
	qg.GET("/stats", api.stats, roleMiddleware(user.RoleTutor))

	// detail endpoints
	dg := qg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.POST("/assign", api.claim)
	dg.PUT("/status", api.resolve)
	dg.PUT("/reopen", api.reopen)
	dg.PUT("/rate", api.rate)
	dg.GET("/comments", api.queryComments)
	dg.POST("/comments", api.addComment)
}

// QuestionResponse is a Question as seen by the acting user.
type QuestionResponse struct {
	doubt.Question
	ResolutionHTML template.HTML `json:"resolution_html,omitempty"`
	Actions        []doubt.Event `json:"actions"`
}

type CommentResponse struct {
	doubt.Comment
	TextHTML template.HTML `json:"text_html"`
}

func (api *questionApi) newQuestionResponse(q doubt.Question, s user.Session) QuestionResponse {
	if q.ReopenHistory == nil {
		q.ReopenHistory = []doubt.Reopening{}
	}
	return QuestionResponse{
		Question:       q,
		ResolutionHTML: api.renderer.Render(q.Resolution),
		Actions:        api.svc.Actions(q, s),
	}
}

func (api *questionApi) newQuestionListResponse(qs []doubt.Question, s user.Session) []QuestionResponse {
	res := make([]QuestionResponse, 0, len(qs))
	for _, q := range qs {
		res = append(res, api.newQuestionResponse(q, s))
	}
	return res
}

func (api *questionApi) newCommentResponse(c doubt.Comment) CommentResponse {
	return CommentResponse{Comment: c, TextHTML: api.renderer.Render(c.Text)}
}

// Handlers

func (api *questionApi) create(ctx echo.Context) error {
	var data doubt.NewQuestion
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuestion")
	}

	s := getContextSession(ctx)
	q, err := api.svc.Create(ctx.Request().Context(), s, data)
	if err != nil {
		return errors.Wrap(err, "creating question")
	}
	return ctx.JSON(http.StatusCreated, api.newQuestionResponse(q, s))
}

func (api *questionApi) queryTopics(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, doubt.Topics)
}

func (api *questionApi) queryMine(ctx echo.Context) error {
	ordering := new(Ordering)
	ordering.Bind(ctx)

	s := getContextSession(ctx)
	qs, err := api.svc.QueryMine(ctx.Request().Context(), s, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying questions")
	}
	return ctx.JSON(http.StatusOK, api.newQuestionListResponse(qs, s))
}

func (api *questionApi) queryAssigned(ctx echo.Context) error {
	ordering := new(Ordering)
	ordering.Bind(ctx)

	s := getContextSession(ctx)
	qs, err := api.svc.QueryAssigned(ctx.Request().Context(), s, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying questions")
	}
	return ctx.JSON(http.StatusOK, api.newQuestionListResponse(qs, s))
}

func (api *questionApi) queryAvailable(ctx echo.Context) error {
	ordering := new(Ordering)
	ordering.Bind(ctx)
	topic := doubt.Topic(core.CleanString(ctx.QueryParam("topic")))

	s := getContextSession(ctx)
	qs, err := api.svc.QueryAvailable(ctx.Request().Context(), s, topic, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying questions")
	}
	return ctx.JSON(http.StatusOK, api.newQuestionListResponse(qs, s))
}

func (api *questionApi) stats(ctx echo.Context) error {
	stats, err := api.svc.TutorStats(ctx.Request().Context(), getContextSession(ctx))
	if err != nil {
		return errors.Wrap(err, "computing stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *questionApi) retrieve(ctx echo.Context) error {
	s := getContextSession(ctx)
	q, err := api.svc.Get(ctx.Request().Context(), s, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting question")
	}
	return ctx.JSON(http.StatusOK, api.newQuestionResponse(q, s))
}

func (api *questionApi) claim(ctx echo.Context) error {
	s := getContextSession(ctx)
	q, err := api.svc.Claim(ctx.Request().Context(), s, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "claiming question")
	}
	return ctx.JSON(http.StatusOK, api.newQuestionResponse(q, s))
}

func (api *questionApi) resolve(ctx echo.Context) error {
	var data ResolveRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResolveRequest")
	}
	if core.CleanString(data.Status, true /* lower */) != string(doubt.StatusResolved) {
		return core.NewValidationError(nil, core.FieldError{Field: "status", Error: `status must be "resolved"`})
	}

	s := getContextSession(ctx)
	q, err := api.svc.Resolve(ctx.Request().Context(), s, ctx.Param("id"), data.Resolution)
	if err != nil {
		return errors.Wrap(err, "resolving question")
	}
	return ctx.JSON(http.StatusOK, api.newQuestionResponse(q, s))
}

func (api *questionApi) reopen(ctx echo.Context) error {
	var data ReopenRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReopenRequest")
	}

	s := getContextSession(ctx)
	q, err := api.svc.Reopen(ctx.Request().Context(), s, ctx.Param("id"), data.Reason)
	if err != nil {
		return errors.Wrap(err, "reopening question")
	}
	return ctx.JSON(http.StatusOK, api.newQuestionResponse(q, s))
}

func (api *questionApi) rate(ctx echo.Context) error {
	var data RateRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RateRequest")
	}

	s := getContextSession(ctx)
	q, err := api.svc.Rate(ctx.Request().Context(), s, ctx.Param("id"), data.Score, data.Feedback)
	if err != nil {
		return errors.Wrap(err, "rating question")
	}
	return ctx.JSON(http.StatusOK, api.newQuestionResponse(q, s))
}

func (api *questionApi) queryComments(ctx echo.Context) error {
	cs, err := api.svc.QueryComments(ctx.Request().Context(), getContextSession(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying comments")
	}
	res := make([]CommentResponse, 0, len(cs))
	for _, c := range cs {
		res = append(res, api.newCommentResponse(c))
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *questionApi) addComment(ctx echo.Context) error {
	var data CommentRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CommentRequest")
	}

	c, err := api.svc.AddComment(ctx.Request().Context(), getContextSession(ctx), ctx.Param("id"), data.Text)
	if err != nil {
		return errors.Wrap(err, "adding comment")
	}
	return ctx.JSON(http.StatusCreated, api.newCommentResponse(c))
}

type (
	ResolveRequest struct {
		Status     string `json:"status"`
		Resolution string `json:"resolution"`
	}

	ReopenRequest struct {
		Reason string `json:"reason"`
	}

	RateRequest struct {
		Score    int    `json:"score"`
		Feedback string `json:"feedback"`
	}

	CommentRequest struct {
		Text string `json:"text"`
	}
)
