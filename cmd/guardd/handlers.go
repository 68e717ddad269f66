package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/magickw/linkdao-guard/abusemod/event"
	"github.com/magickw/linkdao-guard/abusemod/policy"
)

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

type checkEventRequest struct {
	Action    string            `json:"action"`
	IP        string            `json:"ip,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Content   string            `json:"content,omitempty"`
	Region    string            `json:"region,omitempty"`
	Failed    bool              `json:"failed,omitempty"`
	Time      time.Time         `json:"time,omitempty"`
}

func (req *checkEventRequest) toEvent() *event.RequestEvent {
	return &event.RequestEvent{
		Action:    req.Action,
		IP:        req.IP,
		UserID:    req.UserID,
		UserAgent: req.UserAgent,
		Headers:   req.Headers,
		Content:   req.Content,
		Region:    req.Region,
		Failed:    req.Failed,
		Time:      req.Time,
	}
}

type checkEventResponse struct {
	Findings []event.Finding `json:"findings"`
}

func (srv *Server) HandleCheckEvent(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "checkEvent")
	defer span.End()

	var req checkEventRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(400, GenericError{
			Error:   "InvalidBody",
			Message: fmt.Sprintf("%s", err),
		})
	}

	findings, err := srv.engine.CheckEvent(ctx, req.toEvent())
	if err != nil {
		return c.JSON(400, GenericError{
			Error:   "InvalidEvent",
			Message: fmt.Sprintf("%s", err),
		})
	}
	if findings == nil {
		findings = []event.Finding{}
	}
	return c.JSON(200, checkEventResponse{Findings: findings})
}

func (srv *Server) HandleAssessContent(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "assessContent")
	defer span.End()

	var req checkEventRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(400, GenericError{
			Error:   "InvalidBody",
			Message: fmt.Sprintf("%s", err),
		})
	}
	if req.Action == "" {
		req.Action = policy.EventActionPost
	}

	assessment, err := srv.engine.AssessContent(ctx, req.toEvent())
	if err != nil {
		return c.JSON(400, GenericError{
			Error:   "InvalidEvent",
			Message: fmt.Sprintf("%s", err),
		})
	}
	return c.JSON(200, assessment)
}

type recordEventRequest struct {
	UserID   string            `json:"user_id,omitempty"`
	IP       string            `json:"ip,omitempty"`
	Pattern  string            `json:"pattern"`
	Severity string            `json:"severity"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type recordEventResponse struct {
	ID string `json:"id"`
}

func (srv *Server) HandleRecordEvent(c echo.Context) error {
	ctx := c.Request().Context()

	var req recordEventRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(400, GenericError{
			Error:   "InvalidBody",
			Message: fmt.Sprintf("%s", err),
		})
	}

	id, err := srv.engine.RecordEvent(ctx, event.AbuseEvent{
		Subject:  event.Subject{UserID: req.UserID, IP: req.IP},
		Pattern:  req.Pattern,
		Severity: policy.Severity(req.Severity),
		Metadata: req.Metadata,
	})
	if err != nil {
		return c.JSON(400, GenericError{
			Error:   "InvalidEvent",
			Message: fmt.Sprintf("%s", err),
		})
	}
	return c.JSON(200, recordEventResponse{ID: id})
}

type resolveEventResponse struct {
	ID       string `json:"id"`
	Resolved bool   `json:"resolved"`
}

func (srv *Server) HandleResolveEvent(c echo.Context) error {
	ctx := c.Request().Context()

	id := c.Param("id")
	ok, err := srv.engine.ResolveEvent(ctx, id)
	if err != nil {
		return c.JSON(500, GenericError{
			Error:   "InternalError",
			Message: fmt.Sprintf("%s", err),
		})
	}
	return c.JSON(200, resolveEventResponse{ID: id, Resolved: ok})
}

func (srv *Server) HandleGetStats(c echo.Context) error {
	ctx := c.Request().Context()

	stats, err := srv.engine.GetStats(ctx)
	if err != nil {
		return c.JSON(500, GenericError{
			Error:   "InternalError",
			Message: fmt.Sprintf("%s", err),
		})
	}
	return c.JSON(200, stats)
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	var errorMessage string
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		errorMessage = fmt.Sprintf("%s", he.Message)
	}
	if code >= 500 {
		srv.logger.Warn("guardd-http-internal-error", "err", err)
	}
	c.JSON(code, GenericStatus{Status: "error", Daemon: "guardd", Message: errorMessage})
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	if srv.rdb != nil {
		if _, err := srv.rdb.Ping(c.Request().Context()).Result(); err != nil {
			return c.JSON(503, GenericStatus{Status: "degraded", Daemon: "guardd", Message: "redis unreachable"})
		}
	}
	return c.JSON(200, GenericStatus{Status: "ok", Daemon: "guardd"})
}
