package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/deskflow/internal/observation"
	"github.com/deskflow/internal/pipeline"
	"github.com/deskflow/internal/proposals"
	"github.com/deskflow/internal/thread"
)

func (s *Server) handleIngest(c echo.Context) error {
	var req pipeline.IngestRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.BodyText == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "body_text is required"})
	}
	if req.Channel == "" {
		req.Channel = "email"
	}

	result, err := s.orchestrator.ProcessIngest(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) getThread(c echo.Context) error {
	id := c.Param("id")
	t, err := s.threads.GetThread(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, thread.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "thread not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	messages, err := s.threads.ListMessages(c.Request().Context(), id, 0)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	events, err := s.threads.ListEvents(c.Request().Context(), id, 50)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"thread":   t,
		"messages": messages,
		"events":   events,
	})
}

type takeoverRequest struct {
	Handler string `json:"handler"`
	Channel string `json:"channel,omitempty"`
	Source  string `json:"source,omitempty"`
}

// takeoverThread normalizes an explicit admin takeover into an intervention
// signal.
func (s *Server) takeoverThread(c echo.Context) error {
	var req takeoverRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Handler == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "handler is required"})
	}

	source := observation.SignalSource(req.Source)
	switch source {
	case observation.SourceDirectReply, observation.SourceTicketUpdate, observation.SourceAdminTakeover:
	case "":
		source = observation.SourceAdminTakeover
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown signal source"})
	}

	obs, err := s.observations.Enter(c.Request().Context(), observation.InterventionSignal{
		ThreadID: c.Param("id"),
		Handler:  req.Handler,
		Channel:  req.Channel,
		Source:   source,
	})
	if err != nil {
		if errors.Is(err, thread.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "thread not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, obs)
}

type returnRequest struct {
	Resolution string `json:"resolution"`
	Summary    string `json:"summary,omitempty"`
	Handler    string `json:"handler,omitempty"`
}

// returnThread normalizes a "return to automation" action into an
// observation resolution.
func (s *Server) returnThread(c echo.Context) error {
	var req returnRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	resolution := observation.ResolutionType(req.Resolution)
	if resolution == "" {
		resolution = observation.ResolutionReturnedToAgent
	}
	if !observation.ValidResolution(resolution) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown resolution type"})
	}

	obs, err := s.observations.Exit(c.Request().Context(), c.Param("id"), observation.Resolution{
		Type:    resolution,
		Summary: req.Summary,
		Handler: req.Handler,
	})
	if err != nil {
		if errors.Is(err, observation.ErrNotActive) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, obs)
}

type observedMessageRequest struct {
	Direction string `json:"direction,omitempty"`
	From      string `json:"from,omitempty"`
	Body      string `json:"body"`
}

// recordObservedMessage feeds a message delivered outside the ingest path,
// typically the operator's own reply, into the active observation transcript.
// Without it the transcript is customer-only and proposal generation never
// sees the agent's answers.
func (s *Server) recordObservedMessage(c echo.Context) error {
	var req observedMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Body == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "body is required"})
	}

	direction := thread.Direction(req.Direction)
	switch direction {
	case thread.DirectionInbound, thread.DirectionOutbound:
	case "":
		direction = thread.DirectionOutbound
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown direction"})
	}

	threadID := c.Param("id")
	ctx := c.Request().Context()

	err := s.observations.Record(ctx, threadID, observation.ObservedMessage{
		Direction: string(direction),
		From:      req.From,
		Body:      req.Body,
	})
	if err != nil {
		if errors.Is(err, observation.ErrNotActive) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	// The thread keeps the canonical message log; the observation holds the
	// handoff transcript.
	if _, err := s.threads.AppendMessage(ctx, &thread.Message{
		ThreadID:  threadID,
		Direction: direction,
		Role:      thread.RoleMessage,
		From:      req.From,
		Body:      req.Body,
	}); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) listProposals(c echo.Context) error {
	status := c.QueryParam("status")
	list, err := s.proposals.List(c.Request().Context(), statusFromQuery(status))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"proposals": list})
}

func statusFromQuery(status string) proposals.Status {
	switch proposals.Status(status) {
	case proposals.StatusPending, proposals.StatusApproved, proposals.StatusRejected, proposals.StatusPublished:
		return proposals.Status(status)
	}
	return ""
}

type reviewRequest struct {
	Reviewer string `json:"reviewer"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) approveProposal(c echo.Context) error {
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Reviewer == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "reviewer is required"})
	}

	p, err := s.proposals.Approve(c.Request().Context(), c.Param("id"), req.Reviewer)
	if err != nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) rejectProposal(c echo.Context) error {
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Reviewer == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "reviewer is required"})
	}

	p, err := s.proposals.Reject(c.Request().Context(), c.Param("id"), req.Reviewer, req.Reason)
	if err != nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, p)
}
