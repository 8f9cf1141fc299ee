package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/councild/internal/archive"
	"github.com/fyrsmithlabs/councild/internal/ceremony"
	"github.com/fyrsmithlabs/councild/internal/field"
	"github.com/fyrsmithlabs/councild/internal/transport"
)

const (
	defaultWisdomLimit = 10
	maxWisdomLimit     = 100
)

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:   "ok",
		Version:  s.config.Version,
		Services: serviceStates(s.registry),
		Counts:   CountFromRegistry(s.registry),
		Field:    fieldResponse(s.registry.Field().State()),
	})
}

func (s *Server) handleField(c echo.Context) error {
	return c.JSON(http.StatusOK, fieldResponse(s.registry.Field().State()))
}

func fieldResponse(st field.State) FieldResponse {
	p := field.PresenceFor(st)
	return FieldResponse{State: st, Presence: p.Text, Online: p.Online}
}

func (s *Server) handleCeremonies(c echo.Context) error {
	orch := s.registry.Ceremonies()
	sched := s.registry.Scheduler()

	defs := orch.Definitions()
	resp := CeremoniesResponse{
		Definitions: make([]ScheduledDefinition, 0, len(defs)),
		Active:      orch.ActiveInstances(),
	}
	for _, d := range defs {
		sd := ScheduledDefinition{Definition: d}
		if next, ok := sched.Next(d.ID); ok {
			sd.Next = &next
		}
		resp.Definitions = append(resp.Definitions, sd)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStartCeremony(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	instanceID, err := s.registry.Ceremonies().Start(ctx, id)
	if err != nil {
		s.logger.Info("ceremony start rejected", zap.String("definition_id", id), zap.Error(err))
		return echo.NewHTTPError(startStatus(err), err.Error())
	}

	def, _ := s.registry.Ceremonies().Definition(id)
	return c.JSON(http.StatusAccepted, StartResponse{InstanceID: instanceID, Channel: def.Channel})
}

// startStatus maps ceremony start errors to HTTP status codes.
func startStatus(err error) int {
	switch {
	case errors.Is(err, ceremony.ErrUnknownDefinition):
		return http.StatusNotFound
	case errors.Is(err, ceremony.ErrOverlapRejected):
		return http.StatusConflict
	case errors.Is(err, ceremony.ErrTransportUnavailable), errors.Is(err, ceremony.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleMessage accepts an inbound chat message from a webhook bridge and
// hands it to the hub as if it had arrived on the transport.
func (s *Server) handleMessage(c echo.Context) error {
	inbox := s.registry.Inbox()
	if inbox == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "inbox is not available")
	}

	var in transport.Inbound
	if err := c.Bind(&in); err != nil {
		s.logger.Warn("invalid message request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if in.AuthorID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "author_id field is required")
	}
	if in.ChannelName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel_name field is required")
	}
	if in.ChannelID == "" {
		in.ChannelID = in.ChannelName
	}
	if in.ID == "" {
		in.ID = c.Response().Header().Get(echo.HeaderXRequestID)
	}

	inbox.HandleMessage(c.Request().Context(), in)
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleOracle(c echo.Context) error {
	var req OracleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question field is required")
	}
	return c.JSON(http.StatusOK, s.registry.Council().QuickQuery(c.Request().Context(), req.Question))
}

// handleCouncil runs a deliberation synchronously. A client disconnect ends
// the session early; the synthesis still covers the perspectives gathered.
func (s *Server) handleCouncil(c echo.Context) error {
	var req CouncilRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic field is required")
	}

	session, syn := s.registry.Council().Deliberate(c.Request().Context(), req.Topic)
	return c.JSON(http.StatusOK, CouncilResponse{Session: session, Synthesis: syn})
}

// handleWisdom lists recent archive entries, or searches them when q is set.
func (s *Server) handleWisdom(c echo.Context) error {
	arch := s.registry.Archive()
	if arch == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "wisdom archive is disabled")
	}

	limit := defaultWisdomLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxWisdomLimit)
	}

	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return c.JSON(http.StatusOK, WisdomResponse{Entries: arch.Recent(limit)})
	}

	results, err := arch.Search(c.Request().Context(), q, limit)
	if err != nil {
		if errors.Is(err, archive.ErrEmptyQuery) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("wisdom search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}
	return c.JSON(http.StatusOK, WisdomResponse{Results: results})
}
