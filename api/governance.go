package api

import (
	"strconv"

	"github.com/labstack/echo"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/cfg"
	"github.com/kardiachain/dao-ledger/governance"
	"github.com/kardiachain/dao-ledger/types"
)

func (s *Server) Ping(c echo.Context) error {
	type pingStat struct {
		Version string `json:"version"`
	}
	if err := s.ledger.Ping(c.Request().Context()); err != nil {
		s.logger.Warn("ping failed", zap.Error(err))
		return Unavailable.Build(c)
	}
	return OK.SetData(&pingStat{Version: cfg.ServerVersion}).Build(c)
}

func (s *Server) CreateCommunity(c echo.Context) error {
	var body struct {
		Name  string `json:"name"`
		Owner string `json:"owner"`
	}
	if err := c.Bind(&body); err != nil {
		return Invalid.Build(c)
	}
	community, err := s.ledger.Directory.CreateCommunity(c.Request().Context(), body.Name, callerOr(c, body.Owner))
	if err != nil {
		return errorResponse(err).Build(c)
	}
	return OK.SetData(community).Build(c)
}

func (s *Server) AddMember(c echo.Context) error {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := c.Bind(&body); err != nil {
		return Invalid.Build(c)
	}
	if err := s.ledger.Directory.AddMember(c.Request().Context(), c.Param("id"), body.UserID); err != nil {
		return errorResponse(err).Build(c)
	}
	return OK.Build(c)
}

func (s *Server) Members(c echo.Context) error {
	members, err := s.ledger.Directory.Members(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(err).Build(c)
	}
	return OK.SetData(members).Build(c)
}

func (s *Server) CreateGallery(c echo.Context) error {
	var body struct {
		CommunityID string `json:"communityId"`
		Name        string `json:"name"`
	}
	if err := c.Bind(&body); err != nil {
		return Invalid.Build(c)
	}
	gallery, err := s.ledger.Directory.CreateGallery(c.Request().Context(), body.CommunityID, body.Name)
	if err != nil {
		return errorResponse(err).Build(c)
	}
	return OK.SetData(gallery).Build(c)
}

func (s *Server) CreateProposal(c echo.Context) error {
	var req governance.CreateProposalRequest
	if err := c.Bind(&req); err != nil {
		return Invalid.Build(c)
	}
	req.Creator = callerOr(c, req.Creator)
	proposal, err := s.ledger.Engine.CreateProposal(c.Request().Context(), req)
	if err != nil {
		return errorResponse(err).Build(c)
	}
	return OK.SetData(proposal).Build(c)
}

func (s *Server) Proposal(c echo.Context) error {
	proposal, err := s.ledger.Engine.Proposal(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(err).Build(c)
	}
	return OK.SetData(proposal).Build(c)
}

func getPagingOption(c echo.Context) *types.Pagination {
	skip, err := strconv.Atoi(c.QueryParam("skip"))
	if err != nil {
		skip = 0
	}
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil {
		limit = 0
	}
	p := &types.Pagination{Skip: skip, Limit: limit}
	p.Sanitize()
	return p
}

func (s *Server) CommunityProposals(c echo.Context) error {
	proposals, err := s.ledger.Engine.Proposals(c.Request().Context(), c.Param("id"), getPagingOption(c))
	if err != nil {
		return errorResponse(err).Build(c)
	}
	return OK.SetData(proposals).Build(c)
}

func (s *Server) CastVote(c echo.Context) error {
	var body struct {
		VoterID string `json:"voterId"`
		Choice  bool   `json:"choice"`
		Weight  uint64 `json:"weight"`
	}
	if err := c.Bind(&body); err != nil {
		return Invalid.Build(c)
	}
	res, err := s.ledger.Tally.CastVote(c.Request().Context(), governance.Ballot{
		ProposalID: c.Param("id"),
		VoterID:    callerOr(c, body.VoterID),
		Choice:     body.Choice,
		Weight:     body.Weight,
	})
	if err != nil {
		return errorResponse(err).Build(c)
	}
	return OK.SetData(res).Build(c)
}

func (s *Server) Votes(c echo.Context) error {
	votes, err := s.ledger.Tally.Votes(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(err).Build(c)
	}
	return OK.SetData(votes).Build(c)
}

type resolution struct {
	Proposal     *types.Proposal    `json:"proposal"`
	Transitioned bool               `json:"transitioned"`
	Trigger      governance.Trigger `json:"trigger,omitempty"`
	CascadeError string             `json:"cascadeError,omitempty"`
}

func newResolution(r *governance.Resolution) *resolution {
	out := &resolution{Proposal: r.Proposal, Transitioned: r.Transitioned, Trigger: r.Trigger}
	if r.CascadeErr != nil {
		out.CascadeError = r.CascadeErr.Error()
	}
	return out
}

func (s *Server) Resolve(c echo.Context) error {
	res, err := s.ledger.Engine.ResolveIfDue(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(err).Build(c)
	}
	return OK.SetData(newResolution(res)).Build(c)
}

func (s *Server) RetryCascade(c echo.Context) error {
	res, err := s.ledger.Engine.RetryCascade(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(err).Build(c)
	}
	return OK.SetData(newResolution(res)).Build(c)
}
