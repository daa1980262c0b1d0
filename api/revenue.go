package api

import (
	"github.com/labstack/echo"

	"github.com/kardiachain/dao-ledger/revenue"
)

func (s *Server) Distributions(c echo.Context) error {
	rows, err := s.ledger.Distributor.Distributions(c.Request().Context(), c.Param("id"), c.Param("ref"))
	if err != nil {
		return errorResponse(err).Build(c)
	}
	return OK.SetData(rows).Build(c)
}

func (s *Server) Balance(c echo.Context) error {
	balance, err := s.ledger.Ledger.Balance(c.Request().Context(), c.Param("user"), c.Param("id"))
	if err != nil {
		return errorResponse(err).Build(c)
	}
	return OK.SetData(balance).Build(c)
}

func (s *Server) Claim(c echo.Context) error {
	var body struct {
		UserID      string `json:"userId"`
		Destination string `json:"destination"`
	}
	if err := c.Bind(&body); err != nil {
		return Invalid.Build(c)
	}
	payout, err := s.ledger.Ledger.Claim(c.Request().Context(), revenue.ClaimRequest{
		UserID:      callerOr(c, body.UserID),
		PoolID:      c.Param("id"),
		Destination: body.Destination,
	})
	if err != nil {
		return errorResponse(err).Build(c)
	}
	return OK.SetData(payout).Build(c)
}

func (s *Server) Payouts(c echo.Context) error {
	payouts, err := s.ledger.Ledger.Payouts(c.Request().Context(), c.Param("user"), c.Param("id"))
	if err != nil {
		return errorResponse(err).Build(c)
	}
	return OK.SetData(payouts).Build(c)
}
