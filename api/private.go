// Package api
package api

import (
	"strconv"

	"github.com/labstack/echo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/revenue"
)

type IPrivate interface {
	DistributeRevenue(c echo.Context) error
	SweepDue(c echo.Context) error
	Events(c echo.Context) error
}

func bindPrivateAPIs(gr *echo.Group, srv IPrivate, private echo.MiddlewareFunc) {
	apis := []restDefinition{
		{
			method:      echo.POST,
			path:        "/pools/:id/sales",
			fn:          srv.DistributeRevenue,
			middlewares: []echo.MiddlewareFunc{private},
		},
		{
			method:      echo.POST,
			path:        "/private/sweep",
			fn:          srv.SweepDue,
			middlewares: []echo.MiddlewareFunc{private},
		},
		{
			method:      echo.GET,
			path:        "/private/events",
			fn:          srv.Events,
			middlewares: []echo.MiddlewareFunc{private},
		},
	}
	for _, api := range apis {
		gr.Add(api.method, api.path, api.fn, api.middlewares...)
	}
}

type saleBody struct {
	TransactionRef string           `json:"transactionRef"`
	SalePrice      decimal.Decimal  `json:"salePrice"`
	FeeRate        *decimal.Decimal `json:"feeRate,omitempty"`
}

func (s *Server) DistributeRevenue(c echo.Context) error {
	lgr := s.logger.With(zap.String("method", "DistributeRevenue"))
	var body saleBody
	if err := c.Bind(&body); err != nil {
		lgr.Debug("cannot bind sale", zap.Error(err))
		return Invalid.Build(c)
	}
	rows, err := s.ledger.Distributor.Distribute(c.Request().Context(), revenue.SaleRequest{
		PoolID:         c.Param("id"),
		TransactionRef: body.TransactionRef,
		SalePrice:      body.SalePrice,
		FeeRate:        body.FeeRate,
	})
	if err != nil {
		return errorResponse(err).Build(c)
	}
	return OK.SetData(rows).Build(c)
}

func (s *Server) SweepDue(c echo.Context) error {
	resolved, err := s.ledger.Engine.SweepDue(c.Request().Context())
	if err != nil {
		s.logger.Warn("sweep finished with errors", zap.Int("resolved", resolved), zap.Error(err))
		return errorResponse(err).Build(c)
	}
	return OK.SetData(map[string]int{"resolved": resolved}).Build(c)
}

// Events lists the newest ledger events; limit defaults to 50.
func (s *Server) Events(c echo.Context) error {
	var limit int64
	if raw := c.QueryParam("limit"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 1 {
			return Invalid.Build(c)
		}
		limit = v
	}
	events, err := s.ledger.RecentEvents(c.Request().Context(), limit)
	if err != nil {
		return errorResponse(err).Build(c)
	}
	return OK.SetData(events).Build(c)
}
