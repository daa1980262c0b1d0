/*
 *  Copyright 2018 KardiaChain
 *  This file is part of the go-kardia library.
 *
 *  The go-kardia library is free software: you can redistribute it and/or modify
 *  it under the terms of the GNU Lesser General Public License as published by
 *  the Free Software Foundation, either version 3 of the License, or
 *  (at your option) any later version.
 *
 *  The go-kardia library is distributed in the hope that it will be useful,
 *  but WITHOUT ANY WARRANTY; without even the implied warranty of
 *  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 *  GNU Lesser General Public License for more details.
 *
 *  You should have received a copy of the GNU Lesser General Public License
 *  along with the go-kardia library. If not, see <http://www.gnu.org/licenses/>.
 */

package api

import (
	"net/http"

	"github.com/labstack/echo"
	"github.com/labstack/echo/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// EchoServer define all API expose
type EchoServer interface {
	RestServer
	Register(gr *echo.Group)
	MetricsHandler() http.Handler
}

// NewEcho builds the HTTP router with every route under /api/v1.
func NewEcho(srv EchoServer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.Logger())
	e.Use(middleware.Gzip())

	v1Gr := e.Group("/api/v1")
	srv.Register(v1Gr)
	v1Gr.GET("/metrics", echo.WrapHandler(srv.MetricsHandler()))
	return e
}

// Start serves e until it is shut down.
func Start(e *echo.Echo, port string, logger *zap.Logger) error {
	logger.Info("API server", zap.String("port", port))
	if err := e.Start(port); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.ledger.Metrics.Registry(), promhttp.HandlerOpts{})
}
