// Package api
package api

import (
	"github.com/labstack/echo"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/server"
)

type restDefinition struct {
	method      string
	path        string
	fn          func(c echo.Context) error
	middlewares []echo.MiddlewareFunc
}

type IGovernance interface {
	CreateCommunity(c echo.Context) error
	AddMember(c echo.Context) error
	Members(c echo.Context) error
	CreateGallery(c echo.Context) error
	CreateProposal(c echo.Context) error
	Proposal(c echo.Context) error
	CommunityProposals(c echo.Context) error
	CastVote(c echo.Context) error
	Votes(c echo.Context) error
	Resolve(c echo.Context) error
	RetryCascade(c echo.Context) error
}

type IRevenue interface {
	Distributions(c echo.Context) error
	Balance(c echo.Context) error
	Claim(c echo.Context) error
	Payouts(c echo.Context) error
}

// RestServer define all API expose
type RestServer interface {
	IPrivate
	IGovernance
	IRevenue

	Ping(c echo.Context) error
}

type Config struct {
	// HttpRequestSecret guards the private endpoints.
	HttpRequestSecret string
	// JWTSecret, when set, makes a bearer token mandatory on caller-scoped
	// endpoints. Its subject is the caller id.
	JWTSecret string
	Logger    *zap.Logger
}

type Server struct {
	logger              *zap.Logger
	authorizationSecret string
	jwtSecret           []byte

	ledger *server.Server
}

func New(ledger *server.Server, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Server{
		logger:              cfg.Logger.With(zap.String("component", "api")),
		authorizationSecret: cfg.HttpRequestSecret,
		ledger:              ledger,
	}
	if cfg.JWTSecret != "" {
		s.jwtSecret = []byte(cfg.JWTSecret)
	}
	return s
}

func (s *Server) Register(gr *echo.Group) {
	bind(gr, s, s.callerIdentity, s.privateOnly)
}

// bind registers every route; caller resolves the caller id of
// caller-scoped routes and private guards the private ones.
func bind(gr *echo.Group, srv RestServer, identity, private echo.MiddlewareFunc) {
	caller := []echo.MiddlewareFunc{identity}
	apis := []restDefinition{
		{method: echo.GET, path: "/ping", fn: srv.Ping},

		// Directory
		{method: echo.POST, path: "/communities", fn: srv.CreateCommunity, middlewares: caller},
		{method: echo.POST, path: "/communities/:id/members", fn: srv.AddMember},
		{method: echo.GET, path: "/communities/:id/members", fn: srv.Members},
		{method: echo.GET, path: "/communities/:id/proposals", fn: srv.CommunityProposals},
		{method: echo.POST, path: "/galleries", fn: srv.CreateGallery},

		// Proposals
		{method: echo.POST, path: "/proposals", fn: srv.CreateProposal, middlewares: caller},
		{method: echo.GET, path: "/proposals/:id", fn: srv.Proposal},
		{method: echo.POST, path: "/proposals/:id/votes", fn: srv.CastVote, middlewares: caller},
		{method: echo.GET, path: "/proposals/:id/votes", fn: srv.Votes},
		{method: echo.POST, path: "/proposals/:id/resolve", fn: srv.Resolve},
		{method: echo.POST, path: "/proposals/:id/cascade", fn: srv.RetryCascade},

		// Revenue
		{method: echo.GET, path: "/pools/:id/sales/:ref", fn: srv.Distributions},
		{method: echo.GET, path: "/pools/:id/balances/:user", fn: srv.Balance},
		{method: echo.POST, path: "/pools/:id/claims", fn: srv.Claim, middlewares: caller},
		{method: echo.GET, path: "/pools/:id/payouts/:user", fn: srv.Payouts},
	}
	for _, api := range apis {
		gr.Add(api.method, api.path, api.fn, api.middlewares...)
	}
	bindPrivateAPIs(gr, srv, private)
}
