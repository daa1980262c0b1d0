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
// Package api exposes the ledger over REST.
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo"

	"github.com/kardiachain/dao-ledger/types"
)

var (
	OK             = EchoResponse{StatusCode: http.StatusOK, Code: 1000, Msg: "Success"}
	InternalServer = EchoResponse{StatusCode: http.StatusInternalServerError, Code: 1100, Msg: "Server busy..."}
	Invalid        = EchoResponse{StatusCode: http.StatusBadRequest, Code: 1101, Msg: "Bad request"}
	Unauthorized   = EchoResponse{StatusCode: http.StatusUnauthorized, Code: 401, Msg: "Unauthorized"}
	NotFound       = EchoResponse{StatusCode: http.StatusNotFound, Code: 1104, Msg: "Not found"}
	Conflict       = EchoResponse{StatusCode: http.StatusConflict, Code: 1109, Msg: "Conflict"}
	Unprocessable  = EchoResponse{StatusCode: http.StatusUnprocessableEntity, Code: 1122, Msg: "Unprocessable"}
	Unavailable    = EchoResponse{StatusCode: http.StatusServiceUnavailable, Code: 1103, Msg: "Service unavailable"}
)

type EchoResponse struct {
	StatusCode int         `json:"-"`
	Code       int         `json:"code"`
	Msg        string      `json:"msg"`
	Data       interface{} `json:"data,omitempty"`
}

// SetData returns a copy carrying data; the package level responses are shared.
func (r EchoResponse) SetData(data interface{}) *EchoResponse {
	r.Data = data
	return &r
}

func (r EchoResponse) WithMsg(msg string) *EchoResponse {
	r.Msg = msg
	return &r
}

func (r *EchoResponse) Build(c echo.Context) error {
	return c.JSON(r.StatusCode, r)
}

var (
	notFoundErrors = []error{types.ErrNotFound}
	conflictErrors = []error{
		types.ErrDuplicateVote, types.ErrProposalClosed, types.ErrConcurrentClaimConflict,
		types.ErrRecordExist, types.ErrCascadeFailed, types.ErrVersionConflict,
	}
	unprocessableErrors = []error{
		types.ErrInvalidVote, types.ErrInvalidProposal, types.ErrInvalidSale, types.ErrInvalidDestination,
		types.ErrNoEligibleRecipients, types.ErrNothingToClaim, types.ErrInvalidRequest,
	}
)

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// errorResponse maps a ledger error to its HTTP response. Only ledger error
// text reaches the client.
func errorResponse(err error) *EchoResponse {
	switch {
	case isAny(err, notFoundErrors):
		return NotFound.WithMsg(err.Error())
	case isAny(err, conflictErrors):
		return Conflict.WithMsg(err.Error())
	case isAny(err, unprocessableErrors):
		return Unprocessable.WithMsg(err.Error())
	case errors.Is(err, types.ErrStoreUnavailable):
		return Unavailable.WithMsg(types.ErrStoreUnavailable.Error())
	case errors.Is(err, types.ErrPayoutExecutionFailed):
		return InternalServer.WithMsg(types.ErrPayoutExecutionFailed.Error())
	default:
		return InternalServer.WithMsg(InternalServer.Msg)
	}
}
