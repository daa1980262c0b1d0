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

// Package db implements how the ledger stores and retrieves proposals, votes,
// distributions and payouts.
// Supported storage: mongoDB, mysql and an in-process memory store.
package db

/*
Every shared mutable value is changed through a single conditional write:

- proposal tallies: increment guarded by status = active and votingEnd > now
- proposal status: update guarded by status = active
- gallery status: update guarded by the expected current status
- payout cursor: update guarded by version
- sales, votes, distributions: insert guarded by a unique key

No adapter holds an in-process lock across a network round trip.
*/
