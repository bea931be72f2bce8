// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

// ErrTooBusy reports storage resource exhaustion. Callers may back off and retry.
var ErrTooBusy = errors.New("database too busy")

var ErrNotFound = errors.New("not found")
var ErrDuplicateID = errors.New("duplicate id")
var ErrUnknownAgent = errors.New("unknown agent")
var ErrInvalidProposal = errors.New("invalid proposal")
var ErrInvalidAction = errors.New("invalid action")
var ErrUnknownMessageType = errors.New("unknown message type")
var ErrUnknownActionType = errors.New("unknown action type")
var ErrProposalNotPending = errors.New("proposal not pending")
