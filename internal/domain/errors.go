package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrNoPrice          = errors.New("no price available")
	ErrBelowMinNotional = errors.New("order below venue minimum notional")
	ErrMaxPositions     = errors.New("global position cap reached")
	ErrMaxPerSymbol     = errors.New("per-symbol position cap reached")
	ErrInsufficientFree = errors.New("insufficient free balance")
	ErrPositionTerminal = errors.New("position already closing or closed")
	ErrEnginePaused     = errors.New("engine paused by safety supervisor")
	ErrAmbiguousRead    = errors.New("ambiguous exchange response")
	ErrContextDone      = errors.New("context cancelled")
)
