/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"log"
	"time"
)

// logf emits a diagnostic line gated on cfg.verbose. It is the normal
// path for request-tracing and room lifecycle notices.
func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

// logFault always logs, verbose or not. Per §7, internal faults
// (persistence failures, a missing player record at settlement,
// timer-handler errors) must be logged unconditionally and must never
// abort the caller's remaining work.
func logFault(format string, args ...any) {
	log.Printf("%s | FAULT: "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

// errorCode is the discriminant carried on an "error" frame (§6/§7).
type errorCode string

const (
	errInvalidMoveFormat errorCode = "invalid_move_format"
	errNotYourTurn       errorCode = "not_your_turn"
	errGameNotPlaying    errorCode = "game_not_playing"
	errInvalidGameEnd    errorCode = "invalid_game_end"
	errPolicyError       errorCode = "policy_error"
	errCapacityExceeded  errorCode = "capacity_exceeded"
)

// closeCode is one of the WebSocket close codes the core uses (§6).
type closeCode int

const (
	closeHeartbeatTimeout closeCode = 1001
	closePolicyError      closeCode = 1002
	closeCapacityExceeded closeCode = 1008
)
