package main

import (
	"time"

	"github.com/google/uuid"
)

// newLobbyID mints a lobby identifier. uuid is already pulled in
// transitively by viper; promoting it to a direct dependency here
// saves inventing a bespoke id scheme for the one place the server
// needs random, unguessable ids (private lobby links).
func newLobbyID() string {
	return uuid.NewString()
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
