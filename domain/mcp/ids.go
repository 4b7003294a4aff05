package mcp

import "github.com/google/uuid"

func newSessionID() string { return uuid.NewString() }
func newStreamID() string  { return uuid.NewString() }
func newTaskID() string    { return uuid.NewString() }
func newElicitationID() string { return uuid.NewString() }
