package engine

import "github.com/google/uuid"

// FlowTokenGenerator issues the token that ties a top-level call (spawn,
// message, assign or cron tick) to every effect it dispatches. Logs carry
// it as "flow" and the cycle detector keys its history by it.
type FlowTokenGenerator interface {
	Generate() string
}

// FlowTokenFunc adapts a plain function to FlowTokenGenerator.
type FlowTokenFunc func() string

// Generate calls f.
func (f FlowTokenFunc) Generate() string { return f() }

// UUIDv7Tokens is the default generator. UUIDv7 tokens lead with their
// creation time, so sorting logs by flow keeps calls in order.
var UUIDv7Tokens FlowTokenGenerator = FlowTokenFunc(func() string {
	return uuid.Must(uuid.NewV7()).String()
})
