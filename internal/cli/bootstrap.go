// Package cli provides CLI commands for the warden application.
package cli

import (
	gocontext "context"

	wardencontext "github.com/example/warden/internal/context"
	"github.com/example/warden/internal/wire"
)

// globalActorID stores the resolver identity for the current CLI invocation.
// Set once at startup by StoreActor().
var globalActorID string

// StoreActor resolves and stores the actor identity: the --actor flag when
// given, otherwise the configured default. Should be called once at CLI
// startup in PersistentPreRun.
func StoreActor(flagValue string) {
	if flagValue != "" {
		globalActorID = flagValue
		return
	}
	globalActorID = wire.Config().Actor
}

// GetActorID returns the stored actor ID from CLI startup.
func GetActorID() string {
	return globalActorID
}

// NewContext creates a context.Background() with the current actor ID embedded.
// CLI commands should use this instead of context.Background() directly.
func NewContext() gocontext.Context {
	ctx := gocontext.Background()
	if globalActorID != "" {
		return wardencontext.WithActorID(ctx, globalActorID)
	}
	return ctx
}
