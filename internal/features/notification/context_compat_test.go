package notification

import (
	"context"
	"testing"
)

// testContext mirrors testing.T.Context (Go 1.24+) for older toolchains:
// the context is cancelled by a Cleanup registered when it is created.
func testContext(tb testing.TB) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	tb.Cleanup(cancel)
	return ctx
}
