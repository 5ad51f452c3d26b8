package provider

import (
	"context"
)

// Dispatcher delivers one rendered payload to a webhook endpoint.
// Deliver reports success only; failures are logged by the implementation
// and never returned, so a broken platform cannot abort a flush.
//
// Mocking this interface in tests gives full control over delivery
// outcomes without making real HTTP calls.
type Dispatcher interface {
	Deliver(ctx context.Context, endpoint string, payload any) bool
}

// compile-time checks
var (
	_ Dispatcher = (*WebhookDispatcher)(nil)
)
