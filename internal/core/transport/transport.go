package transport

import (
	"context"
	"strings"

	"github.com/tomeflow/tomeflow/internal/core"
)

// LocatorTransport routes each locator to the right fetcher: http(s) URLs go
// over the web client, anything else is treated as an object-storage key.
type LocatorTransport struct {
	http   core.Transport
	object core.Transport
}

func NewLocatorTransport(httpT, objectT core.Transport) *LocatorTransport {
	return &LocatorTransport{http: httpT, object: objectT}
}

func (t *LocatorTransport) pick(locator string) core.Transport {
	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		return t.http
	}
	return t.object
}

func (t *LocatorTransport) Validate(ctx context.Context, locator string) core.Validation {
	return t.pick(locator).Validate(ctx, locator)
}

func (t *LocatorTransport) Download(ctx context.Context, locator string) (*core.Payload, error) {
	return t.pick(locator).Download(ctx, locator)
}

var _ core.Transport = (*LocatorTransport)(nil)
