package transport

import (
	"context"
	"net/url"
	"path"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tomeflow/tomeflow/internal/core"
)

// HTTPTransport fetches documents over plain HTTP(S).
type HTTPTransport struct {
	client *resty.Client
}

func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		client: resty.New().SetTimeout(timeout),
	}
}

// Validate issues a HEAD request so queue resources are only committed to
// locators that exist. No body is fetched.
func (t *HTTPTransport) Validate(ctx context.Context, locator string) core.Validation {
	resp, err := t.client.R().SetContext(ctx).Head(locator)
	if err != nil {
		return core.Validation{Valid: false, Err: core.NewFault(core.FailValidation, err)}
	}
	if resp.IsError() {
		return core.Validation{
			Valid: false,
			Err:   core.Faultf(core.FailValidation, "HEAD %s: status %d", locator, resp.StatusCode()),
		}
	}
	return core.Validation{
		Valid:         true,
		ContentType:   resp.Header().Get("Content-Type"),
		ContentLength: resp.RawResponse.ContentLength,
	}
}

// Download fetches the full body. Timeouts, network failures and non-2xx
// responses all surface as transport faults, which the queue retries.
func (t *HTTPTransport) Download(ctx context.Context, locator string) (*core.Payload, error) {
	resp, err := t.client.R().SetContext(ctx).Get(locator)
	if err != nil {
		return nil, core.Faultf(core.FailTransport, "GET %s: %v", locator, err)
	}
	if resp.IsError() {
		return nil, core.Faultf(core.FailTransport, "GET %s: status %d", locator, resp.StatusCode())
	}
	return &core.Payload{
		Bytes:       resp.Body(),
		ContentType: resp.Header().Get("Content-Type"),
		FileName:    locatorBase(locator),
	}, nil
}

func locatorBase(locator string) string {
	u, err := url.Parse(locator)
	if err != nil || u.Path == "" {
		return path.Base(locator)
	}
	return path.Base(u.Path)
}

var _ core.Transport = (*HTTPTransport)(nil)
