package devkit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-paygrants/core"
)

// PageScript answers one fetch. Err wins over Response.
type PageScript struct {
	Response core.PageResponse
	Err      error
}

// FakePageDriver answers fetches from scripts keyed by "METHOD url".
// A key with no script fails the fetch.
type FakePageDriver struct {
	// LoginErr is returned from WaitForLogin when set.
	LoginErr error
	// BlockLogin makes WaitForLogin wait for ctx to end.
	BlockLogin bool

	mu       sync.Mutex
	scripts  map[string]PageScript
	requests []core.PageRequest
	logins   []core.SurfaceID
}

func NewFakePageDriver() *FakePageDriver {
	return &FakePageDriver{scripts: map[string]PageScript{}}
}

func (d *FakePageDriver) Script(method, url string, script PageScript) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts[pageKey(method, url)] = script
}

func (d *FakePageDriver) WaitForLogin(ctx context.Context, id core.SurfaceID) error {
	d.mu.Lock()
	d.logins = append(d.logins, id)
	block := d.BlockLogin
	err := d.LoginErr
	d.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (d *FakePageDriver) Fetch(ctx context.Context, _ core.SurfaceID, req core.PageRequest) (core.PageResponse, error) {
	if err := ctx.Err(); err != nil {
		return core.PageResponse{}, err
	}
	d.mu.Lock()
	d.requests = append(d.requests, clonePageRequest(req))
	script, ok := d.scripts[pageKey(req.Method, req.URL)]
	d.mu.Unlock()
	if !ok {
		return core.PageResponse{}, fmt.Errorf("devkit: no page script for %s %s", req.Method, req.URL)
	}
	if script.Err != nil {
		return core.PageResponse{}, script.Err
	}
	return script.Response, nil
}

func (d *FakePageDriver) Requests() []core.PageRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]core.PageRequest, 0, len(d.requests))
	for _, req := range d.requests {
		out = append(out, clonePageRequest(req))
	}
	return out
}

func (d *FakePageDriver) Logins() []core.SurfaceID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]core.SurfaceID(nil), d.logins...)
}

func pageKey(method, url string) string {
	return strings.ToUpper(strings.TrimSpace(method)) + " " + strings.TrimSpace(url)
}

func clonePageRequest(req core.PageRequest) core.PageRequest {
	out := req
	if req.Headers != nil {
		out.Headers = make(map[string]string, len(req.Headers))
		for key, value := range req.Headers {
			out.Headers[key] = value
		}
	}
	out.Body = append([]byte(nil), req.Body...)
	return out
}

var _ core.PageDriver = (*FakePageDriver)(nil)
