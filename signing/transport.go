package signing

import (
	"context"
	"fmt"
	"net/url"

	"github.com/goliatone/go-paygrants/core"
)

// SignedTransport signs every request before handing it to the next adapter.
type SignedTransport struct {
	next   core.TransportAdapter
	signer *Signer
}

func NewSignedTransport(next core.TransportAdapter, signer *Signer) *SignedTransport {
	return &SignedTransport{next: next, signer: signer}
}

func (t *SignedTransport) Kind() string {
	if t == nil || t.next == nil {
		return "signed"
	}
	return "signed+" + t.next.Kind()
}

func (t *SignedTransport) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if t == nil || t.next == nil {
		return core.TransportResponse{}, fmt.Errorf("signing: transport is not configured")
	}
	if t.signer == nil {
		return core.TransportResponse{}, &core.SigningPreconditionError{Field: "signer"}
	}
	target, err := targetURI(req)
	if err != nil {
		return core.TransportResponse{}, err
	}
	headers, err := t.signer.Sign(Request{
		Method:  req.Method,
		URL:     target,
		Headers: req.Headers,
		Body:    req.Body,
	})
	if err != nil {
		return core.TransportResponse{}, err
	}

	signed := req
	signed.URL = target
	signed.Query = nil
	signed.Headers = make(map[string]string, len(req.Headers)+5)
	for key, value := range req.Headers {
		signed.Headers[key] = value
	}
	for key, value := range headers.Map() {
		signed.Headers[key] = value
	}
	return t.next.Do(ctx, signed)
}

// targetURI folds query parameters into the URL so the signed target
// matches the request that goes on the wire.
func targetURI(req core.TransportRequest) (string, error) {
	if len(req.Query) == 0 {
		return req.URL, nil
	}
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return "", fmt.Errorf("signing: invalid request url: %w", err)
	}
	query := parsed.Query()
	for key, value := range req.Query {
		query.Set(key, value)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

var _ core.TransportAdapter = (*SignedTransport)(nil)
