package wallet

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/goliatone/go-paygrants/core"
	"github.com/goliatone/go-paygrants/devkit"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{input: "$ilp.interledger-test.dev/alice", want: "https://ilp.interledger-test.dev/alice"},
		{input: "$ilp.interledger-test.dev/alice/", want: "https://ilp.interledger-test.dev/alice"},
		{input: "$wallet.example", want: "https://wallet.example/.well-known/pay"},
		{input: " https://wallet.example/bob/ ", want: "https://wallet.example/bob"},
		{input: "https://wallet.example", want: "https://wallet.example"},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.input)
		if err != nil {
			t.Fatalf("normalize %q: %v", tc.input, err)
		}
		if got != tc.want {
			t.Fatalf("normalize %q: expected %q, got %q", tc.input, tc.want, got)
		}
	}

	for _, input := range []string{"", "wallet.example/alice", "http://wallet.example/alice", "https://wallet.example/alice?x=1", "https://user:pw@wallet.example/"} {
		if _, err := Normalize(input); !errors.Is(err, core.ErrInvalidWalletAddress) {
			t.Fatalf("expected %q to be rejected, got %v", input, err)
		}
	}
}

func TestResolve_FetchesAndValidates(t *testing.T) {
	transport := devkit.NewFakeTransportAdapter("rest", devkit.TransportScript{Response: core.TransportResponse{
		StatusCode: http.StatusOK,
		Body: []byte(`{
			"id":"https://ilp.interledger-test.dev/alice",
			"publicName":"Alice",
			"assetCode":"USD",
			"assetScale":2,
			"authServer":"https://auth.interledger-test.dev",
			"resourceServer":"https://ilp.interledger-test.dev"
		}`),
	}})
	resolver := NewResolver(transport)

	wallet, err := resolver.Resolve(context.Background(), "$ilp.interledger-test.dev/alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if wallet.AuthServer != "https://auth.interledger-test.dev" || wallet.AssetScale != 2 || wallet.PublicName != "Alice" {
		t.Fatalf("unexpected wallet %+v", wallet)
	}

	requests := transport.Requests()
	if len(requests) != 1 {
		t.Fatalf("expected one request, got %d", len(requests))
	}
	if requests[0].Method != http.MethodGet || requests[0].URL != "https://ilp.interledger-test.dev/alice" {
		t.Fatalf("unexpected request %+v", requests[0])
	}
	if requests[0].Headers["Accept"] != "application/json" {
		t.Fatalf("expected json accept header")
	}
}

func TestResolve_ZeroScaleIsValid(t *testing.T) {
	transport := devkit.NewFakeTransportAdapter("rest", devkit.TransportScript{Response: core.TransportResponse{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"id":"https://w.example/jpy","assetCode":"JPY","assetScale":0,"authServer":"https://auth.w.example","resourceServer":"https://w.example"}`),
	}})
	wallet, err := NewResolver(transport).Resolve(context.Background(), "https://w.example/jpy")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if wallet.AssetScale != 0 {
		t.Fatalf("expected scale 0, got %d", wallet.AssetScale)
	}
}

func TestResolve_RejectsIncompleteDocuments(t *testing.T) {
	bodies := []string{
		`not json`,
		`{"id":"https://w.example/a","assetCode":"USD","authServer":"https://auth.w.example","resourceServer":"https://w.example"}`,
		`{"id":"https://w.example/a","assetCode":"USD","assetScale":2,"resourceServer":"https://w.example"}`,
		`{"id":"https://w.example/a","assetCode":"USD","assetScale":2,"authServer":"http://auth.w.example","resourceServer":"https://w.example"}`,
		`{"id":"https://w.example/a","assetCode":"USD","assetScale":2,"authServer":"https://auth.w.example"}`,
	}
	for _, body := range bodies {
		transport := devkit.NewFakeTransportAdapter("rest", devkit.TransportScript{Response: core.TransportResponse{
			StatusCode: http.StatusOK,
			Body:       []byte(body),
		}})
		if _, err := NewResolver(transport).Resolve(context.Background(), "https://w.example/a"); !errors.Is(err, core.ErrInvalidWalletAddress) {
			t.Fatalf("expected %s to be rejected, got %v", body, err)
		}
	}
}

func TestResolve_MapsStatusCodes(t *testing.T) {
	notFound := devkit.NewFakeTransportAdapter("rest", devkit.TransportScript{Response: core.TransportResponse{StatusCode: http.StatusNotFound}})
	if _, err := NewResolver(notFound).Resolve(context.Background(), "https://w.example/a"); !errors.Is(err, core.ErrInvalidWalletAddress) {
		t.Fatalf("expected not found to be an invalid address, got %v", err)
	}

	unavailable := devkit.NewFakeTransportAdapter("rest", devkit.TransportScript{Response: core.TransportResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       []byte("down"),
	}})
	_, err := NewResolver(unavailable).Resolve(context.Background(), "https://w.example/a")
	var httpErr *core.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected upstream http error, got %v", err)
	}
}
