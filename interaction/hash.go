package interaction

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-paygrants/core"
)

// EndpointCanonicalizer turns the authorization server URL into the grant
// endpoint string that takes part in the interaction hash. Providers differ
// here, so it is pluggable.
type EndpointCanonicalizer func(grantEndpoint string) (string, error)

// OriginEndpoint reduces the endpoint to its origin with a trailing slash.
func OriginEndpoint(grantEndpoint string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(grantEndpoint))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("interaction: grant endpoint %q is not an absolute url", grantEndpoint)
	}
	return parsed.Scheme + "://" + parsed.Host + "/", nil
}

// ExactEndpoint uses the endpoint as configured.
func ExactEndpoint(grantEndpoint string) (string, error) {
	trimmed := strings.TrimSpace(grantEndpoint)
	if trimmed == "" {
		return "", fmt.Errorf("interaction: grant endpoint is required")
	}
	return trimmed, nil
}

func CanonicalizerFor(mode string) EndpointCanonicalizer {
	if strings.TrimSpace(mode) == core.HashEndpointURL {
		return ExactEndpoint
	}
	return OriginEndpoint
}

// Hash computes the interaction hash the authorization server attaches to
// the finish redirect.
func Hash(clientNonce, interactNonce, interactRef, grantEndpoint string) string {
	sum := sha256.Sum256([]byte(clientNonce + "\n" + interactNonce + "\n" + interactRef + "\n" + grantEndpoint))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyHash reports whether hash matches the session inputs.
func VerifyHash(session core.InteractionSession, hash string) bool {
	expected := Hash(session.ClientNonce, session.InteractNonce, session.InteractRef, session.GrantEndpoint)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(hash))) == 1
}
