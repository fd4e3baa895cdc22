package signing

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-paygrants/core"
)

const (
	HeaderSignature      = "Signature"
	HeaderSignatureInput = "Signature-Input"
	HeaderContentDigest  = "Content-Digest"
	HeaderContentLength  = "Content-Length"
	HeaderContentType    = "Content-Type"
	HeaderAuthorization  = "Authorization"

	ContentTypeJSON = "application/json"

	signatureLabel = "sig1"
)

// Request describes the outgoing request to sign. A non-empty Body means the
// request carries a body.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

type SignatureHeaders struct {
	Signature      string
	SignatureInput string
	ContentDigest  string
	ContentLength  string
	ContentType    string
}

// Map returns the headers to attach, skipping body headers when unset.
func (h SignatureHeaders) Map() map[string]string {
	out := map[string]string{
		HeaderSignature:      h.Signature,
		HeaderSignatureInput: h.SignatureInput,
	}
	if h.ContentDigest != "" {
		out[HeaderContentDigest] = h.ContentDigest
		out[HeaderContentLength] = h.ContentLength
		out[HeaderContentType] = h.ContentType
	}
	return out
}

func (h SignatureHeaders) Apply(header http.Header) {
	for key, value := range h.Map() {
		header.Set(key, value)
	}
}

type Option func(*Signer)

func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

// Signer produces RFC 9421 style ed25519 signatures. It never mutates the
// key material it was built from.
type Signer struct {
	keyID      string
	privateKey ed25519.PrivateKey
	now        func() time.Time
}

func NewSigner(keys core.KeyPair, opts ...Option) (*Signer, error) {
	if strings.TrimSpace(keys.KeyID) == "" {
		return nil, &core.SigningPreconditionError{Field: "key id"}
	}
	if len(keys.PrivateKey) != ed25519.PrivateKeySize {
		return nil, &core.SigningPreconditionError{Field: "private key"}
	}
	signer := &Signer{
		keyID:      keys.KeyID,
		privateKey: append(ed25519.PrivateKey(nil), keys.PrivateKey...),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(signer)
		}
	}
	return signer, nil
}

func (s *Signer) KeyID() string {
	if s == nil {
		return ""
	}
	return s.keyID
}

func (s *Signer) Sign(req Request) (SignatureHeaders, error) {
	if s == nil {
		return SignatureHeaders{}, &core.SigningPreconditionError{Field: "signer"}
	}
	return s.SignAt(req, s.now())
}

// SignAt signs with a fixed created timestamp. Equal inputs give equal output.
func (s *Signer) SignAt(req Request, created time.Time) (SignatureHeaders, error) {
	if s == nil || len(s.privateKey) != ed25519.PrivateKeySize {
		return SignatureHeaders{}, &core.SigningPreconditionError{Field: "private key"}
	}
	if strings.TrimSpace(req.Method) == "" {
		return SignatureHeaders{}, &core.SigningPreconditionError{Field: "method"}
	}
	if strings.TrimSpace(req.URL) == "" {
		return SignatureHeaders{}, &core.SigningPreconditionError{Field: "url"}
	}

	out := SignatureHeaders{}
	values := map[string]string{
		"@method":     strings.ToUpper(strings.TrimSpace(req.Method)),
		"@target-uri": strings.TrimSpace(req.URL),
	}
	components := []string{"@method", "@target-uri"}
	if auth, ok := lookupHeader(req.Headers, HeaderAuthorization); ok {
		components = append(components, "authorization")
		values["authorization"] = auth
	}
	if len(req.Body) > 0 {
		out.ContentDigest = ContentDigest(req.Body)
		out.ContentLength = strconv.Itoa(len(req.Body))
		out.ContentType = ContentTypeJSON
		components = append(components, "content-digest", "content-length", "content-type")
		values["content-digest"] = out.ContentDigest
		values["content-length"] = out.ContentLength
		values["content-type"] = out.ContentType
	}

	params := signatureParams(components, s.keyID, created.Unix())
	base := signatureBase(components, values, params)
	signature := ed25519.Sign(s.privateKey, []byte(base))

	out.Signature = fmt.Sprintf("%s=:%s:", signatureLabel, base64.StdEncoding.EncodeToString(signature))
	out.SignatureInput = fmt.Sprintf("%s=%s", signatureLabel, params)
	return out, nil
}

// ContentDigest returns the RFC 9530 sha-512 digest header value.
func ContentDigest(body []byte) string {
	sum := sha512.Sum512(body)
	return "sha-512=:" + base64.StdEncoding.EncodeToString(sum[:]) + ":"
}

func signatureParams(components []string, keyID string, created int64) string {
	quoted := make([]string, len(components))
	for i, component := range components {
		quoted[i] = strconv.Quote(component)
	}
	return fmt.Sprintf("(%s);keyid=%s;created=%d", strings.Join(quoted, " "), strconv.Quote(keyID), created)
}

func signatureBase(components []string, values map[string]string, params string) string {
	var b strings.Builder
	for _, component := range components {
		b.WriteString(strconv.Quote(component))
		b.WriteString(": ")
		b.WriteString(values[component])
		b.WriteString("\n")
	}
	b.WriteString(`"@signature-params": `)
	b.WriteString(params)
	return b.String()
}

func lookupHeader(headers map[string]string, name string) (string, bool) {
	for key, value := range headers {
		if strings.EqualFold(strings.TrimSpace(key), name) {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}
