package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrSignatureInvalid = errors.New("signing: signature verification failed")

// ParsedInput is the decoded Signature-Input member.
type ParsedInput struct {
	Label      string
	Components []string
	KeyID      string
	Created    int64
	Params     string
}

func ParseSignatureInput(raw string) (ParsedInput, error) {
	label, params, ok := strings.Cut(strings.TrimSpace(raw), "=")
	if !ok || strings.TrimSpace(label) == "" {
		return ParsedInput{}, fmt.Errorf("signing: malformed signature input")
	}
	out := ParsedInput{Label: strings.TrimSpace(label), Params: params}
	if !strings.HasPrefix(params, "(") {
		return ParsedInput{}, fmt.Errorf("signing: signature input has no component list")
	}
	end := strings.Index(params, ")")
	if end < 0 {
		return ParsedInput{}, fmt.Errorf("signing: signature input component list is not closed")
	}
	for _, item := range strings.Fields(params[1:end]) {
		component, err := strconv.Unquote(item)
		if err != nil {
			return ParsedInput{}, fmt.Errorf("signing: invalid component %s: %w", item, err)
		}
		out.Components = append(out.Components, component)
	}
	for _, param := range strings.Split(params[end+1:], ";") {
		key, value, found := strings.Cut(strings.TrimSpace(param), "=")
		if !found {
			continue
		}
		switch key {
		case "keyid":
			unquoted, err := strconv.Unquote(value)
			if err != nil {
				return ParsedInput{}, fmt.Errorf("signing: invalid keyid: %w", err)
			}
			out.KeyID = unquoted
		case "created":
			created, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return ParsedInput{}, fmt.Errorf("signing: invalid created: %w", err)
			}
			out.Created = created
		}
	}
	return out, nil
}

// Verify checks headers produced for req against the public key. The body
// digest is recomputed, so any body mutation fails verification.
func Verify(req Request, headers SignatureHeaders, publicKey ed25519.PublicKey) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("signing: public key has invalid length %d", len(publicKey))
	}
	input, err := ParseSignatureInput(headers.SignatureInput)
	if err != nil {
		return err
	}
	label, encoded, ok := strings.Cut(strings.TrimSpace(headers.Signature), "=")
	if !ok || label != input.Label {
		return fmt.Errorf("%w: signature label mismatch", ErrSignatureInvalid)
	}
	encoded = strings.TrimSuffix(strings.TrimPrefix(encoded, ":"), ":")
	signature, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: decode signature: %v", ErrSignatureInvalid, err)
	}

	if len(req.Body) > 0 && headers.ContentDigest != ContentDigest(req.Body) {
		return fmt.Errorf("%w: content digest mismatch", ErrSignatureInvalid)
	}

	values := map[string]string{
		"@method":        strings.ToUpper(strings.TrimSpace(req.Method)),
		"@target-uri":    strings.TrimSpace(req.URL),
		"content-digest": headers.ContentDigest,
		"content-length": headers.ContentLength,
		"content-type":   headers.ContentType,
	}
	if auth, ok := lookupHeader(req.Headers, HeaderAuthorization); ok {
		values["authorization"] = auth
	}
	for _, component := range input.Components {
		if _, ok := values[component]; !ok {
			return fmt.Errorf("%w: unsupported component %s", ErrSignatureInvalid, component)
		}
	}

	base := signatureBase(input.Components, values, input.Params)
	if !ed25519.Verify(publicKey, []byte(base), signature) {
		return ErrSignatureInvalid
	}
	return nil
}
