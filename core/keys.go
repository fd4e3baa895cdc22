package core

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Ed25519KeyGenerator creates client key pairs with a random UUID key id.
type Ed25519KeyGenerator struct {
	Rand io.Reader
}

func (g Ed25519KeyGenerator) GenerateKeyPair() (KeyPair, error) {
	reader := g.Rand
	if reader == nil {
		reader = rand.Reader
	}
	public, private, err := ed25519.GenerateKey(reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("core: generate ed25519 key: %w", err)
	}
	return KeyPair{
		KeyID:      uuid.NewString(),
		PrivateKey: private,
		PublicKey:  public,
	}, nil
}
