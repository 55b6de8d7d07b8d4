package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// KeyPair is a freshly generated Chainweb account keypair: the public
// key doubles as the bare "k:" account's key component.
type KeyPair struct {
	PublicKeyHex  string
	PrivateKeyHex string
	Account       string
}

// GenerateKey produces a new ed25519 keypair and the corresponding
// "k:" account string, for --generate-key.
func GenerateKey() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("config: generate key: %w", err)
	}
	pubHex := hex.EncodeToString(pub)
	return KeyPair{
		PublicKeyHex:  pubHex,
		PrivateKeyHex: hex.EncodeToString(priv),
		Account:       "k:" + pubHex,
	}, nil
}
