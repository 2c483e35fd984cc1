package jwtx

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"

	"github.com/aussiebroadwan/accounts/pkg/cryptox"
)

// KeyManager owns the signing keys of this instance together with the
// matching verifier and the KeySet published on the JWKS endpoint.
type KeyManager struct {
	Verifier Verifier
	KeySet   *KeySet

	mu      sync.RWMutex
	signers []Signer
}

// KeyManagerOptions configures the KeyManager.
type KeyManagerOptions struct {
	Issuer   string
	Audience []string

	// KeyFile, when set, is a PKCS8 PEM Ed25519 key that is loaded (or
	// created on first start) so tokens survive restarts. When empty the
	// manager generates NumKeys ephemeral keys.
	KeyFile string

	// NumKeys defaults to 1 and is capped at 10. Ignored with KeyFile.
	NumKeys int
}

// NewKeyManager builds a KeyManager from opts.
func NewKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	if opts.Issuer == "" {
		return nil, errors.New("jwtx: Issuer is required")
	}

	var pems [][]byte
	if opts.KeyFile != "" {
		pem, err := loadOrCreateKey(opts.KeyFile)
		if err != nil {
			return nil, err
		}
		pems = append(pems, pem)
	} else {
		n := min(max(opts.NumKeys, 1), 10)
		for range n {
			pem, err := cryptox.GenerateEd25519Key()
			if err != nil {
				return nil, fmt.Errorf("jwtx: generate key: %w", err)
			}
			pems = append(pems, pem)
		}
	}

	keyset := NewKeySet()
	km := &KeyManager{KeySet: keyset}
	for i, pem := range pems {
		kid, err := keyID(pem)
		if err != nil {
			return nil, err
		}
		signer, err := NewSignerEdDSA(kid, pem)
		if err != nil {
			return nil, fmt.Errorf("jwtx: signer %d: %w", i+1, err)
		}
		if err := keyset.AddSigner(signer); err != nil {
			return nil, fmt.Errorf("jwtx: add signer %d to keyset: %w", i+1, err)
		}
		km.signers = append(km.signers, signer)
	}
	km.Verifier = NewVerifierEdDSA(keyset, opts.Issuer, opts.Audience)
	return km, nil
}

// IsReady returns true if the KeyManager has valid keys loaded.
func (km *KeyManager) IsReady() bool {
	return km.KeySet.IsReady()
}

// GetSigner returns one of the signing keys at random.
func (km *KeyManager) GetSigner() Signer {
	km.mu.RLock()
	defer km.mu.RUnlock()

	switch len(km.signers) {
	case 0:
		return nil
	case 1:
		return km.signers[0]
	}
	return km.signers[rand.IntN(len(km.signers))] // #nosec G404 - key choice is not a secret
}

// SignerCount returns the number of active signing keys.
func (km *KeyManager) SignerCount() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return len(km.signers)
}

// keyID derives a stable kid from the key itself so a persisted key keeps
// the same kid across restarts.
func keyID(pem []byte) (string, error) {
	key, err := cryptox.ParseEd25519Key(pem)
	if err != nil {
		return "", err
	}
	fp := cryptox.FingerprintToken(string(key.Public().(ed25519.PublicKey)))
	return "accounts-" + fp[:16], nil
}

func loadOrCreateKey(file string) ([]byte, error) {
	file = filepath.Clean(file)
	pem, err := os.ReadFile(file)
	if err == nil {
		return pem, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("jwtx: read key file: %w", err)
	}

	pem, err = cryptox.GenerateEd25519Key()
	if err != nil {
		return nil, fmt.Errorf("jwtx: generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(file), 0750); err != nil {
		return nil, err
	}
	if err := os.WriteFile(file, pem, 0600); err != nil {
		return nil, fmt.Errorf("jwtx: write key file: %w", err)
	}
	return pem, nil
}
