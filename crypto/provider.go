// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package crypto abstracts the signing primitives of the vote network so
// that production deployments and protocol tests run the identical delivery
// logic. The real provider signs with secp256k1; the mock provider treats
// signatures as payload digests and performs no cryptography at all.
package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/luxfi/crypto/secp256k1"
)

// ErrKeyFormat is returned when supplied key material cannot be parsed.
// Unusable key material is fatal for the offending key only; the rest of the
// participant set keeps working.
var ErrKeyFormat = errors.New("unusable key material")

// Provider signs and verifies message payloads using per-participant key
// pairs. Implementations hold no shared mutable state; every method is a pure
// function over the supplied keys.
type Provider interface {
	// Sign produces a signature over [msg] with [key].
	Sign(key *secp256k1.PrivateKey, msg []byte) ([]byte, error)

	// Verify reports whether [sig] is a valid signature of [msg] by the
	// holder of [key].
	Verify(key *secp256k1.PublicKey, msg []byte, sig []byte) bool

	// LoadPublicKey parses a hex-encoded compressed public key.
	LoadPublicKey(encoded string) (*secp256k1.PublicKey, error)

	// LoadPrivateKey parses a hex-encoded private key.
	LoadPrivateKey(encoded string) (*secp256k1.PrivateKey, error)
}

// NewProvider returns the provider for [mock]. Both variants satisfy the same
// contract; which one runs is a deployment choice, never a code change.
func NewProvider(mock bool) Provider {
	if mock {
		return MockProvider{}
	}
	return SECP256K1Provider{}
}

func parsePublicKey(encoded string) (*secp256k1.PublicKey, error) {
	keyBytes, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyFormat, err)
	}
	key, err := secp256k1.ToPublicKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyFormat, err)
	}
	return key, nil
}

func parsePrivateKey(encoded string) (*secp256k1.PrivateKey, error) {
	keyBytes, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyFormat, err)
	}
	key, err := secp256k1.ToPrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyFormat, err)
	}
	return key, nil
}
