// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package crypto

import (
	"bytes"

	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/crypto/secp256k1"
)

var _ Provider = MockProvider{}

// MockProvider treats a signature as the digest of the signed payload. No key
// material is ever exercised, which keeps simulated networks fast while still
// driving every signature code path of the connector.
type MockProvider struct{}

func (MockProvider) Sign(_ *secp256k1.PrivateKey, msg []byte) ([]byte, error) {
	return hash.ComputeHash256(msg), nil
}

func (MockProvider) Verify(_ *secp256k1.PublicKey, msg []byte, sig []byte) bool {
	return bytes.Equal(hash.ComputeHash256(msg), sig)
}

func (MockProvider) LoadPublicKey(encoded string) (*secp256k1.PublicKey, error) {
	return parsePublicKey(encoded)
}

func (MockProvider) LoadPrivateKey(encoded string) (*secp256k1.PrivateKey, error) {
	return parsePrivateKey(encoded)
}
