// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package crypto

import (
	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/crypto/secp256k1"
)

var _ Provider = SECP256K1Provider{}

// SECP256K1Provider signs SHA-256 digests with secp256k1 keys.
type SECP256K1Provider struct{}

func (SECP256K1Provider) Sign(key *secp256k1.PrivateKey, msg []byte) ([]byte, error) {
	return key.SignHash(hash.ComputeHash256(msg))
}

func (SECP256K1Provider) Verify(key *secp256k1.PublicKey, msg []byte, sig []byte) bool {
	return key.VerifyHash(hash.ComputeHash256(msg), sig)
}

func (SECP256K1Provider) LoadPublicKey(encoded string) (*secp256k1.PublicKey, error) {
	return parsePublicKey(encoded)
}

func (SECP256K1Provider) LoadPrivateKey(encoded string) (*secp256k1.PrivateKey, error) {
	return parsePrivateKey(encoded)
}
