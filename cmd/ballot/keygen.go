// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luxfi/crypto/secp256k1"
)

func keygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generates a node signing key",
		Long:  "Generates a secp256k1 signing key and prints the private key, public key and ledger address for the participant registry.",
		RunE:  keygenFunc,
	}
}

func keygenFunc(c *cobra.Command, _ []string) error {
	key, err := secp256k1.NewPrivateKey()
	if err != nil {
		return err
	}

	out := c.OutOrStdout()
	fmt.Fprintf(out, "privateKey: %s\n", hex.EncodeToString(key.Bytes()))
	fmt.Fprintf(out, "publicKey:  %s\n", hex.EncodeToString(key.PublicKey().Bytes()))
	fmt.Fprintf(out, "address:    %s\n", key.PublicKey().Address())
	return nil
}
