package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/lox/fairdice/internal/hashmix"
)

// CommitCmd derives the commitment hash a participant submits to open a game.
// Run offline so the secret never leaves the participant's machine.
type CommitCmd struct {
	Identity     string `kong:"required,help='Participant identity'"`
	Guess        uint8  `kong:"required,help='Guessed die face (1-based)'"`
	Secret       string `kong:"help='Hex-encoded 32-byte secret. Generated when omitted'"`
	Sequence     uint64 `kong:"required,help='Next sequence number for this identity (current + 1)'"`
	SaltInstance string `kong:"default='fairdice-dev',help='Deployment salt instance'"`
	SaltNetwork  string `kong:"default='local',help='Deployment salt network'"`
}

func (c *CommitCmd) Run() error {
	var secret [32]byte
	if c.Secret == "" {
		if _, err := rand.Read(secret[:]); err != nil {
			return fmt.Errorf("generate secret: %w", err)
		}
	} else {
		raw, err := hex.DecodeString(c.Secret)
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("secret must be 64 hex characters")
		}
		copy(secret[:], raw)
	}

	salt := hashmix.Salt{Instance: c.SaltInstance, Network: c.SaltNetwork}
	commitment := hashmix.DeriveCommitment(c.Identity, c.Guess, secret, salt, c.Sequence)

	fmt.Printf("identity:   %s\n", c.Identity)
	fmt.Printf("sequence:   %d\n", c.Sequence)
	fmt.Printf("guess:      %d\n", c.Guess)
	fmt.Printf("secret:     %s\n", hex.EncodeToString(secret[:]))
	fmt.Printf("commitment: %s\n", hex.EncodeToString(commitment[:]))
	fmt.Println()
	fmt.Println("Keep the secret private until the reveal window opens.")
	return nil
}
