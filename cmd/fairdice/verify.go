package main

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/lox/fairdice/internal/hashmix"
)

// VerifyCmd recomputes a settled game's outcome from its published inputs so
// anyone can audit that the entropy mix and die reduction were applied
// honestly.
type VerifyCmd struct {
	Identity     string `kong:"required,help='Participant identity'"`
	Guess        uint8  `kong:"required,help='Revealed guess'"`
	Secret       string `kong:"required,help='Hex-encoded 32-byte revealed secret'"`
	Handle       string `kong:"required,help='Randomness request handle (UUID)'"`
	External     string `kong:"required,help='Hex-encoded 32-byte external random value'"`
	DieSides     uint8  `kong:"default='6',help='Number of die faces'"`
	SaltInstance string `kong:"default='fairdice-dev',help='Deployment salt instance'"`
	SaltNetwork  string `kong:"default='local',help='Deployment salt network'"`
}

func (c *VerifyCmd) Run() error {
	secret, err := decode32(c.Secret)
	if err != nil {
		return fmt.Errorf("secret: %w", err)
	}
	external, err := decode32(c.External)
	if err != nil {
		return fmt.Errorf("external value: %w", err)
	}
	handle, err := uuid.Parse(c.Handle)
	if err != nil {
		return fmt.Errorf("handle: %w", err)
	}
	if c.DieSides < 2 {
		return fmt.Errorf("die must have at least 2 sides")
	}

	salt := hashmix.Salt{Instance: c.SaltInstance, Network: c.SaltNetwork}
	entropy := hashmix.MixRandomness(external, secret, c.Identity, handle, salt)
	outcome := hashmix.Outcome(entropy, c.DieSides)

	fmt.Printf("entropy: %s\n", hex.EncodeToString(entropy[:]))
	fmt.Printf("outcome: %d\n", outcome)
	fmt.Printf("guess:   %d\n", c.Guess)
	if outcome == c.Guess {
		fmt.Println("result:  win")
	} else {
		fmt.Println("result:  loss")
	}
	return nil
}

func decode32(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
