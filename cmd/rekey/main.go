// Re-encrypts every keystore item under a new password.
// Usage: KEYSTORE_DIR=... go run ./cmd/rekey
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/AlexZinkM/pet-wallet/internal/config"
	"github.com/AlexZinkM/pet-wallet/internal/storage"
)

func main() {
	dir := os.Getenv("KEYSTORE_DIR")
	if dir == "" {
		fmt.Fprintln(os.Stderr, "KEYSTORE_DIR not set")
		os.Exit(1)
	}

	if err := rekey(context.Background(), dir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rekey(ctx context.Context, dir string) error {
	oldPassword, err := config.ReadPassword("Current keystore password: ")
	if err != nil {
		return err
	}
	defer clear(oldPassword)

	newPassword, err := config.ReadPassword("New keystore password: ")
	if err != nil {
		return err
	}
	defer clear(newPassword)

	confirm, err := config.ReadPassword("Repeat new password: ")
	if err != nil {
		return err
	}
	defer clear(confirm)

	if !bytes.Equal(newPassword, confirm) {
		return errors.New("passwords do not match")
	}

	store, err := storage.NewFileStorage(dir, oldPassword)
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := store.Keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("no keystore items in %s", dir)
	}

	if err := store.Rekey(ctx, newPassword); err != nil {
		return fmt.Errorf("rekey failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "re-encrypted %d items\n", len(keys))
	return nil
}
