package components

import (
	"context"
	"fmt"

	"github.com/Go-555/github-actions-note/internal/storage"
	_ "github.com/Go-555/github-actions-note/internal/storage/sqlite"
)

// StorageComponent owns the publish ledger.
type StorageComponent struct {
	ledgerType string
	dbPath     string
	ledger     storage.Ledger
}

func NewStorageComponent(ledgerType, dbPath string) *StorageComponent {
	return &StorageComponent{
		ledgerType: ledgerType,
		dbPath:     dbPath,
	}
}

func (c *StorageComponent) Name() string {
	return StorageComponentName
}

func (c *StorageComponent) Dependencies() []string {
	return []string{}
}

func (c *StorageComponent) Validate() error {
	if c.ledgerType != "none" && c.dbPath == "" {
		return fmt.Errorf("storage: database path is required")
	}
	return nil
}

func (c *StorageComponent) Initialize(ctx context.Context) error {
	ledger, err := storage.New(c.ledgerType, c.dbPath)
	if err != nil {
		return fmt.Errorf("storage: failed to open ledger: %w", err)
	}

	c.ledger = ledger
	return nil
}

func (c *StorageComponent) Close(ctx context.Context) error {
	if c.ledger == nil {
		return nil
	}
	return c.ledger.Close(ctx)
}

func (c *StorageComponent) Ledger() storage.Ledger {
	return c.ledger
}
