package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/persistence/file"
	"github.com/dukex/flowrun/pkg/persistence/postgresql"
	"github.com/dukex/flowrun/pkg/persistence/redis"
)

var persistenceProviders = map[string]string{
	"file":       "file",
	"postgres":   "postgresql",
	"postgresql": "postgresql",
	"redis":      "redis",
	"rediss":     "redis",
}

// NewPersistence opens the store named by the URL scheme. A URL without a
// scheme is a file store directory.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, err := parsePersistenceProvider(databaseURL)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "opening persistence", "provider", provider)

	switch provider {
	case "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "redis":
		return redis.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parsePersistenceProvider(databaseURL string) (string, error) {
	if databaseURL == "" {
		return "", fmt.Errorf("database URL is required")
	}

	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", nil
	}

	provider, ok := persistenceProviders[scheme]
	if !ok {
		return "", fmt.Errorf("unsupported persistence provider %q", scheme)
	}

	return provider, nil
}
