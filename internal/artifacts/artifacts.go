// Package artifacts stores build outputs in an embedded vector store and
// scores them against the contract goal for intent satisfaction.
package artifacts

import (
	"context"
	"fmt"
	"os"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/provider"
)

// Config holds vector-store settings.
type Config struct {
	Path     string `json:"path" koanf:"path"`
	Compress bool   `json:"compress" koanf:"compress"`
}

// DefaultConfig returns the default store location.
func DefaultConfig() *Config {
	return &Config{Path: "./data/artifacts", Compress: true}
}

// Artifact is one stored build output.
type Artifact struct {
	Name    string
	Content string
	TaskID  string
}

// Store persists artifacts per session and answers semantic queries
// against them.
type Store struct {
	db       *chromem.DB
	embedder provider.Embedder
	logger   *zap.Logger
}

// NewStore opens (or creates) the persistent vector store.
func NewStore(cfg *Config, embedder provider.Embedder, logger *zap.Logger) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if embedder == nil {
		return nil, fmt.Errorf("artifacts: embedder required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("artifacts: creating directory %s: %w", cfg.Path, err)
	}

	db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("artifacts: opening store: %w", err)
	}

	logger.Info("artifact store initialized",
		zap.String("path", cfg.Path),
		zap.Bool("compress", cfg.Compress),
	)
	return &Store{db: db, embedder: embedder, logger: logger}, nil
}

// NewMemoryStore creates an ephemeral store for tests.
func NewMemoryStore(embedder provider.Embedder) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("artifacts: embedder required")
	}
	return &Store{db: chromem.NewDB(), embedder: embedder, logger: zap.NewNop()}, nil
}

func (s *Store) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.Embed(ctx, text)
	}
}

func (s *Store) collection(sessionID string) (*chromem.Collection, error) {
	col, err := s.db.GetOrCreateCollection("session_"+sessionID, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("artifacts: collection for %s: %w", sessionID, err)
	}
	return col, nil
}

// Add stores a session's artifacts. Re-adding an artifact with the same
// name replaces it, which is what fix rounds rely on.
func (s *Store) Add(ctx context.Context, sessionID string, arts []Artifact) error {
	if len(arts) == 0 {
		return fmt.Errorf("artifacts: nothing to add")
	}
	col, err := s.collection(sessionID)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(arts))
	for i, a := range arts {
		docs[i] = chromem.Document{
			ID:      a.Name,
			Content: a.Content,
			Metadata: map[string]string{
				"task_id": a.TaskID,
				"name":    a.Name,
			},
		}
	}
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("artifacts: adding documents: %w", err)
	}

	s.logger.Debug("artifacts stored",
		zap.String("session_id", sessionID),
		zap.Int("count", len(arts)),
	)
	return nil
}

// Count returns how many artifacts the session has stored.
func (s *Store) Count(ctx context.Context, sessionID string) (int, error) {
	col, err := s.collection(sessionID)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// SimilarityToGoal queries the session's artifacts with the contract goal
// and returns the best similarity on a 0-1 scale. An empty artifact set
// scores 0.
func (s *Store) SimilarityToGoal(ctx context.Context, sessionID, goal string) (float64, error) {
	col, err := s.collection(sessionID)
	if err != nil {
		return 0, err
	}
	if col.Count() == 0 {
		return 0, nil
	}

	k := col.Count()
	if k > 5 {
		k = 5
	}
	results, err := col.Query(ctx, goal, k, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("artifacts: querying: %w", err)
	}

	best := float64(0)
	for _, r := range results {
		if sim := float64(r.Similarity); sim > best {
			best = sim
		}
	}
	if best < 0 {
		best = 0
	}
	return best, nil
}
