package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/maildesk/maildesk-go/internal/answer"
	"github.com/maildesk/maildesk-go/internal/embedder"
	"github.com/maildesk/maildesk-go/internal/index"
	"github.com/maildesk/maildesk-go/internal/mail"
	"github.com/maildesk/maildesk-go/internal/provider"
	"github.com/maildesk/maildesk-go/internal/store"
)

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat returns the float value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// buildEmbedder validates the embedding configuration and constructs the
// embedder shared by both similarity indexes.
func buildEmbedder(log *slog.Logger) (index.Embedder, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	backend := getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))
	log.Info("embedder initialised", slog.String("provider", backend))
	return emb, nil
}

// qdrantIndexConfig assembles the connection config for one collection from
// the QDRANT_* environment variables.
func qdrantIndexConfig(collection string) *index.QdrantConfig {
	backend := getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))
	return &index.QdrantConfig{
		Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:       getEnvInt("QDRANT_PORT", 6334),
		Collection: collection,
		VectorSize: uint64(embedder.DefaultDimensions(backend)), //nolint:gosec // dimensions are bounded
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	}
}

// buildDocsIndex opens the technical-manual collection.
func buildDocsIndex(ctx context.Context, emb index.Embedder) (*index.QdrantIndex, error) {
	cfg := qdrantIndexConfig(getEnvOrDefault("QDRANT_DOCS_COLLECTION", "maildesk-docs"))
	idx, err := index.NewQdrantIndex(ctx, emb, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return idx, nil
}

// buildHistoryIndex opens the answered-question collection.
func buildHistoryIndex(ctx context.Context, emb index.Embedder) (*index.QdrantIndex, error) {
	cfg := qdrantIndexConfig(getEnvOrDefault("QDRANT_HISTORY_COLLECTION", "maildesk-history"))
	idx, err := index.NewQdrantIndex(ctx, emb, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return idx, nil
}

// buildAnswerer wires the cache, rewriter, and RAG generator over the two
// indexes. Threshold, retrieval depth, and timeouts come from the env with
// the package defaults as fallback.
func buildAnswerer(gen provider.Generator, docs, history index.Index) (*answer.Generator, error) {
	cache := answer.NewCache(history, getEnvFloat("SIMILARITY_THRESHOLD", 0))
	rewriter := answer.NewRewriter(gen,
		time.Duration(getEnvInt("REWRITE_TIMEOUT_SECONDS", 0))*time.Second)

	return answer.NewGenerator(gen, docs, cache, rewriter, answer.GeneratorConfig{
		TopK:    getEnvInt("RAG_TOP_K", 0),
		Timeout: time.Duration(getEnvInt("EXTRACT_TIMEOUT_SECONDS", 0)) * time.Second,
	})
}

// openTicketStore opens the SQLite ticket store. MAILDESK_DB overrides the
// default path (~/.maildesk/tickets.db).
func openTicketStore(log *slog.Logger) (*store.SQLiteStore, error) {
	dbPath := os.Getenv("MAILDESK_DB")
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ticket store: %w", err)
	}
	log.Info("ticket store opened", slog.String("path", dbPath))
	return st, nil
}

// buildFetcher constructs the IMAP fetcher from the IMAP_* env vars.
func buildFetcher() (*mail.IMAPFetcher, error) {
	return mail.NewIMAPFetcher(mail.IMAPConfig{
		Host:           os.Getenv("IMAP_HOST"),
		Port:           getEnvInt("IMAP_PORT", 0),
		Email:          os.Getenv("IMAP_EMAIL"),
		Password:       os.Getenv("IMAP_PASSWORD"),
		AttachmentsDir: getEnvOrDefault("ATTACHMENTS_DIR", "attachments"),
		Mailbox:        os.Getenv("IMAP_MAILBOX"),
	})
}

// buildSender constructs the SMTP sender from the SMTP_* env vars. Returns
// nil without error when SMTP_HOST is unset — outbound mail is optional and
// the API degrades to 503 on /api/sendMail.
func buildSender(log *slog.Logger) (mail.Sender, error) {
	if os.Getenv("SMTP_HOST") == "" {
		log.Warn("SMTP_HOST not set — outbound mail disabled")
		return nil, nil
	}
	sender, err := mail.NewSMTPSender(mail.SMTPConfig{
		Host:     os.Getenv("SMTP_HOST"),
		Port:     getEnvInt("SMTP_PORT", 0),
		User:     os.Getenv("SMTP_USER"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     os.Getenv("SMTP_FROM"),
	})
	if err != nil {
		return nil, err
	}
	return sender, nil
}
