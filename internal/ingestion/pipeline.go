// Package ingestion loads technical-manual content into the document index:
// local text/markdown files or HTTP(S) pages are chunked and upserted with
// deterministic point IDs so re-ingesting a source overwrites its previous
// chunks instead of duplicating them. Invoked by the `maildesk ingest` and
// `maildesk seed` CLI commands.
package ingestion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maildesk/maildesk-go/internal/index"
	"github.com/maildesk/maildesk-go/internal/mail"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of bytes per document chunk.
	// Defaults to 2000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of bytes shared between consecutive chunks.
	// Defaults to 200 if zero.
	ChunkOverlap int

	// HTTPTimeout is the timeout for each page fetch. Defaults to 30s if zero.
	HTTPTimeout time.Duration
}

// Pipeline orchestrates the load → chunk → upsert flow for manual sources.
type Pipeline struct {
	// docs is the document index receiving the chunks.
	docs index.Index

	// split chunks the loaded text.
	split splitter

	// httpClient fetches URL sources.
	httpClient *http.Client
}

// NewPipeline constructs a Pipeline over the given document index.
func NewPipeline(docs index.Index, cfg *Config) (*Pipeline, error) {
	if docs == nil {
		return nil, fmt.Errorf("ingestion: document index must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = defaultChunkOverlap
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Pipeline{
		docs:       docs,
		split:      newSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Ingest loads, chunks, and stores every source. Sources are processed
// sequentially; the first error aborts the run. A source starting with
// http:// or https:// is fetched over HTTP, anything else is read as a local
// file. Progress is reported via the optional callback.
func (p *Pipeline) Ingest(ctx context.Context, sources []string, progress func(msg string)) error {
	if progress == nil {
		progress = func(string) {}
	}

	for _, src := range sources {
		content, name, err := p.load(ctx, src)
		if err != nil {
			return fmt.Errorf("ingestion: load %s: %w", src, err)
		}

		chunks := p.split.Split(content)
		progress(fmt.Sprintf("%s: %d chunks", name, len(chunks)))
		if len(chunks) == 0 {
			continue
		}

		items := make([]index.Item, 0, len(chunks))
		for i, chunk := range chunks {
			items = append(items, index.Item{
				ID:   chunkID(src, i),
				Text: chunk,
				Metadata: map[string]string{
					"source":      name,
					"chunk_index": strconv.Itoa(i),
				},
			})
		}
		if err := p.docs.Add(ctx, items); err != nil {
			return fmt.Errorf("ingestion: store chunks of %s: %w", src, err)
		}
		progress(fmt.Sprintf("%s: stored", name))
	}
	return nil
}

// load returns a source's text content plus the name recorded in chunk
// metadata: the final URL path segment or the file's base name. HTML content
// is reduced to plain text the same way inbound mail bodies are.
func (p *Pipeline) load(ctx context.Context, src string) (content, name string, err error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		content, err = p.fetch(ctx, src)
		name = filepath.Base(strings.TrimSuffix(src, "/"))
		return content, name, err
	}

	raw, err := os.ReadFile(src)
	if err != nil {
		return "", "", err
	}
	return string(raw), filepath.Base(src), nil
}

func (p *Pipeline) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/plain, text/markdown, text/html")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return mail.StripHTML(string(body)), nil
	}
	return string(body), nil
}

// chunkID derives a stable UUID for a chunk from its source and position, so
// repeated ingestion of the same source upserts in place.
func chunkID(source string, i int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, fmt.Appendf(nil, "%s#%d", source, i)).String()
}
