package extract

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/auction-ingest/internal/scrape"
)

// Snapshotter archives the rendered HTML of each results page.
type Snapshotter struct {
	store  scrape.BlobStore
	hasher scrape.Hasher
	prefix string
}

// NewSnapshotter writes snapshots under prefix in store.
func NewSnapshotter(store scrape.BlobStore, hasher scrape.Hasher, prefix string) *Snapshotter {
	return &Snapshotter{store: store, hasher: hasher, prefix: strings.Trim(prefix, "/")}
}

// Save stores one page and returns the blob URI.
func (s *Snapshotter) Save(ctx context.Context, jobID string, pageNum int, html string) (string, error) {
	digest, err := s.hasher.Hash([]byte(html))
	if err != nil {
		return "", fmt.Errorf("hash snapshot: %w", err)
	}
	name := path.Join(s.prefix, jobID, fmt.Sprintf("page-%03d-%s.html", pageNum, digest))
	uri, err := s.store.PutObject(ctx, name, "text/html; charset=utf-8", strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("store snapshot %s: %w", name, err)
	}
	return uri, nil
}
