package search

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/mdtaxnav/navigator/queue"
)

// Document is a submission as indexed for search. Taxpayer name, error
// text and gateway codes are what navigators actually search for when
// working the dead-letter queue.
type Document struct {
	ID           string    `json:"id"`
	ReturnID     string    `json:"return_id"`
	Gateway      string    `json:"gateway"`
	Status       string    `json:"status"`
	Priority     string    `json:"priority"`
	TaxpayerName string    `json:"taxpayer_name"`
	LastError    string    `json:"last_error"`
	AckCode      string    `json:"ack_code"`
	Receipt      string    `json:"receipt"`
	CreatedAt    time.Time `json:"created_at"`
}

// FromSubmission builds an index document from a queue submission.
func FromSubmission(sub *queue.Submission, taxpayerName string) Document {
	return Document{
		ID:           sub.ID,
		ReturnID:     sub.ReturnID,
		Gateway:      string(sub.Gateway),
		Status:       string(sub.Status),
		Priority:     sub.Priority.String(),
		TaxpayerName: taxpayerName,
		LastError:    sub.LastError,
		Receipt:      sub.Receipt,
		CreatedAt:    sub.CreatedAt,
	}
}

// Hit is one search result.
type Hit struct {
	Document
	Score float64 `json:"score"`
}

// Options narrow a search.
type Options struct {
	// Status restricts results to one submission status ("dead" for
	// the dead-letter view).
	Status string

	// Gateway restricts results to one gateway.
	Gateway string

	// Limit caps the result count. Default: 20.
	Limit int
}

// Index is a bleve-backed search index over submissions.
type Index struct {
	mu    sync.RWMutex
	index bleve.Index
	path  string
}

// Open opens or creates an index at path. An empty path builds an
// in-memory index, for tests and ephemeral deployments.
func Open(path string) (*Index, error) {
	var index bleve.Index
	var err error

	if path == "" {
		index, err = bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("search: create in-memory index: %w", err)
		}
		return &Index{index: index}, nil
	}

	if _, serr := os.Stat(path); os.IsNotExist(serr) {
		index, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("search: create index: %w", err)
		}
	} else {
		index, err = bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("search: open index: %w", err)
		}
	}

	return &Index{index: index, path: path}, nil
}

// buildIndexMapping creates the bleve mapping: name and error text
// analyzed for full-text search, identifiers kept as exact keywords.
func buildIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name

	keywordField := bleve.NewKeywordFieldMapping()
	dateField := bleve.NewDateTimeFieldMapping()

	docMapping.AddFieldMappingsAt("taxpayer_name", textField)
	docMapping.AddFieldMappingsAt("last_error", textField)
	docMapping.AddFieldMappingsAt("ack_code", keywordField)
	docMapping.AddFieldMappingsAt("return_id", keywordField)
	docMapping.AddFieldMappingsAt("gateway", keywordField)
	docMapping.AddFieldMappingsAt("status", keywordField)
	docMapping.AddFieldMappingsAt("priority", keywordField)
	docMapping.AddFieldMappingsAt("receipt", keywordField)
	docMapping.AddFieldMappingsAt("created_at", dateField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// Put indexes or reindexes a document.
func (ix *Index) Put(doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("search: document id required")
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.index.Index(doc.ID, doc); err != nil {
		return fmt.Errorf("search: index document: %w", err)
	}
	return nil
}

// Delete removes a document from the index. Deleting an unknown ID is
// not an error.
func (ix *Index) Delete(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.index.Delete(id); err != nil {
		return fmt.Errorf("search: delete document: %w", err)
	}
	return nil
}

// Search runs a full-text query over taxpayer names, error text and
// ack codes, optionally filtered by status and gateway.
func (ix *Index) Search(queryText string, opts Options) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	var content query.Query
	if queryText == "" {
		content = bleve.NewMatchAllQuery()
	} else {
		content = bleve.NewMatchQuery(queryText)
	}

	boolQuery := bleve.NewBooleanQuery()
	boolQuery.AddMust(content)

	if opts.Status != "" {
		tq := bleve.NewTermQuery(opts.Status)
		tq.SetField("status")
		boolQuery.AddMust(tq)
	}
	if opts.Gateway != "" {
		tq := bleve.NewTermQuery(opts.Gateway)
		tq.SetField("gateway")
		boolQuery.AddMust(tq)
	}

	req := bleve.NewSearchRequest(boolQuery)
	req.Size = limit
	req.Fields = []string{"*"}

	result, err := ix.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: query failed: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hit := Hit{Score: h.Score}
		hit.ID = h.ID
		hit.ReturnID, _ = h.Fields["return_id"].(string)
		hit.Gateway, _ = h.Fields["gateway"].(string)
		hit.Status, _ = h.Fields["status"].(string)
		hit.Priority, _ = h.Fields["priority"].(string)
		hit.TaxpayerName, _ = h.Fields["taxpayer_name"].(string)
		hit.LastError, _ = h.Fields["last_error"].(string)
		hit.AckCode, _ = h.Fields["ack_code"].(string)
		hit.Receipt, _ = h.Fields["receipt"].(string)
		if ts, ok := h.Fields["created_at"].(string); ok {
			hit.CreatedAt, _ = time.Parse(time.RFC3339, ts)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns the number of indexed documents.
func (ix *Index) Count() (uint64, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.index.DocCount()
}

// Close closes the underlying index.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.index.Close()
}
