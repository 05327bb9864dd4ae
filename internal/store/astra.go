package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/phucgpt/ragchat/internal/core"
)

const (
	astraAPIPath     = "/api/json/v1"
	astraInsertBatch = 20

	astraMetricCosine     = "cosine"
	astraMetricDotProduct = "dot_product"
	astraMetricEuclidean  = "euclidean"

	astraCodeDifferentSettings = "EXISTING_COLLECTION_DIFFERENT_SETTINGS"
)

// AstraConfig holds the Astra DB Data API connection settings.
type AstraConfig struct {
	Endpoint   string
	Token      string
	Keyspace   string
	Collection string
	// Metric is the similarity metric the collection is created with: dot_product, cosine or euclidean.
	Metric    string
	Dimension int
	Timeout   time.Duration
}

// AstraStore is a minimal client for the Astra DB Data API. Documents are stored as
// {"_id", "$vector", "text", "source"}.
type AstraStore struct {
	cfg    AstraConfig
	client *http.Client
}

func NewAstraStore(cfg AstraConfig) (*AstraStore, error) {
	if cfg.Endpoint == "" || cfg.Token == "" {
		return nil, errors.New("astra endpoint and token are required")
	}
	if cfg.Collection == "" {
		return nil, errors.New("astra collection is required")
	}
	if cfg.Keyspace == "" {
		cfg.Keyspace = "default_keyspace"
	}
	switch cfg.Metric {
	case "":
		cfg.Metric = astraMetricDotProduct
	case astraMetricCosine, astraMetricDotProduct, astraMetricEuclidean:
	default:
		return nil, errors.Newf("unsupported astra metric %q", cfg.Metric)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &AstraStore{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

type astraError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

type astraResponse struct {
	Status json.RawMessage `json:"status"`
	Data   json.RawMessage `json:"data"`
	Errors []astraError    `json:"errors"`
}

// astraCommandError is returned when a command answers with a non-empty errors array.
type astraCommandError struct {
	Errors []astraError
}

func (e *astraCommandError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ae := range e.Errors {
		msgs[i] = ae.Message
		if ae.ErrorCode != "" {
			msgs[i] = ae.ErrorCode + ": " + ae.Message
		}
	}
	return "astra command failed: " + strings.Join(msgs, "; ")
}

func (e *astraCommandError) hasCode(code string) bool {
	for _, ae := range e.Errors {
		if ae.ErrorCode == code {
			return true
		}
	}
	return false
}

// EnsureCollection creates the vector collection. An existing collection with the same
// settings is not an error; one created with another dimension or metric is.
func (s *AstraStore) EnsureCollection(ctx context.Context) error {
	body := map[string]any{
		"createCollection": map[string]any{
			"name": s.cfg.Collection,
			"options": map[string]any{
				"vector": map[string]any{
					"dimension": s.cfg.Dimension,
					"metric":    s.cfg.Metric,
				},
			},
		},
	}
	_, err := s.command(ctx, s.keyspaceURL(), body)
	if err == nil {
		return nil
	}
	var cmdErr *astraCommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.hasCode(astraCodeDifferentSettings) {
			return errors.Wrapf(err, "collection %s exists with settings other than dimension %d and metric %s",
				s.cfg.Collection, s.cfg.Dimension, s.cfg.Metric)
		}
		if strings.Contains(strings.ToLower(cmdErr.Error()), "already exist") {
			return nil
		}
	}
	return errors.Wrap(err, "create collection")
}

func (s *AstraStore) Insert(ctx context.Context, chunks []Chunk) error {
	for start := 0; start < len(chunks); start += astraInsertBatch {
		end := min(start+astraInsertBatch, len(chunks))

		docs := make([]map[string]any, 0, end-start)
		for _, chunk := range chunks[start:end] {
			if err := checkDimension(len(chunk.Embedding), s.cfg.Dimension); err != nil {
				return err
			}
			id := chunk.ID
			if id == "" {
				id = uuid.NewString()
			}
			docs = append(docs, map[string]any{
				"_id":     id,
				"$vector": chunk.Embedding,
				TextField: chunk.Text,
				"source":  chunk.Source,
			})
		}

		body := map[string]any{
			"insertMany": map[string]any{
				"documents": docs,
				"options":   map[string]any{"ordered": false},
			},
		}
		if _, err := s.command(ctx, s.collectionURL(), body); err != nil {
			return errors.Wrapf(err, "insert documents %d-%d", start, end-1)
		}
	}
	return nil
}

// Clear deletes every document in the collection.
func (s *AstraStore) Clear(ctx context.Context) error {
	body := map[string]any{"deleteMany": map[string]any{}}
	for {
		resp, err := s.command(ctx, s.collectionURL(), body)
		if err != nil {
			return errors.Wrap(err, "delete documents")
		}
		var status struct {
			MoreData bool `json:"moreData"`
		}
		if len(resp.Status) > 0 {
			if err := json.Unmarshal(resp.Status, &status); err != nil {
				return errors.Wrap(err, "decode deleteMany status")
			}
		}
		if !status.MoreData {
			return nil
		}
	}
}

func (s *AstraStore) Query(ctx context.Context, vector core.EmbeddingVector, topK int) ([]core.RetrievedChunk, error) {
	if err := checkDimension(len(vector), s.cfg.Dimension); err != nil {
		return nil, err
	}

	body := map[string]any{
		"find": map[string]any{
			"sort":       map[string]any{"$vector": vector},
			"projection": map[string]any{TextField: 1, "source": 1},
			"options": map[string]any{
				"limit":             topK,
				"includeSimilarity": true,
			},
		},
	}
	resp, err := s.command(ctx, s.collectionURL(), body)
	if err != nil {
		return nil, errors.Wrap(err, "find documents")
	}

	var data struct {
		Documents []map[string]json.RawMessage `json:"documents"`
	}
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return nil, errors.Wrap(err, "decode find response")
		}
	}

	results := make([]core.RetrievedChunk, 0, len(data.Documents))
	for i, doc := range data.Documents {
		chunk, err := decodeAstraDocument(doc, s.cfg.Metric)
		if err != nil {
			return nil, errors.Wrapf(err, "document %d", i)
		}
		results = append(results, chunk)
	}
	return results, nil
}

func decodeAstraDocument(doc map[string]json.RawMessage, metric string) (core.RetrievedChunk, error) {
	var chunk core.RetrievedChunk

	raw, ok := doc[TextField]
	if !ok || string(raw) == "null" {
		return chunk, errors.Wrapf(core.ErrSchemaViolation, "missing %q field", TextField)
	}
	if err := json.Unmarshal(raw, &chunk.Text); err != nil {
		return chunk, errors.Wrapf(core.ErrSchemaViolation, "%q field is not a string", TextField)
	}
	if raw, ok := doc["source"]; ok {
		if err := json.Unmarshal(raw, &chunk.Source); err != nil {
			return chunk, errors.Wrap(core.ErrSchemaViolation, `"source" field is not a string`)
		}
	}
	if raw, ok := doc["$similarity"]; ok {
		var similarity float64
		if err := json.Unmarshal(raw, &similarity); err != nil {
			return chunk, errors.Wrap(core.ErrSchemaViolation, "$similarity is not a number")
		}
		chunk.Score = astraScore(metric, similarity)
	}
	return chunk, nil
}

// astraScore maps the Data API's $similarity, which is normalized to [0, 1], back to a
// cosine similarity. cosine and dot_product report (1+x)/2; euclidean reports 1/(1+d²),
// which for unit-length vectors gives cos = 1 - d²/2.
func astraScore(metric string, similarity float64) float64 {
	switch metric {
	case astraMetricEuclidean:
		if similarity <= 0 {
			return -1
		}
		return max(-1, 1-(1/similarity-1)/2)
	default:
		return 2*similarity - 1
	}
}

func (s *AstraStore) keyspaceURL() string {
	return fmt.Sprintf("%s%s/%s", s.cfg.Endpoint, astraAPIPath, s.cfg.Keyspace)
}

func (s *AstraStore) collectionURL() string {
	return fmt.Sprintf("%s/%s", s.keyspaceURL(), s.cfg.Collection)
}

// command posts a Data API command. Both HTTP failures and an "errors" array in a 200
// response are returned as errors.
func (s *AstraStore) command(ctx context.Context, url string, body any) (*astraResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encode astra command")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "build astra request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Token", s.cfg.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "astra request")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read astra response")
	}
	if resp.StatusCode >= 300 {
		return nil, errors.Newf("astra POST %s failed: %s: %s", url, resp.Status, truncate(string(payload), 200))
	}

	var out astraResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, errors.Wrap(err, "decode astra response")
	}
	if len(out.Errors) > 0 {
		return nil, &astraCommandError{Errors: out.Errors}
	}
	return &out, nil
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
