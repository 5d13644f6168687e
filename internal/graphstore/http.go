package graphstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/wsgraph/internal/httpretry"
)

// HTTPOptions configures an HTTPStore.
type HTTPOptions struct {
	URL        string
	Token      string
	HTTPClient *http.Client
	Retry      httpretry.Policy
	Logger     *slog.Logger
}

// HTTPStore writes through the relation engine HTTP API. Documents are sent
// as newline-delimited JSON with on_duplicate=update.
//
// A document carrying "deleted": false must not clear a stored true flag.
// Such documents are saved twice: once whole with on_duplicate=ignore, which
// only creates missing ones, then without the flag with on_duplicate=update,
// which merges the other fields into existing ones.
type HTTPStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      httpretry.Policy
	logger     *slog.Logger
}

var _ Store = (*HTTPStore)(nil)

// NewHTTPStore creates a relation engine client.
func NewHTTPStore(opts HTTPOptions) *HTTPStore {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPStore{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.URL), "/"),
		token:      opts.Token,
		httpClient: httpClient,
		retry:      opts.Retry,
		logger:     logger,
	}
}

// importResponse is the relation engine's bulk save summary.
type importResponse struct {
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Ignored int    `json:"ignored"`
	Errors  int    `json:"errors"`
	Error   bool   `json:"error"`
	Details []any  `json:"details,omitempty"`
	Message string `json:"errorMessage,omitempty"`
}

func (s *HTTPStore) header() http.Header {
	h := http.Header{}
	if s.token != "" {
		h.Set("Authorization", s.token)
	}
	return h
}

// Upsert implements Store.
func (s *HTTPStore) Upsert(ctx context.Context, collection string, docs []Document) (Result, error) {
	if len(docs) == 0 {
		return Result{}, nil
	}
	var live, rest []Document
	for _, d := range docs {
		if d.Key == "" {
			return Result{}, fmt.Errorf("upsert %s: %w: empty _key", collection, ErrInvalidInput)
		}
		if clearsDeleted(d.Data) {
			live = append(live, d)
		} else {
			rest = append(rest, d)
		}
	}

	var total Result
	if len(rest) > 0 {
		res, err := s.save(ctx, collection, "update", rest)
		if err != nil {
			return total, err
		}
		total.Add(res)
	}
	if len(live) > 0 {
		res, err := s.saveLive(ctx, collection, live)
		if err != nil {
			return total, err
		}
		total.Add(res)
	}
	return total, nil
}

// saveLive writes documents whose deleted flag is false without touching
// the flag of documents already stored.
func (s *HTTPStore) saveLive(ctx context.Context, collection string, docs []Document) (Result, error) {
	created, err := s.save(ctx, collection, "ignore", docs)
	if err != nil {
		return Result{}, err
	}
	stripped := make([]Document, len(docs))
	for i, d := range docs {
		if stripped[i], err = withoutDeleted(d); err != nil {
			return Result{}, fmt.Errorf("upsert %s: %w", collection, err)
		}
	}
	updated, err := s.save(ctx, collection, "update", stripped)
	if err != nil {
		return Result{}, err
	}
	// The update pass also touches what the ignore pass just created.
	return Result{
		Created: created.Created,
		Updated: max(0, updated.Updated-created.Created),
		Ignored: updated.Ignored,
	}, nil
}

func (s *HTTPStore) save(ctx context.Context, collection, onDuplicate string, docs []Document) (Result, error) {
	var buf bytes.Buffer
	if err := EncodeNDJSON(&buf, docs); err != nil {
		return Result{}, fmt.Errorf("upsert %s: encode: %w", collection, err)
	}
	return s.put(ctx, collection, onDuplicate, buf.Bytes())
}

// clearsDeleted reports whether body carries "deleted": false.
func clearsDeleted(body []byte) bool {
	var flags struct {
		Deleted *bool `json:"deleted"`
	}
	if err := json.Unmarshal(body, &flags); err != nil {
		return false
	}
	return flags.Deleted != nil && !*flags.Deleted
}

func withoutDeleted(doc Document) (Document, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(doc.Data, &body); err != nil {
		return doc, fmt.Errorf("%s: %w", doc.Key, err)
	}
	delete(body, "deleted")
	raw, err := json.Marshal(body)
	if err != nil {
		return doc, fmt.Errorf("%s: %w", doc.Key, err)
	}
	doc.Data = raw
	return doc, nil
}

// ImportStream implements Store. A stream without deleted flags is sent
// as-is in one request; otherwise it goes through Upsert in chunks.
func (s *HTTPStore) ImportStream(ctx context.Context, collection string, r io.Reader) (Result, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("import %s: read: %w", collection, err)
	}
	if bytes.Contains(body, []byte(`"deleted"`)) {
		return importViaUpsert(ctx, s, collection, bytes.NewReader(body))
	}
	return s.put(ctx, collection, "update", body)
}

func (s *HTTPStore) put(ctx context.Context, collection, onDuplicate string, body []byte) (Result, error) {
	q := url.Values{}
	q.Set("collection", collection)
	q.Set("on_duplicate", onDuplicate)
	header := s.header()
	header.Set("Content-Type", "application/x-ndjson")

	start := time.Now()
	resp, err := httpretry.Do(ctx, s.httpClient, s.retry, httpretry.Request{
		Method: http.MethodPut,
		URL:    s.baseURL + "/api/documents?" + q.Encode(),
		Header: header,
		Body:   body,
	})
	if err != nil {
		return Result{}, fmt.Errorf("save %s: %w", collection, err)
	}

	var decoded importResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return Result{}, fmt.Errorf("save %s: decode response: %w", collection, err)
	}
	if decoded.Error || decoded.Errors > 0 {
		return Result{}, fmt.Errorf("save %s: %d document errors: %s", collection, decoded.Errors, decoded.Message)
	}
	s.logger.Debug("relation engine save",
		"collection", collection,
		"created", decoded.Created,
		"updated", decoded.Updated,
		"duration", time.Since(start),
	)
	return Result{Created: decoded.Created, Updated: decoded.Updated, Ignored: decoded.Ignored}, nil
}

// Exists implements Store by fetching the document through the query API.
func (s *HTTPStore) Exists(ctx context.Context, collection, key string) (bool, error) {
	payload, err := json.Marshal(map[string]any{
		"query": "RETURN DOCUMENT(@@coll, @key) != null",
		"@coll": collection,
		"key":   key,
	})
	if err != nil {
		return false, err
	}
	header := s.header()
	header.Set("Content-Type", "application/json")
	resp, err := httpretry.Do(ctx, s.httpClient, s.retry, httpretry.Request{
		Method: http.MethodPost,
		URL:    s.baseURL + "/api/query_results",
		Header: header,
		Body:   payload,
	})
	if err != nil {
		return false, fmt.Errorf("exists %s/%s: %w", collection, key, err)
	}
	var decoded struct {
		Results []bool `json:"results"`
	}
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return false, fmt.Errorf("exists %s/%s: decode: %w", collection, key, err)
	}
	return len(decoded.Results) > 0 && decoded.Results[0], nil
}

// Ping implements Store.
func (s *HTTPStore) Ping(ctx context.Context) error {
	_, err := httpretry.Do(ctx, s.httpClient, httpretry.Policy{MaxRetries: -1}, httpretry.Request{
		Method: http.MethodGet,
		URL:    s.baseURL + "/",
		Header: s.header(),
	})
	if err != nil {
		return fmt.Errorf("ping relation engine: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *HTTPStore) Close() error {
	return nil
}
