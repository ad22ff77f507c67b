package searchindex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	weaviate "github.com/weaviate/weaviate-go-client/v5/weaviate"
	filters "github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	gql "github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

const className = "EngramMemory"

// weavIndex implements Index using the Weaviate Go client. The Weaviate
// object id is the memory id, which makes upserts and existence checks
// direct lookups.
type weavIndex struct {
	client  *weaviate.Client
	baseURL string // host:port without scheme
}

// NewWeaviateIndex constructs an Index backed by Weaviate at baseURL
// (host:port without scheme, e.g. "localhost:8081").
func NewWeaviateIndex(baseURL string) (Index, error) {
	cfg := weaviate.Config{Scheme: "http", Host: baseURL}
	cl, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &weavIndex{client: cl, baseURL: baseURL}, nil
}

func (w *weavIndex) Upsert(ctx context.Context, doc MemoryDoc, vec []float32) error {
	props := map[string]interface{}{
		"memoryId":     doc.MemoryID,
		"ownerId":      doc.OwnerID,
		"content":      doc.Content,
		"sentiment":    doc.Sentiment,
		"creationTime": doc.CreationTime.UTC().Format(time.RFC3339),
	}
	_, err := w.client.Data().Creator().
		WithClassName(className).
		WithID(doc.MemoryID).
		WithProperties(props).
		WithVector(vec).
		Do(ctx)
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), "already exists") && !strings.Contains(err.Error(), "422") {
		return err
	}
	return w.client.Data().Updater().
		WithClassName(className).
		WithID(doc.MemoryID).
		WithProperties(props).
		WithVector(vec).
		Do(ctx)
}

func (w *weavIndex) Search(ctx context.Context, ownerID string, vec []float32, topK int) ([]Hit, error) {
	near := w.client.GraphQL().NearVectorArgBuilder().WithVector(vec)
	where := filters.Where().WithPath([]string{"ownerId"}).WithOperator(filters.Equal).WithValueText(ownerID)

	resp, err := w.client.GraphQL().Get().
		WithClassName(className).
		WithWhere(where).
		WithNearVector(near).
		WithLimit(topK).
		WithFields(
			gql.Field{Name: "memoryId"},
			gql.Field{Name: "content"},
			gql.Field{Name: "sentiment"},
			gql.Field{Name: "creationTime"},
			gql.Field{Name: "_additional", Fields: []gql.Field{{Name: "certainty"}}},
		).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate graphql: %s", formatGraphQLErrors(resp.Errors))
	}

	getData, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	raw, ok := getData[className].([]interface{})
	if !ok {
		return []Hit{}, nil
	}

	out := make([]Hit, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		hit := Hit{}
		hit.MemoryID, _ = m["memoryId"].(string)
		hit.Content, _ = m["content"].(string)
		hit.Sentiment, _ = m["sentiment"].(float64)
		if ts, ok := m["creationTime"].(string); ok {
			hit.CreationTime, _ = time.Parse(time.RFC3339, ts)
		}
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			switch v := add["certainty"].(type) {
			case float64:
				hit.Similarity = v
			case string:
				hit.Similarity, _ = strconv.ParseFloat(v, 64)
			}
		}
		out = append(out, hit)
	}
	return out, nil
}

func (w *weavIndex) Exists(ctx context.Context, memoryID string) (bool, error) {
	return w.client.Data().Checker().
		WithClassName(className).
		WithID(memoryID).
		Do(ctx)
}

func (w *weavIndex) SampleMemoryIDs(ctx context.Context, n int) ([]string, error) {
	resp, err := w.client.GraphQL().Get().
		WithClassName(className).
		WithLimit(n).
		WithFields(gql.Field{Name: "memoryId"}).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate graphql: %s", formatGraphQLErrors(resp.Errors))
	}
	getData, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	raw, ok := getData[className].([]interface{})
	if !ok {
		return nil, nil
	}
	var ids []string
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			if id, ok := m["memoryId"].(string); ok && id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (w *weavIndex) Delete(ctx context.Context, memoryID string) error {
	if memoryID == "" {
		return nil
	}
	err := w.client.Data().Deleter().
		WithClassName(className).
		WithID(memoryID).
		Do(ctx)
	if err != nil && strings.Contains(err.Error(), "404") {
		return nil
	}
	return err
}

// Ping calls GET /v1/meta and expects 200 OK.
func (w *weavIndex) Ping(ctx context.Context) error {
	url := w.baseURL
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/v1/meta", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("weaviate status %d", resp.StatusCode)
	}
	return nil
}

func formatGraphQLErrors(errs interface{}) string {
	if b, err := json.Marshal(errs); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", errs)
}
