package searchindex

import (
	"context"
	"fmt"
	"time"

	weaviate "github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// BootstrapWeaviate ensures the EngramMemory class exists. Vectors come from
// the embedding provider, so the class carries no vectorizer.
func BootstrapWeaviate(ctx context.Context, baseURL string) error {
	cfg := weaviate.Config{Scheme: "http", Host: baseURL}
	cl, err := weaviate.NewClient(cfg)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	class := &models.Class{
		Class:      className,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "memoryId", DataType: []string{"uuid"}},
			{Name: "ownerId", DataType: []string{"text"}},
			{Name: "content", DataType: []string{"text"}},
			{Name: "sentiment", DataType: []string{"number"}},
			{Name: "creationTime", DataType: []string{"date"}},
		},
	}

	exists, err := cl.Schema().ClassExistenceChecker().WithClassName(className).Do(cctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", className, err)
	}
	if exists {
		return nil
	}
	if err := cl.Schema().ClassCreator().WithClass(class).Do(cctx); err != nil {
		return fmt.Errorf("create class %s: %w", className, err)
	}
	return nil
}
