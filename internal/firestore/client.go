package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/pricepilot/pricepilot/internal/config"
	"github.com/pricepilot/pricepilot/internal/models"
	"github.com/pricepilot/pricepilot/internal/observability"
)

type Client struct {
	client *firestore.Client
	cfg    config.FirestoreConfig
	logger *zap.Logger
}

func NewClient(ctx context.Context, cfg config.FirestoreConfig, logger *zap.Logger) (*Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	logger.Info("firestore client connected", zap.String("project", cfg.ProjectID))

	return &Client{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (c *Client) GetProduct(ctx context.Context, collection, productID string) (map[string]any, error) {
	ctx, span := observability.StartSpan(ctx, "firestore.get_product",
		attribute.String("collection", collection),
		attribute.String("product_id", productID),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	doc, err := c.client.Collection(collection).Doc(productID).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore get product %s/%s: %w", collection, productID, err)
	}

	return doc.Data(), nil
}

func (c *Client) GetMulti(ctx context.Context, collection string, productIDs []string) (map[string]map[string]any, error) {
	ctx, span := observability.StartSpan(ctx, "firestore.get_multi",
		attribute.String("collection", collection),
		attribute.Int("count", len(productIDs)),
	)
	defer span.End()

	result := make(map[string]map[string]any, len(productIDs))

	batchSize := c.cfg.MaxBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	for i := 0; i < len(productIDs); i += batchSize {
		end := i + batchSize
		if end > len(productIDs) {
			end = len(productIDs)
		}
		batch := productIDs[i:end]

		// Each batch gets its own timeout so sequential batches don't starve.
		batchCtx, batchCancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)

		refs := make([]*firestore.DocumentRef, len(batch))
		for j, id := range batch {
			refs[j] = c.client.Collection(collection).Doc(id)
		}

		docs, err := c.client.GetAll(batchCtx, refs)
		batchCancel()
		if err != nil {
			return nil, fmt.Errorf("firestore get_all batch %d: %w", i/batchSize, err)
		}

		for _, doc := range docs {
			if doc.Exists() {
				result[doc.Ref.ID] = doc.Data()
			}
		}
	}

	return result, nil
}

// HydrateRecords fills in image, seller, and availability details that
// the feed catalog does not carry. The products collection keys documents
// by models.ProductID of the product URL. Hydration is best effort.
func (c *Client) HydrateRecords(ctx context.Context, records []models.PriceRecord, collection string) ([]models.PriceRecord, error) {
	if len(records) == 0 {
		return records, nil
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = models.ProductID(r.URL)
	}

	docs, err := c.GetMulti(ctx, collection, ids)
	if err != nil {
		c.logger.Warn("hydration failed, returning unhydrated records", zap.Error(err))
		return records, nil
	}

	for i := range records {
		doc, ok := docs[ids[i]]
		if !ok {
			continue
		}
		if records[i].Image == "" {
			if v, ok := doc["image"].(string); ok {
				records[i].Image = v
			}
		}
		if records[i].Seller == "" {
			if v, ok := doc["seller"].(string); ok {
				records[i].Seller = v
			}
		}
		if records[i].Availability == "" {
			if v, ok := doc["availability"].(string); ok {
				records[i].Availability = v
			}
		}
		if records[i].Rating == 0 {
			if v, ok := doc["rating"].(float64); ok {
				records[i].Rating = v
			}
		}
	}

	return records, nil
}

type ChangeListener struct {
	client     *firestore.Client
	collection string
	logger     *zap.Logger
	handler    func(context.Context, *models.PriceUpdateEvent) error
}

// NewChangeListener watches the products collection and turns document
// changes into price update events, the same shape the Kafka ingest path
// produces.
func (c *Client) NewChangeListener(collection string, handler func(context.Context, *models.PriceUpdateEvent) error) *ChangeListener {
	return &ChangeListener{
		client:     c.client,
		collection: collection,
		logger:     c.logger,
		handler:    handler,
	}
}

func (cl *ChangeListener) Listen(ctx context.Context) error {
	snapIter := cl.client.Collection(cl.collection).Snapshots(ctx)
	defer snapIter.Stop()

	for {
		snap, err := snapIter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			cl.logger.Error("snapshot iterator error", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, change := range snap.Changes {
			var eventType string
			switch change.Kind {
			case firestore.DocumentAdded, firestore.DocumentModified:
				eventType = "UPSERT"
			case firestore.DocumentRemoved:
				eventType = "DELETE"
			}

			event := eventFromDoc(eventType, change.Doc)
			if err := cl.handler(ctx, event); err != nil {
				cl.logger.Error("change event handler error",
					zap.String("product_id", event.ProductID),
					zap.String("type", eventType),
					zap.Error(err),
				)
			}
		}
	}
}

func eventFromDoc(eventType string, doc *firestore.DocumentSnapshot) *models.PriceUpdateEvent {
	event := &models.PriceUpdateEvent{
		Type:       eventType,
		ProductID:  doc.Ref.ID,
		ObservedAt: time.Now().UTC(),
		Version:    doc.UpdateTime.UnixNano(),
	}

	data := doc.Data()
	if v, ok := data["source"].(string); ok {
		event.Source = v
	}
	if v, ok := data["title"].(string); ok {
		event.Title = v
	}
	if v, ok := data["price"].(string); ok {
		event.Price = v
	}
	if v, ok := data["url"].(string); ok {
		event.URL = v
	}
	if v, ok := data["image"].(string); ok {
		event.Image = v
	}
	if v, ok := data["rating"].(float64); ok {
		event.Rating = v
	}
	return event
}

func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	iter := c.client.Collection("_health_check").Limit(1).Documents(ctx)
	defer iter.Stop()

	_, err := iter.Next()
	// iterator.Done means the collection is empty, Firestore is reachable.
	if err != nil && err != iterator.Done {
		return fmt.Errorf("firestore health check: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
