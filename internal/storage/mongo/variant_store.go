package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	// ProductsCollection: коллекция документов товаров с остатками.
	ProductsCollection = "products"

	opTimeout      = 3 * time.Second
	connectTimeout = 5 * time.Second
)

// VariantStore читает и патчит документы товаров в MongoDB.
// Запись: одиночный UpdateOne с $set, без транзакций и без проверки версии документа.
type VariantStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Connect подключается к MongoDB и проверяет доступность primary.
func Connect(ctx context.Context, uri, database string) (*VariantStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &VariantStore{
		client: client,
		coll:   client.Database(database).Collection(ProductsCollection),
	}, nil
}

// NewVariantStore оборачивает готовую коллекцию (используется в тестах).
func NewVariantStore(coll *mongo.Collection) *VariantStore {
	return &VariantStore{client: coll.Database().Client(), coll: coll}
}

// FetchVariant читает документ по productId без блокировок.
func (s *VariantStore) FetchVariant(ctx context.Context, productID string) (domain.ProductVariant, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var variant domain.ProductVariant
	err := s.coll.FindOne(ctx, bson.M{"productId": productID}).Decode(&variant)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ProductVariant{}, domain.ErrProductNotFound
		}
		return domain.ProductVariant{}, fmt.Errorf("%w: find product %s: %w", domain.ErrStoreUnavailable, productID, err)
	}
	return variant, nil
}

// PatchVariant применяет $set к одному документу.
func (s *VariantStore) PatchVariant(ctx context.Context, productID string, patch domain.VariantPatch) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	set := bson.M{}
	for path, value := range patch {
		set[path] = value
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"productId": productID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("%w: update product %s: %w", domain.ErrStoreUnavailable, productID, err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

// Ping используется health-чекером.
func (s *VariantStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("mongo store is not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

// Name используется health-чекером.
func (s *VariantStore) Name() string {
	return "mongo"
}

// Close разрывает соединение с MongoDB.
func (s *VariantStore) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

var _ domain.VariantStore = (*VariantStore)(nil)
