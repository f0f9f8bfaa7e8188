package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/smartbag/commerce/internal/domain"
)

// DocumentStore — реализация domain.DocumentStore поверх MongoDB.
// Атомарность условного декремента стока обеспечивается самим сервером:
// фильтр и мутация UpdateOne применяются как одна операция над документом.
type DocumentStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect устанавливает соединение с MongoDB и проверяет его пингом.
func Connect(ctx context.Context, uri, database string) (*DocumentStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	return &DocumentStore{client: client, db: client.Database(database)}, nil
}

// NewDocumentStore оборачивает уже установленное соединение (используется в тестах и миграторе).
func NewDocumentStore(client *mongo.Client, database string) *DocumentStore {
	return &DocumentStore{client: client, db: client.Database(database)}
}

// Ping проверяет доступность сервера; используется readiness-пробой.
func (s *DocumentStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close закрывает соединение с сервером.
func (s *DocumentStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// FindOne возвращает первый документ по фильтру или nil при его отсутствии.
// Отсутствие документа — штатный исход, а не ошибка.
func (s *DocumentStore) FindOne(ctx context.Context, collection string, filter domain.Filter) (domain.Document, error) {
	var doc bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M(filter)).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find one %s: %w", collection, err)
	}
	return domain.Document(doc), nil
}

// FindMany возвращает документы по фильтру с сортировкой и пагинацией.
func (s *DocumentStore) FindMany(ctx context.Context, collection string, filter domain.Filter, opts domain.FindOptions) ([]domain.Document, error) {
	findOpts := options.Find()
	if len(opts.Sort) > 0 {
		sortSpec := bson.D{}
		for _, field := range opts.Sort {
			dir := 1
			if field.Desc {
				dir = -1
			}
			sortSpec = append(sortSpec, bson.E{Key: field.Key, Value: dir})
		}
		findOpts.SetSort(sortSpec)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}

	cursor, err := s.db.Collection(collection).Find(ctx, bson.M(filter), findOpts)
	if err != nil {
		return nil, fmt.Errorf("find many %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	result := make([]domain.Document, 0, len(raw))
	for _, doc := range raw {
		result = append(result, domain.Document(doc))
	}
	return result, nil
}

// InsertOne сохраняет документ и возвращает строковый идентификатор.
func (s *DocumentStore) InsertOne(ctx context.Context, collection string, doc domain.Document) (string, error) {
	res, err := s.db.Collection(collection).InsertOne(ctx, bson.M(doc))
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", collection, err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		return oid.Hex(), nil
	}
	return fmt.Sprint(res.InsertedID), nil
}

// UpdateOne применяет обновление к первому подходящему документу.
// Обновление без операторов трактуется как $set целиком.
func (s *DocumentStore) UpdateOne(ctx context.Context, collection string, filter domain.Filter, update domain.Update) (domain.UpdateResult, error) {
	res, err := s.db.Collection(collection).UpdateOne(ctx, bson.M(filter), normalizeUpdate(update))
	if err != nil {
		return domain.UpdateResult{}, fmt.Errorf("update one %s: %w", collection, err)
	}
	return domain.UpdateResult{MatchedCount: res.MatchedCount, ModifiedCount: res.ModifiedCount}, nil
}

// UpdateMany применяет обновление ко всем подходящим документам.
func (s *DocumentStore) UpdateMany(ctx context.Context, collection string, filter domain.Filter, update domain.Update) (domain.UpdateResult, error) {
	res, err := s.db.Collection(collection).UpdateMany(ctx, bson.M(filter), normalizeUpdate(update))
	if err != nil {
		return domain.UpdateResult{}, fmt.Errorf("update many %s: %w", collection, err)
	}
	return domain.UpdateResult{MatchedCount: res.MatchedCount, ModifiedCount: res.ModifiedCount}, nil
}

// DeleteOne удаляет первый подходящий документ.
func (s *DocumentStore) DeleteOne(ctx context.Context, collection string, filter domain.Filter) (int64, error) {
	res, err := s.db.Collection(collection).DeleteOne(ctx, bson.M(filter))
	if err != nil {
		return 0, fmt.Errorf("delete one %s: %w", collection, err)
	}
	return res.DeletedCount, nil
}

// DeleteMany удаляет все подходящие документы.
func (s *DocumentStore) DeleteMany(ctx context.Context, collection string, filter domain.Filter) (int64, error) {
	res, err := s.db.Collection(collection).DeleteMany(ctx, bson.M(filter))
	if err != nil {
		return 0, fmt.Errorf("delete many %s: %w", collection, err)
	}
	return res.DeletedCount, nil
}

// CountDocuments возвращает число документов по фильтру.
func (s *DocumentStore) CountDocuments(ctx context.Context, collection string, filter domain.Filter) (int64, error) {
	count, err := s.db.Collection(collection).CountDocuments(ctx, bson.M(filter))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return count, nil
}

// Aggregate выполняет конвейер агрегации.
func (s *DocumentStore) Aggregate(ctx context.Context, collection string, pipeline []domain.Document) ([]domain.Document, error) {
	stages := make([]any, 0, len(pipeline))
	for _, stage := range pipeline {
		stages = append(stages, bson.M(stage))
	}

	cursor, err := s.db.Collection(collection).Aggregate(ctx, stages)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("decode aggregate %s: %w", collection, err)
	}
	result := make([]domain.Document, 0, len(raw))
	for _, doc := range raw {
		result = append(result, domain.Document(doc))
	}
	return result, nil
}

// normalizeUpdate оборачивает словарь без операторов в $set.
func normalizeUpdate(update domain.Update) bson.M {
	for key := range update {
		if strings.HasPrefix(key, "$") {
			return bson.M(update)
		}
	}
	return bson.M{"$set": bson.M(update)}
}

var _ domain.DocumentStore = (*DocumentStore)(nil)
