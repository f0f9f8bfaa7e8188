// Команда migrate создаёт индексы MongoDB, на которые рассчитывает ядро:
// уникальные внешние идентификаторы товаров и заказов, одна корзина на
// пользователя, уникальные коды купонов.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/smartbag/commerce/internal/domain"
)

const defaultTimeout = 30 * time.Second

type indexSpec struct {
	collection string
	keys       bson.D
	unique     bool
	name       string
}

func indexSpecs() []indexSpec {
	return []indexSpec{
		{collection: domain.CollectionProducts, keys: bson.D{{Key: "id", Value: 1}}, unique: true, name: "uniq_product_id"},
		{collection: domain.CollectionProducts, keys: bson.D{{Key: "is_active", Value: 1}, {Key: "id", Value: 1}}, name: "active_products"},
		{collection: domain.CollectionOrders, keys: bson.D{{Key: "id", Value: 1}}, unique: true, name: "uniq_order_id"},
		{collection: domain.CollectionOrders, keys: bson.D{{Key: "user", Value: 1}, {Key: "created_at", Value: -1}}, name: "user_orders"},
		{collection: domain.CollectionCarts, keys: bson.D{{Key: "user", Value: 1}}, unique: true, name: "uniq_cart_user"},
		{collection: domain.CollectionCoupons, keys: bson.D{{Key: "code", Value: 1}}, unique: true, name: "uniq_coupon_code"},
	}
}

func main() {
	var (
		uri      string
		database string
	)

	flag.StringVar(&uri, "uri", "", "MongoDB URI (fallback: COMMERCE_MONGO_URI)")
	flag.StringVar(&database, "db", "", "database name (fallback: COMMERCE_MONGO_DB)")
	flag.Parse()

	if strings.TrimSpace(uri) == "" {
		uri = strings.TrimSpace(os.Getenv("COMMERCE_MONGO_URI"))
	}
	if uri == "" {
		fail("COMMERCE_MONGO_URI (or -uri) is required")
	}
	if strings.TrimSpace(database) == "" {
		database = strings.TrimSpace(os.Getenv("COMMERCE_MONGO_DB"))
	}
	if database == "" {
		database = "commerce"
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		fail("mongo connect: %v", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		fail("mongo ping: %v", err)
	}

	db := client.Database(database)
	for _, spec := range indexSpecs() {
		opts := options.Index().SetName(spec.name)
		if spec.unique {
			opts.SetUnique(true)
		}
		model := mongo.IndexModel{Keys: spec.keys, Options: opts}
		name, err := db.Collection(spec.collection).Indexes().CreateOne(ctx, model)
		if err != nil {
			fail("create index %s on %s: %v", spec.name, spec.collection, err)
		}
		fmt.Printf("index ok: %s.%s\n", spec.collection, name)
	}

	fmt.Println("migrate ok")
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
