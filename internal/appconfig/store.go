package appconfig

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "app_config"

// Source hands out the configuration currently in effect.
type Source interface {
	Current() *Snapshot
}

// Store caches the app_config collection and swaps in a fresh snapshot on Reload.
type Store struct {
	coll    *mongo.Collection
	logger  *slog.Logger
	current atomic.Pointer[Snapshot]
}

func NewStore(db *mongo.Database, logger *slog.Logger) *Store {
	s := &Store{coll: db.Collection(collectionName), logger: logger}
	s.current.Store(&Snapshot{Costs: map[string]map[string]int{}})
	return s
}

// Connect opens the MongoDB client and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client, nil
}

func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Reload reads every document and replaces the cached snapshot. On error the
// previous snapshot stays in effect.
func (s *Store) Reload(ctx context.Context) error {
	cursor, err := s.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "type", Value: 1}}))
	if err != nil {
		return fmt.Errorf("find app config: %w", err)
	}
	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return fmt.Errorf("decode app config: %w", err)
	}
	snap, err := buildSnapshot(docs, time.Now().UTC())
	if err != nil {
		return err
	}
	s.current.Store(snap)
	s.logger.Info("app config loaded",
		"documents", len(docs),
		"packages", len(snap.Packages),
		"style_templates", len(snap.StyleTemplates),
		"model_templates", len(snap.MaleTemplates)+len(snap.FemaleTemplates),
	)
	return nil
}

// Upsert replaces the document of the given type and reloads the cache.
func (s *Store) Upsert(ctx context.Context, typ string, fields map[string]any) error {
	doc := bson.M{}
	for k, v := range fields {
		doc[k] = v
	}
	doc["type"] = typ
	doc["updated_at"] = time.Now().UTC()

	// Validate before writing so a bad document never replaces a good one.
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode app config %s: %w", typ, err)
	}
	var parsed document
	if err := bson.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("decode app config %s: %w", typ, err)
	}
	if _, err := buildSnapshot([]document{parsed}, time.Now()); err != nil {
		return err
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := s.coll.ReplaceOne(ctx, bson.M{"type": typ}, doc, opts); err != nil {
		return fmt.Errorf("upsert app config %s: %w", typ, err)
	}
	return s.Reload(ctx)
}

// Static serves a fixed snapshot.
type Static struct {
	snap *Snapshot
}

func NewStatic(snap *Snapshot) *Static {
	if snap.Costs == nil {
		snap.Costs = map[string]map[string]int{}
	}
	return &Static{snap: snap}
}

func (s *Static) Current() *Snapshot {
	return s.snap
}
