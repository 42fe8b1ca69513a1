// Package mongostore keeps documents in a single MongoDB collection, one
// record per path:
//
//	{_id: "<path>", collection: "<parent path>", doc_id: "<id>", data: {...}}
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"firehouse/internal/docstore"
	"firehouse/internal/ecode"
)

const collectionName = "documents"

type record struct {
	Path       string `bson:"_id"`
	Collection string `bson:"collection"`
	DocID      string `bson:"doc_id"`
	Data       bson.M `bson:"data"`
}

type Store struct {
	coll *mongo.Collection

	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

var _ docstore.Store = (*Store)(nil)

func New(db *mongo.Database) *Store {
	return &Store{coll: db.Collection(collectionName), now: time.Now}
}

// Connect dials uri, pings it and returns a store on database.
func Connect(ctx context.Context, uri, database string) (*mongo.Client, *Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	s := New(client.Database(database))
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}
	return client, s, nil
}

// EnsureIndexes creates the collection/doc_id index queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "collection", Value: 1}, {Key: "doc_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// clock returns strictly increasing millisecond times; BSON dates carry no
// finer precision.
func (s *Store) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now().UTC().Truncate(time.Millisecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Millisecond)
	}
	s.last = t
	return t
}

func (s *Store) Get(ctx context.Context, doc docstore.Path) (*docstore.Snapshot, error) {
	if err := docstore.CheckDocument(doc); err != nil {
		return nil, err
	}
	var rec record
	err := s.coll.FindOne(ctx, bson.M{"_id": string(doc)}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get %s: %w", doc, err)
	}
	return rec.snapshot(), nil
}

func (s *Store) Set(ctx context.Context, doc docstore.Path, data docstore.Data) error {
	if err := docstore.CheckDocument(doc); err != nil {
		return err
	}
	rec := record{
		Path:       string(doc),
		Collection: string(doc.Parent()),
		DocID:      doc.ID(),
		Data:       bson.M(docstore.Resolve(data, s.clock())),
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": rec.Path}, rec, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("set %s: %w", doc, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, doc docstore.Path, data docstore.Data) error {
	if err := docstore.CheckDocument(doc); err != nil {
		return err
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": string(doc)}, bson.M{"$set": setFields(docstore.Resolve(data, s.clock()))})
	if err != nil {
		return fmt.Errorf("update %s: %w", doc, err)
	}
	if res.MatchedCount == 0 {
		return ecode.Newf(ecode.NotFound, "no document to update: %s", doc)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, col docstore.Path, data docstore.Data) (string, error) {
	if err := docstore.CheckCollection(col); err != nil {
		return "", err
	}
	id, err := docstore.NewID()
	if err != nil {
		return "", err
	}
	rec := record{
		Path:       string(col.Child(id)),
		Collection: string(col),
		DocID:      id,
		Data:       bson.M(docstore.Resolve(data, s.clock())),
	}
	if _, err := s.coll.InsertOne(ctx, rec); err != nil {
		return "", fmt.Errorf("add to %s: %w", col, err)
	}
	return id, nil
}

func (s *Store) Query(ctx context.Context, q *docstore.Query) ([]*docstore.Snapshot, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(buildSort(q))
	if q.Size > 0 {
		opts.SetLimit(int64(q.Size))
	}
	cursor, err := s.coll.Find(ctx, buildFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer cursor.Close(ctx)

	var recs []record
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", q.Collection, err)
	}
	out := make([]*docstore.Snapshot, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].snapshot())
	}
	return out, nil
}

func setFields(data docstore.Data) bson.M {
	set := bson.M{}
	for k, v := range data {
		set["data."+k] = v
	}
	return set
}

func buildFilter(q *docstore.Query) bson.M {
	conds := bson.A{bson.M{"collection": string(q.Collection)}}
	for _, f := range q.Filters {
		conds = append(conds, bson.M{"data." + f.Field: f.Value})
	}
	if q.OrderField != "" {
		field := "data." + q.OrderField
		conds = append(conds, bson.M{field: bson.M{"$exists": true}})
		if value, id, ok := q.AfterKey(); ok {
			cmp := "$gt"
			if q.Direction == docstore.Descending {
				cmp = "$lt"
			}
			conds = append(conds, bson.M{"$or": bson.A{
				bson.M{field: bson.M{cmp: value}},
				bson.M{field: value, "doc_id": bson.M{cmp: id}},
			}})
		}
	}
	return bson.M{"$and": conds}
}

func buildSort(q *docstore.Query) bson.D {
	dir := 1
	if q.Direction == docstore.Descending {
		dir = -1
	}
	if q.OrderField == "" {
		return bson.D{{Key: "doc_id", Value: dir}}
	}
	return bson.D{{Key: "data." + q.OrderField, Value: dir}, {Key: "doc_id", Value: dir}}
}

func (r *record) snapshot() *docstore.Snapshot {
	data := make(docstore.Data, len(r.Data))
	for k, v := range r.Data {
		data[k] = fromBSON(v)
	}
	return &docstore.Snapshot{ID: r.DocID, Path: docstore.Path(r.Path), Data: data}
}

// fromBSON turns driver types back into plain Go values.
func fromBSON(v any) any {
	switch x := v.(type) {
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.ObjectID:
		return x.Hex()
	case primitive.M:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = fromBSON(e)
		}
		return m
	case primitive.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = fromBSON(e.Value)
		}
		return m
	case primitive.A:
		a := make([]any, len(x))
		for i, e := range x {
			a[i] = fromBSON(e)
		}
		return a
	default:
		return v
	}
}
