package store

import (
	"context"
	"errors"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/stevemurr/collection-crud/document"
)

const mongoBackend = "mongo"

// MongoStore maps each collection onto a MongoDB collection. Identifiers
// are stored natively under _id.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &Error{Backend: mongoBackend, Op: "connect", Err: err}
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, &Error{Backend: mongoBackend, Op: "connect", Err: err}
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

func byID(id document.ID) bson.M {
	return bson.M{document.IDField: id.Value()}
}

// fromBSON converts a raw result into a document. Nested BSON documents
// and arrays are plain maps and slices, so they serialize as JSON.
func fromBSON(m bson.M) (*document.Document, error) {
	id, err := document.IDFromValue(m[document.IDField])
	if err != nil {
		return nil, err
	}
	return document.Stored(id, document.Fields(m)), nil
}

func toBSON(doc *document.Document) bson.M {
	m := make(bson.M, len(doc.Fields)+1)
	for k, v := range doc.Fields {
		m[k] = v
	}
	m[document.IDField] = doc.ID.Value()
	return m
}

func (s *MongoStore) Find(ctx context.Context, collection string) ([]*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	cur, err := s.db.Collection(collection).Find(ctx, bson.D{})
	if err != nil {
		return nil, wrap(mongoBackend, "find", collection, err)
	}
	defer cur.Close(ctx)
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, wrap(mongoBackend, "find", collection, err)
	}
	result := make([]*document.Document, 0, len(raw))
	for _, m := range raw {
		d, err := fromBSON(m)
		if err != nil {
			return nil, wrap(mongoBackend, "find", collection, err)
		}
		result = append(result, d)
	}
	return result, nil
}

func (s *MongoStore) FindByID(ctx context.Context, collection string, id document.ID) (*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	var m bson.M
	err := s.db.Collection(collection).FindOne(ctx, byID(id)).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(collection, id)
	}
	if err != nil {
		return nil, wrap(mongoBackend, "findById", collection, err)
	}
	d, err := fromBSON(m)
	return d, wrap(mongoBackend, "findById", collection, err)
}

func (s *MongoStore) FindByIDAndUpdate(ctx context.Context, collection string, id document.ID, patch document.Fields) (*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	set := bson.M{}
	for k, v := range patch {
		if k != document.IDField {
			set[k] = v
		}
	}
	// MongoDB rejects an empty $set, and an empty patch changes nothing.
	if len(set) == 0 {
		return s.FindByID(ctx, collection, id)
	}
	var m bson.M
	err := s.db.Collection(collection).FindOneAndUpdate(ctx,
		byID(id),
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(collection, id)
	}
	if err != nil {
		return nil, wrap(mongoBackend, "findByIdAndUpdate", collection, err)
	}
	d, err := fromBSON(m)
	return d, wrap(mongoBackend, "findByIdAndUpdate", collection, err)
}

func (s *MongoStore) FindByIDAndRemove(ctx context.Context, collection string, id document.ID) (*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	var m bson.M
	err := s.db.Collection(collection).FindOneAndDelete(ctx, byID(id)).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(collection, id)
	}
	if err != nil {
		return nil, wrap(mongoBackend, "findByIdAndRemove", collection, err)
	}
	d, err := fromBSON(m)
	return d, wrap(mongoBackend, "findByIdAndRemove", collection, err)
}

func (s *MongoStore) Save(ctx context.Context, collection string, doc *document.Document) (*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	coll := s.db.Collection(collection)
	if doc.IsNew() {
		key := prepareInsert(doc)
		if _, err := coll.InsertOne(ctx, toBSON(doc)); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, notUniqueErr(collection, key)
			}
			return nil, wrap(mongoBackend, "save", collection, err)
		}
		doc.MarkSaved()
		return doc.Clone(), nil
	}
	res, err := coll.ReplaceOne(ctx, byID(doc.ID), toBSON(doc))
	if err != nil {
		return nil, wrap(mongoBackend, "save", collection, err)
	}
	if res.MatchedCount == 0 {
		return nil, notFound(collection, doc.ID)
	}
	return doc.Clone(), nil
}

// CreateMany issues an ordered InsertMany. MongoDB keeps the documents
// written before a failing one.
func (s *MongoStore) CreateMany(ctx context.Context, collection string, items []document.Fields) ([]*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	docs, err := batch(collection, items)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return []*document.Document{}, nil
	}
	raw := make([]any, len(docs))
	for i, d := range docs {
		raw[i] = toBSON(d)
	}
	if _, err := s.db.Collection(collection).InsertMany(ctx, raw); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, wrap(mongoBackend, "createMany", collection, errors.Join(ErrDuplicateID, err))
		}
		return nil, wrap(mongoBackend, "createMany", collection, err)
	}
	return markSaved(docs), nil
}

func (s *MongoStore) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, wrap(mongoBackend, "listCollections", "", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return wrap(mongoBackend, "ping", "", s.client.Ping(ctx, readpref.Primary()))
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}
