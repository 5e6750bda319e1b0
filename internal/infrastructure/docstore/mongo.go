package docstore

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

const mongoCollection = "documents"

// MongoConfig MongoDB 连接配置
type MongoConfig struct {
	URI             string
	Database        string
	MaxBatchSize    int
	UseTransactions bool // 需要副本集
}

// MongoStore keeps every document in one MongoDB collection keyed by its
// full path.
type MongoStore struct {
	client   *mongo.Client
	coll     *mongo.Collection
	maxBatch int
	txn      bool
	logger   *zap.Logger
}

type mongoDoc struct {
	ID         string    `bson:"_id"`
	Collection string    `bson:"collection"`
	Parent     string    `bson:"parent"`
	Group      string    `bson:"group"`
	Data       bson.M    `bson:"data"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

// NewMongoStore connects and ensures the query indexes exist.
func NewMongoStore(ctx context.Context, cfg MongoConfig, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Database == "" {
		cfg.Database = "chatsync"
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, apperrors.NewUnavailableError("connect to mongo", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, apperrors.NewUnavailableError("ping mongo", err)
	}

	coll := client.Database(cfg.Database).Collection(mongoCollection)
	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "collection", Value: 1}}},
		{Keys: bson.D{{Key: "parent", Value: 1}, {Key: "group", Value: 1}}},
		{Keys: bson.D{{Key: "group", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, apperrors.NewUnavailableError("create mongo indexes", err)
	}

	logger.Info("Mongo document store ready",
		zap.String("database", cfg.Database),
		zap.Bool("transactions", cfg.UseTransactions),
	)
	return &MongoStore{
		client:   client,
		coll:     coll,
		maxBatch: cfg.MaxBatchSize,
		txn:      cfg.UseTransactions,
		logger:   logger,
	}, nil
}

func (s *MongoStore) MaxBatchSize() int { return s.maxBatch }

func (s *MongoStore) Get(ctx context.Context, path string) (*Document, error) {
	if err := ValidateDocPath(path); err != nil {
		return nil, err
	}
	var doc mongoDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": path}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.NewNotFoundError("document not found: " + path)
	}
	if err != nil {
		return nil, s.unavailable("get document", err)
	}
	return &Document{Path: doc.ID, Data: normalizeBSONMap(doc.Data)}, nil
}

func (s *MongoStore) Set(ctx context.Context, path string, data map[string]any) error {
	b := s.Batch()
	b.Set(path, data)
	return b.Commit(ctx)
}

func (s *MongoStore) Delete(ctx context.Context, path string) error {
	b := s.Batch()
	b.Delete(path)
	return b.Commit(ctx)
}

func (s *MongoStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	conds := bson.A{bson.M{"collection": q.Collection}}
	conds = append(conds, filterConds(q.Filters)...)

	dir := 1
	cmp := "$gt"
	if q.Direction == Desc {
		dir, cmp = -1, "$lt"
	}
	order := bson.D{}
	if q.OrderBy != "" {
		field := "data." + q.OrderBy
		conds = append(conds, bson.M{field: bson.M{"$exists": true}})
		if q.StartAfter != nil {
			v := NormalizeValue(q.StartAfter.Value)
			conds = append(conds, bson.M{"$or": bson.A{
				bson.M{field: bson.M{cmp: v}},
				bson.M{field: v, "_id": bson.M{cmp: Join(q.Collection, q.StartAfter.ID)}},
			}})
		}
		order = append(order, bson.E{Key: field, Value: dir})
	} else if q.StartAfter != nil {
		conds = append(conds, bson.M{"_id": bson.M{cmp: Join(q.Collection, q.StartAfter.ID)}})
	}
	order = append(order, bson.E{Key: "_id", Value: dir})

	opts := options.Find().SetSort(order)
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := s.coll.Find(ctx, bson.M{"$and": conds}, opts)
	if err != nil {
		return nil, s.unavailable("query documents", err)
	}
	var rows []mongoDoc
	if err := cur.All(ctx, &rows); err != nil {
		return nil, s.unavailable("read query cursor", err)
	}
	docs := make([]Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, Document{Path: r.ID, Data: normalizeBSONMap(r.Data)})
	}
	return docs, nil
}

func (s *MongoStore) Count(ctx context.Context, q CountQuery) (int64, error) {
	if err := validateCount(q); err != nil {
		return 0, err
	}
	var conds bson.A
	if q.Collection != "" {
		conds = append(conds, bson.M{"collection": q.Collection})
	} else {
		conds = append(conds, bson.M{"group": q.Group})
		if prefix := strings.TrimSuffix(q.Prefix, "/"); prefix != "" {
			conds = append(conds, bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix) + "/"}})
		}
	}
	conds = append(conds, filterConds(q.Filters)...)
	n, err := s.coll.CountDocuments(ctx, bson.M{"$and": conds})
	if err != nil {
		return 0, s.unavailable("count documents", err)
	}
	return n, nil
}

func (s *MongoStore) ListCollections(ctx context.Context, docPath string) ([]string, error) {
	if docPath != "" {
		if err := ValidateDocPath(docPath); err != nil {
			return nil, err
		}
	}
	var ids []string
	if err := s.coll.Distinct(ctx, "group", bson.M{"parent": docPath}).Decode(&ids); err != nil {
		return nil, s.unavailable("list collections", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MongoStore) Batch() WriteBatch {
	return &mongoBatch{store: s}
}

// Close 断开连接
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) unavailable(op string, err error) error {
	s.logger.Error("Mongo document store failure", zap.String("op", op), zap.Error(err))
	return apperrors.NewUnavailableError(op, err)
}

func filterConds(filters []Filter) bson.A {
	var out bson.A
	for _, f := range filters {
		out = append(out, bson.M{"data." + f.Field: NormalizeValue(f.Value)})
	}
	return out
}

type mongoBatch struct {
	store *MongoStore
	ops   []BatchOp
}

func (b *mongoBatch) Set(path string, data map[string]any) {
	b.ops = append(b.ops, BatchOp{Path: path, Data: data})
}

func (b *mongoBatch) Delete(path string) {
	b.ops = append(b.ops, BatchOp{Path: path, Delete: true})
}

func (b *mongoBatch) Len() int { return len(b.ops) }

func (b *mongoBatch) Commit(ctx context.Context) error {
	ops, err := prepareOps(b.ops, b.store.maxBatch)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	now := time.Now().UTC()
	models := make([]mongo.WriteModel, 0, len(ops))
	for _, op := range ops {
		if op.Delete {
			models = append(models, mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": op.Path}))
			continue
		}
		coll := CollectionOf(op.Path)
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": op.Path}).
			SetReplacement(mongoDoc{
				ID:         op.Path,
				Collection: coll,
				Parent:     ParentDoc(coll),
				Group:      DocID(coll),
				Data:       bson.M(op.Data),
				UpdatedAt:  now,
			}).
			SetUpsert(true))
	}

	write := func(ctx context.Context) (any, error) {
		return b.store.coll.BulkWrite(ctx, models)
	}
	if b.store.txn {
		sess, err := b.store.client.StartSession()
		if err != nil {
			return b.store.unavailable("start session", err)
		}
		defer sess.EndSession(ctx)
		_, err = sess.WithTransaction(ctx, write)
		if err != nil {
			return b.store.unavailable("commit batch", err)
		}
	} else if _, err := write(ctx); err != nil {
		return b.store.unavailable("commit batch", err)
	}
	b.ops = nil
	return nil
}

// normalizeBSONMap converts decoded BSON into the JSON shapes the other
// stores return.
func normalizeBSONMap(m bson.M) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeBSON(v)
	}
	return out
}

func normalizeBSON(v any) any {
	switch x := v.(type) {
	case bson.M:
		return normalizeBSONMap(x)
	case map[string]any:
		return normalizeBSONMap(x)
	case bson.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = normalizeBSON(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeBSON(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeBSON(e)
		}
		return out
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case bson.DateTime:
		return float64(x)
	default:
		return v
	}
}
