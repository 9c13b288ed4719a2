// Package mongo implements the archive store on MongoDB with one collection
// per conversation. Each collection holds a single meta document (meta: true)
// next to the message documents, which keeps collections written by earlier
// uploaders readable.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-archive/internal/archive"
	"github.com/chirino/chat-archive/internal/config"
	"github.com/chirino/chat-archive/internal/model"
	registrymigrate "github.com/chirino/chat-archive/internal/registry/migrate"
	registrystore "github.com/chirino/chat-archive/internal/registry/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	metaID          = "meta"
	insertBatchSize = 1000

	codeNamespaceNotFound = 26
	codeNamespaceExists   = 48
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registrystore.ArchiveStore, error) {
			return Open(ctx, config.FromContext(ctx))
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Datastore: "mongo", Migrator: &mongoMigrator{}})
}

func connect(ctx context.Context, cfg *config.Config) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(cfg.DBURL)
	if cfg.DBMaxOpenConns > 0 {
		opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
	}
	if cfg.DBMaxIdleConns > 0 {
		opts.SetMinPoolSize(uint64(cfg.DBMaxIdleConns))
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// Open connects to MongoDB and returns a store over cfg.DBName.
func Open(ctx context.Context, cfg *config.Config) (*MongoStore, error) {
	client, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &MongoStore{client: client, db: client.Database(cfg.DBName)}, nil
}

type mongoMigrator struct{}

func (m *mongoMigrator) Name() string { return "mongo-indexes" }
func (m *mongoMigrator) Migrate(ctx context.Context, cfg *config.Config) error {
	client, err := connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("mongo migration: %w", err)
	}
	defer client.Disconnect(ctx)

	s := &MongoStore{client: client, db: client.Database(cfg.DBName)}
	names, err := s.ListNames(ctx)
	if err != nil {
		return fmt.Errorf("mongo migration: %w", err)
	}
	// Collections written by older uploaders have no ordering index.
	for _, name := range names {
		if err := s.ensureIndexes(ctx, name); err != nil {
			return fmt.Errorf("mongo migration: failed to create indexes for %s: %w", name, err)
		}
	}
	log.Info("MongoDB index migration complete", "collections", len(names))
	return nil
}

// MongoStore implements ArchiveStore using MongoDB.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

// --- Document types ---

type participantDoc struct {
	Name string `bson:"name"`
}

type photoDoc struct {
	URI               string `bson:"uri"`
	CreationTimestamp int64  `bson:"creation_timestamp,omitempty"`
}

type metaDoc struct {
	ID                 string           `bson:"_id"`
	Meta               bool             `bson:"meta"`
	Participants       []participantDoc `bson:"participants"`
	Title              string           `bson:"title"`
	IsStillParticipant bool             `bson:"is_still_participant"`
	ThreadPath         string           `bson:"thread_path"`
	MagicWords         []string         `bson:"magic_words"`
	Photo              bool             `bson:"photo"`
}

type messageDoc struct {
	ID               bson.ObjectID `bson:"_id,omitempty"`
	Seq              int64         `bson:"seq"`
	SenderName       string        `bson:"sender_name"`
	Content          *string       `bson:"content,omitempty"`
	TimestampMS      int64         `bson:"timestamp_ms"`
	Photos           []photoDoc    `bson:"photos,omitempty"`
	SanitizedContent *string       `bson:"sanitizedContent,omitempty"`
	SearchContent    *string       `bson:"searchContent,omitempty"`
}

func toMessageDoc(m model.Message, seq int64) messageDoc {
	d := messageDoc{
		Seq:              seq,
		SenderName:       m.SenderName,
		Content:          m.Content,
		TimestampMS:      m.TimestampMS,
		SanitizedContent: m.SanitizedContent,
		SearchContent:    searchKey(m.SanitizedContent),
	}
	for _, p := range m.Photos {
		d.Photos = append(d.Photos, photoDoc{URI: p.URI, CreationTimestamp: p.CreationTimestamp})
	}
	return d
}

func (d *messageDoc) toModel(p registrystore.Projection) model.Message {
	m := model.Message{
		SenderName:  d.SenderName,
		Content:     d.Content,
		TimestampMS: d.TimestampMS,
		Timestamp:   model.DisplayTimestamp(d.TimestampMS),
	}
	for _, ph := range d.Photos {
		m.Photos = append(m.Photos, model.PhotoRef{URI: ph.URI, CreationTimestamp: ph.CreationTimestamp})
	}
	if p.IncludeInternal {
		m.ID = d.ID.Hex()
		m.SanitizedContent = d.SanitizedContent
	}
	return m
}

func (d *metaDoc) toModel() model.ConversationMeta {
	meta := model.ConversationMeta{
		Title:              d.Title,
		IsStillParticipant: d.IsStillParticipant,
		ThreadPath:         d.ThreadPath,
		MagicWords:         d.MagicWords,
		Participants:       []model.Participant{},
	}
	for _, p := range d.Participants {
		meta.Participants = append(meta.Participants, model.Participant{Name: p.Name})
	}
	if meta.MagicWords == nil {
		meta.MagicWords = []string{}
	}
	return meta
}

// --- Helpers ---

var (
	messagesOnly = bson.D{{Key: "meta", Value: bson.D{{Key: "$ne", Value: true}}}}
	sortOrder    = bson.D{{Key: "timestamp_ms", Value: 1}, {Key: "seq", Value: 1}, {Key: "_id", Value: 1}}
)

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case mongo.IsTimeout(err):
		return &registrystore.UnavailableError{Timeout: true, Err: err}
	case mongo.IsNetworkError(err), errors.Is(err, mongo.ErrClientDisconnected):
		return &registrystore.UnavailableError{Err: err}
	}
	return err
}

func hasCode(err error, code int) bool {
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorCode(code)
}

func (s *MongoStore) exists(ctx context.Context, name string) (bool, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return false, mapErr(err)
	}
	return len(names) > 0, nil
}

func (s *MongoStore) requireExists(ctx context.Context, name string) error {
	ok, err := s.exists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return registrystore.ConversationNotFound(name)
	}
	return nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context, name string) error {
	_, err := s.db.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp_ms", Value: 1}, {Key: "seq", Value: 1}},
	})
	return mapErr(err)
}

// --- ArchiveStore ---

func (s *MongoStore) Create(ctx context.Context, name string, meta model.ConversationMeta) error {
	taken, err := s.exists(ctx, name)
	if err != nil {
		return err
	}
	if taken {
		return registrystore.NameCollision(name)
	}
	if err := s.db.CreateCollection(ctx, name); err != nil {
		if hasCode(err, codeNamespaceExists) {
			return registrystore.NameCollision(name)
		}
		return mapErr(err)
	}
	doc := metaDoc{
		ID:                 metaID,
		Meta:               true,
		Title:              meta.Title,
		IsStillParticipant: meta.IsStillParticipant,
		ThreadPath:         meta.ThreadPath,
		MagicWords:         meta.MagicWords,
		Participants:       []participantDoc{},
	}
	for _, p := range meta.Participants {
		doc.Participants = append(doc.Participants, participantDoc{Name: p.Name})
	}
	if doc.MagicWords == nil {
		doc.MagicWords = []string{}
	}
	if _, err := s.db.Collection(name).InsertOne(ctx, doc); err != nil {
		return mapErr(err)
	}
	return s.ensureIndexes(ctx, name)
}

// InsertMany writes ordered batches. On failure the messages before the
// failing one stay inserted and their count is returned with the error.
func (s *MongoStore) InsertMany(ctx context.Context, name string, messages []model.Message) (int, error) {
	if err := s.requireExists(ctx, name); err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}
	coll := s.db.Collection(name)

	next := int64(0)
	var last messageDoc
	err := coll.FindOne(ctx, messagesOnly,
		options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}}).SetProjection(bson.D{{Key: "seq", Value: 1}}),
	).Decode(&last)
	switch {
	case err == nil:
		next = last.Seq + 1
	case !errors.Is(err, mongo.ErrNoDocuments):
		return 0, mapErr(err)
	}

	inserted := 0
	for start := 0; start < len(messages); start += insertBatchSize {
		end := min(start+insertBatchSize, len(messages))
		docs := make([]any, 0, end-start)
		for i := start; i < end; i++ {
			docs = append(docs, toMessageDoc(messages[i], next+int64(i)))
		}
		if _, err := coll.InsertMany(ctx, docs); err != nil {
			var bwe mongo.BulkWriteException
			if errors.As(err, &bwe) && len(bwe.WriteErrors) > 0 {
				inserted += bwe.WriteErrors[0].Index
			}
			return inserted, mapErr(err)
		}
		inserted += end - start
	}
	return inserted, nil
}

func (s *MongoStore) findMessages(ctx context.Context, name string, filter bson.D, opts *options.FindOptionsBuilder, projection registrystore.Projection) ([]model.Message, error) {
	cursor, err := s.db.Collection(name).Find(ctx, filter, opts)
	if err != nil {
		return nil, mapErr(err)
	}
	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mapErr(err)
	}
	out := make([]model.Message, len(docs))
	for i := range docs {
		out[i] = docs[i].toModel(projection)
	}
	return out, nil
}

func (s *MongoStore) FindSorted(ctx context.Context, name string, filter registrystore.MessageFilter, projection registrystore.Projection) ([]model.Message, error) {
	if err := s.requireExists(ctx, name); err != nil {
		return nil, err
	}
	q := slices.Clone(messagesOnly)
	rng := bson.D{}
	if filter.FromMillis != nil {
		rng = append(rng, bson.E{Key: "$gte", Value: *filter.FromMillis})
	}
	if filter.ToMillis != nil {
		rng = append(rng, bson.E{Key: "$lte", Value: *filter.ToMillis})
	}
	if len(rng) > 0 {
		q = append(q, bson.E{Key: "timestamp_ms", Value: rng})
	}
	opts := options.Find().SetSort(sortOrder).SetProjection(bson.D{{Key: "searchContent", Value: 0}})
	if !projection.IncludeInternal {
		opts.SetProjection(bson.D{{Key: "sanitizedContent", Value: 0}, {Key: "searchContent", Value: 0}})
	}
	return s.findMessages(ctx, name, q, opts, projection)
}

func (s *MongoStore) Rename(ctx context.Context, oldName, newName string) error {
	if err := s.requireExists(ctx, oldName); err != nil {
		return err
	}
	taken, err := s.exists(ctx, newName)
	if err != nil {
		return err
	}
	if taken {
		return registrystore.NameCollision(newName)
	}
	dbName := s.db.Name()
	cmd := bson.D{
		{Key: "renameCollection", Value: dbName + "." + oldName},
		{Key: "to", Value: dbName + "." + newName},
	}
	err = s.client.Database("admin").RunCommand(ctx, cmd).Err()
	switch {
	case err == nil:
		return nil
	case hasCode(err, codeNamespaceNotFound):
		return registrystore.ConversationNotFound(oldName)
	case hasCode(err, codeNamespaceExists):
		return registrystore.NameCollision(newName)
	}
	return mapErr(err)
}

func (s *MongoStore) Drop(ctx context.Context, name string) error {
	if err := s.requireExists(ctx, name); err != nil {
		return err
	}
	return mapErr(s.db.Collection(name).Drop(ctx))
}

func (s *MongoStore) CountDocuments(ctx context.Context, name string) (int64, error) {
	if err := s.requireExists(ctx, name); err != nil {
		return 0, err
	}
	n, err := s.db.Collection(name).CountDocuments(ctx, messagesOnly)
	return n, mapErr(err)
}

func (s *MongoStore) ListNames(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, mapErr(err)
	}
	names = slices.DeleteFunc(names, func(n string) bool { return strings.HasPrefix(n, "system.") })
	slices.Sort(names)
	return names, nil
}

func (s *MongoStore) BulkUpdate(ctx context.Context, name string, patches []registrystore.SanitizedPatch) (int, error) {
	if len(patches) == 0 {
		return 0, nil
	}
	models := make([]mongo.WriteModel, 0, len(patches))
	for _, p := range patches {
		oid, err := bson.ObjectIDFromHex(p.ID)
		if err != nil {
			return 0, &registrystore.ValidationError{Field: "id", Message: fmt.Sprintf("invalid message id %q", p.ID)}
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.D{{Key: "_id", Value: oid}}).
			SetUpdate(bson.D{{Key: "$set", Value: bson.D{
				{Key: "sanitizedContent", Value: p.SanitizedContent},
				{Key: "searchContent", Value: archive.NormalizeTerm(p.SanitizedContent)},
			}}}))
	}
	res, err := s.db.Collection(name).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, mapErr(err)
	}
	return int(res.MatchedCount), nil
}

func (s *MongoStore) Describe(ctx context.Context, name string) (*model.ConversationInfo, error) {
	n, err := s.CountDocuments(ctx, name)
	if err != nil {
		return nil, err
	}
	info := &model.ConversationInfo{Name: name, MessageCount: n}
	var doc metaDoc
	err = s.db.Collection(name).FindOne(ctx, bson.D{{Key: "meta", Value: true}}).Decode(&doc)
	switch {
	case err == nil:
		info.ConversationMeta = doc.toModel()
		info.IsPhotoAvailable = doc.Photo
	case errors.Is(err, mongo.ErrNoDocuments):
		// Collections from older uploaders carry no meta document.
		info.ConversationMeta = (&metaDoc{IsStillParticipant: true}).toModel()
	default:
		return nil, mapErr(err)
	}
	return info, nil
}

func (s *MongoStore) SetPhotoAvailable(ctx context.Context, name string, available bool) error {
	if err := s.requireExists(ctx, name); err != nil {
		return err
	}
	_, err := s.db.Collection(name).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: metaID}},
		bson.D{
			{Key: "$set", Value: bson.D{{Key: "photo", Value: available}, {Key: "meta", Value: true}}},
		},
		options.UpdateOne().SetUpsert(true),
	)
	return mapErr(err)
}

// searchKey is the case-folded copy of sanitized content that searches match.
func searchKey(sanitized *string) *string {
	if sanitized == nil {
		return nil
	}
	k := archive.NormalizeTerm(*sanitized)
	return &k
}

// SearchSanitized expects a term already passed through archive.NormalizeTerm.
func (s *MongoStore) SearchSanitized(ctx context.Context, name, term string) ([]model.Message, error) {
	filter := bson.D{{Key: "searchContent", Value: bson.D{
		{Key: "$regex", Value: regexp.QuoteMeta(term)},
	}}}
	opts := options.Find().SetSort(sortOrder).SetProjection(bson.D{
		{Key: "sanitizedContent", Value: 0},
		{Key: "searchContent", Value: 0},
	})
	return s.findMessages(ctx, name, filter, opts, registrystore.Projection{})
}

func (s *MongoStore) FindMissingSanitized(ctx context.Context, name string, limit int) ([]model.Message, error) {
	filter := bson.D{
		{Key: "meta", Value: bson.D{{Key: "$ne", Value: true}}},
		{Key: "content", Value: bson.D{{Key: "$type", Value: "string"}}},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "sanitizedContent", Value: bson.D{{Key: "$exists", Value: false}}}},
			bson.D{{Key: "searchContent", Value: bson.D{{Key: "$exists", Value: false}}}},
		}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit))
	return s.findMessages(ctx, name, filter, opts, registrystore.Projection{IncludeInternal: true})
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return mapErr(s.client.Ping(ctx, nil))
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

var _ registrystore.ArchiveStore = (*MongoStore)(nil)
