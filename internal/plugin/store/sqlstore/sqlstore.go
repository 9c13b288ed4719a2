// Package sqlstore implements the archive store on relational databases
// through gorm. Postgres and SQLite share the implementation; each
// conversation is a row in archive_conversations and its messages are rows in
// archive_messages.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-archive/internal/archive"
	"github.com/chirino/chat-archive/internal/config"
	"github.com/chirino/chat-archive/internal/model"
	"github.com/chirino/chat-archive/internal/monitoring"
	registrymigrate "github.com/chirino/chat-archive/internal/registry/migrate"
	registrystore "github.com/chirino/chat-archive/internal/registry/store"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	insertBatchSize = 500
)

func init() {
	for _, dialect := range []string{DialectPostgres, DialectSQLite} {
		registrystore.Register(registrystore.Plugin{
			Name: dialect,
			Loader: func(ctx context.Context) (registrystore.ArchiveStore, error) {
				return Open(ctx, dialect, config.FromContext(ctx))
			},
		})
		registrymigrate.Register(registrymigrate.Plugin{Order: 100, Datastore: dialect, Migrator: &sqlMigrator{dialect: dialect}})
	}
}

func dialector(dialect, dsn string) (gorm.Dialector, error) {
	switch dialect {
	case DialectPostgres:
		return postgres.Open(dsn), nil
	case DialectSQLite:
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
}

func openDB(dialect, dsn string) (*gorm.DB, error) {
	d, err := dialector(dialect, dsn)
	if err != nil {
		return nil, err
	}
	return gorm.Open(d, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

// Open connects to the database and returns a store. The pool gauges are
// refreshed until ctx is done.
func Open(ctx context.Context, dialect string, cfg *config.Config) (*Store, error) {
	db, err := openDB(dialect, cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", dialect, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	maxOpen := cfg.DBMaxOpenConns
	if dialect == DialectSQLite {
		// One writer at a time; also keeps ":memory:" databases on a single connection.
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(min(cfg.DBMaxIdleConns, maxOpen))
	if monitoring.DBPoolMaxConnections != nil {
		monitoring.DBPoolMaxConnections.Set(float64(maxOpen))
	}

	// Periodically update the open connections gauge.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if monitoring.DBPoolOpenConnections != nil {
					monitoring.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
				}
			}
		}
	}()

	return &Store{db: db, dialect: dialect}, nil
}

type sqlMigrator struct {
	dialect string
}

func (m *sqlMigrator) Name() string { return m.dialect + "-schema" }
func (m *sqlMigrator) Migrate(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(m.dialect, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := (&Store{db: db, dialect: m.dialect}).Migrate(ctx); err != nil {
		return err
	}
	log.Info("SQL schema migration complete", "dialect", m.dialect)
	return nil
}

// Store implements ArchiveStore using GORM.
type Store struct {
	db      *gorm.DB
	dialect string
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	schema := postgresSchemaSQL
	if s.dialect == DialectSQLite {
		schema = sqliteSchemaSQL
	}
	db := s.db.WithContext(ctx)
	// Tables created before search_content existed get the column first, so
	// the index below can reference it.
	if m := db.Migrator(); m.HasTable(&messageRow{}) && !m.HasColumn(&messageRow{}, "search_content") {
		if err := m.AddColumn(&messageRow{}, "SearchContent"); err != nil {
			return fmt.Errorf("migration: failed to add search_content: %w", err)
		}
	}
	if err := db.Exec(schema).Error; err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	return nil
}

type conversationRow struct {
	Name               string              `gorm:"column:name;primaryKey"`
	Participants       []model.Participant `gorm:"column:participants;serializer:json"`
	Title              string              `gorm:"column:title"`
	IsStillParticipant bool                `gorm:"column:is_still_participant"`
	ThreadPath         string              `gorm:"column:thread_path"`
	MagicWords         []string            `gorm:"column:magic_words;serializer:json"`
	PhotoAvailable     bool                `gorm:"column:photo_available"`
	CreatedAt          time.Time           `gorm:"column:created_at"`
}

func (conversationRow) TableName() string { return "archive_conversations" }

type messageRow struct {
	ID               int64            `gorm:"column:id;primaryKey;autoIncrement"`
	Conversation     string           `gorm:"column:conversation"`
	Seq              int64            `gorm:"column:seq"`
	SenderName       string           `gorm:"column:sender_name"`
	Content          *string          `gorm:"column:content"`
	TimestampMS      int64            `gorm:"column:timestamp_ms"`
	Photos           []model.PhotoRef `gorm:"column:photos;serializer:json"`
	SanitizedContent *string          `gorm:"column:sanitized_content"`
	SearchContent    *string          `gorm:"column:search_content"`
}

func (messageRow) TableName() string { return "archive_messages" }

func (r *messageRow) toModel(p registrystore.Projection) model.Message {
	m := model.Message{
		SenderName:  r.SenderName,
		Content:     r.Content,
		TimestampMS: r.TimestampMS,
		Timestamp:   model.DisplayTimestamp(r.TimestampMS),
		Photos:      r.Photos,
	}
	if p.IncludeInternal {
		m.ID = strconv.FormatInt(r.ID, 10)
		m.SanitizedContent = r.SanitizedContent
	}
	return m
}

func (r *conversationRow) meta() model.ConversationMeta {
	return model.ConversationMeta{
		Participants:       r.Participants,
		Title:              r.Title,
		IsStillParticipant: r.IsStillParticipant,
		ThreadPath:         r.ThreadPath,
		MagicWords:         r.MagicWords,
	}
}

// mapErr turns driver errors into the registry's typed errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &registrystore.ConflictError{Message: "conversation already exists", Code: "name_collision"}
	case errors.As(err, &connectErr), errors.As(err, &netErr):
		return &registrystore.UnavailableError{Err: err}
	}
	return err
}

func (s *Store) exists(tx *gorm.DB, name string) (bool, error) {
	var n int64
	if err := tx.Model(&conversationRow{}).Where("name = ?", name).Count(&n).Error; err != nil {
		return false, mapErr(err)
	}
	return n > 0, nil
}

func (s *Store) requireExists(tx *gorm.DB, name string) error {
	ok, err := s.exists(tx, name)
	if err != nil {
		return err
	}
	if !ok {
		return registrystore.ConversationNotFound(name)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, name string, meta model.ConversationMeta) error {
	row := conversationRow{
		Name:               name,
		Participants:       meta.Participants,
		Title:              meta.Title,
		IsStillParticipant: meta.IsStillParticipant,
		ThreadPath:         meta.ThreadPath,
		MagicWords:         meta.MagicWords,
		CreatedAt:          time.Now().UTC(),
	}
	if row.Participants == nil {
		row.Participants = []model.Participant{}
	}
	if row.MagicWords == nil {
		row.MagicWords = []string{}
	}
	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return registrystore.NameCollision(name)
	}
	return mapErr(err)
}

// InsertMany appends in one transaction, so a failure inserts nothing.
func (s *Store) InsertMany(ctx context.Context, name string, messages []model.Message) (int, error) {
	if len(messages) == 0 {
		return 0, s.requireExists(s.db.WithContext(ctx), name)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireExists(tx, name); err != nil {
			return err
		}
		var next int64
		if err := tx.Model(&messageRow{}).
			Where("conversation = ?", name).
			Select("COALESCE(MAX(seq), -1) + 1").
			Scan(&next).Error; err != nil {
			return mapErr(err)
		}
		rows := make([]messageRow, len(messages))
		for i, m := range messages {
			rows[i] = messageRow{
				Conversation:     name,
				Seq:              next + int64(i),
				SenderName:       m.SenderName,
				Content:          m.Content,
				TimestampMS:      m.TimestampMS,
				Photos:           m.Photos,
				SanitizedContent: m.SanitizedContent,
				SearchContent:    searchKey(m.SanitizedContent),
			}
		}
		return mapErr(tx.CreateInBatches(rows, insertBatchSize).Error)
	})
	if err != nil {
		return 0, err
	}
	return len(messages), nil
}

func (s *Store) FindSorted(ctx context.Context, name string, filter registrystore.MessageFilter, projection registrystore.Projection) ([]model.Message, error) {
	db := s.db.WithContext(ctx)
	q := db.Where("conversation = ?", name)
	if filter.FromMillis != nil {
		q = q.Where("timestamp_ms >= ?", *filter.FromMillis)
	}
	if filter.ToMillis != nil {
		q = q.Where("timestamp_ms <= ?", *filter.ToMillis)
	}
	var rows []messageRow
	if err := q.Order("timestamp_ms ASC, seq ASC").Find(&rows).Error; err != nil {
		return nil, mapErr(err)
	}
	if len(rows) == 0 {
		if err := s.requireExists(db, name); err != nil {
			return nil, err
		}
	}
	return toModels(rows, projection), nil
}

func toModels(rows []messageRow, projection registrystore.Projection) []model.Message {
	out := make([]model.Message, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel(projection)
	}
	return out
}

func (s *Store) Rename(ctx context.Context, oldName, newName string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireExists(tx, oldName); err != nil {
			return err
		}
		taken, err := s.exists(tx, newName)
		if err != nil {
			return err
		}
		if taken {
			return registrystore.NameCollision(newName)
		}
		if err := tx.Model(&conversationRow{}).Where("name = ?", oldName).Update("name", newName).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return registrystore.NameCollision(newName)
			}
			return mapErr(err)
		}
		return mapErr(tx.Model(&messageRow{}).Where("conversation = ?", oldName).Update("conversation", newName).Error)
	})
}

func (s *Store) Drop(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("name = ?", name).Delete(&conversationRow{})
		if res.Error != nil {
			return mapErr(res.Error)
		}
		if res.RowsAffected == 0 {
			return registrystore.ConversationNotFound(name)
		}
		return mapErr(tx.Where("conversation = ?", name).Delete(&messageRow{}).Error)
	})
}

func (s *Store) CountDocuments(ctx context.Context, name string) (int64, error) {
	db := s.db.WithContext(ctx)
	if err := s.requireExists(db, name); err != nil {
		return 0, err
	}
	var n int64
	if err := db.Model(&messageRow{}).Where("conversation = ?", name).Count(&n).Error; err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

func (s *Store) ListNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).Model(&conversationRow{}).Pluck("name", &names).Error
	if err != nil {
		return nil, mapErr(err)
	}
	// Byte order, independent of the database collation.
	slices.Sort(names)
	return names, nil
}

func (s *Store) BulkUpdate(ctx context.Context, name string, patches []registrystore.SanitizedPatch) (int, error) {
	updated := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range patches {
			id, err := strconv.ParseInt(p.ID, 10, 64)
			if err != nil {
				return &registrystore.ValidationError{Field: "id", Message: fmt.Sprintf("invalid message id %q", p.ID)}
			}
			res := tx.Model(&messageRow{}).
				Where("id = ? AND conversation = ?", id, name).
				Updates(map[string]any{
					"sanitized_content": p.SanitizedContent,
					"search_content":    archive.NormalizeTerm(p.SanitizedContent),
				})
			if res.Error != nil {
				return mapErr(res.Error)
			}
			updated += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

func (s *Store) Describe(ctx context.Context, name string) (*model.ConversationInfo, error) {
	db := s.db.WithContext(ctx)
	var row conversationRow
	err := db.Where("name = ?", name).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, registrystore.ConversationNotFound(name)
	}
	if err != nil {
		return nil, mapErr(err)
	}
	var n int64
	if err := db.Model(&messageRow{}).Where("conversation = ?", name).Count(&n).Error; err != nil {
		return nil, mapErr(err)
	}
	return &model.ConversationInfo{
		Name:             row.Name,
		ConversationMeta: row.meta(),
		MessageCount:     n,
		IsPhotoAvailable: row.PhotoAvailable,
	}, nil
}

func (s *Store) SetPhotoAvailable(ctx context.Context, name string, available bool) error {
	res := s.db.WithContext(ctx).Model(&conversationRow{}).Where("name = ?", name).Update("photo_available", available)
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		// Some drivers report zero rows when the value is unchanged.
		return s.requireExists(s.db.WithContext(ctx), name)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// searchKey is the case-folded copy of sanitized content that searches match
// against. SQLite LOWER only folds ASCII.
func searchKey(sanitized *string) *string {
	if sanitized == nil {
		return nil
	}
	k := archive.NormalizeTerm(*sanitized)
	return &k
}

// SearchSanitized expects a term already passed through archive.NormalizeTerm.
func (s *Store) SearchSanitized(ctx context.Context, name, term string) ([]model.Message, error) {
	pattern := "%" + likeEscaper.Replace(term) + "%"
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Where("conversation = ?", name).
		Where(`search_content LIKE ? ESCAPE '\'`, pattern).
		Order("timestamp_ms ASC, seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return toModels(rows, registrystore.Projection{}), nil
}

func (s *Store) FindMissingSanitized(ctx context.Context, name string, limit int) ([]model.Message, error) {
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Where("conversation = ? AND content IS NOT NULL AND (sanitized_content IS NULL OR search_content IS NULL)", name).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return toModels(rows, registrystore.Projection{IncludeInternal: true}), nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return mapErr(sqlDB.PingContext(ctx))
}

func (s *Store) Close(_ context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ registrystore.ArchiveStore = (*Store)(nil)

// Truncate removes every conversation. Intended for tests.
func (s *Store) Truncate(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM archive_messages").Error; err != nil {
			return err
		}
		return tx.Exec("DELETE FROM archive_conversations").Error
	})
}
