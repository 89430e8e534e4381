package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/sweeney/irrigation-scheduler/internal/logic"
)

const (
	collectionUsers    = "usuarios"
	collectionHorarios = "horarios"
)

type userDoc struct {
	ID           string `bson:"_id"`
	Nome         string `bson:"nome"`
	Email        string `bson:"email"`
	SenhaHash    string `bson:"senha_hash"`
	CriadoEmNano int64  `bson:"criado_em"`
}

type entryDoc struct {
	ID           string `bson:"_id"`
	UsuarioID    string `bson:"usuario_id"`
	Hora         string `bson:"hora"`
	Duracao      int64  `bson:"duracao"`
	DiasSemana   string `bson:"dias_semana"`
	Ativo        bool   `bson:"ativo"`
	CriadoEmNano int64  `bson:"criado_em"`
}

func toEntryDoc(e logic.Entry) entryDoc {
	return entryDoc{
		ID:           e.ID,
		UsuarioID:    e.OwnerID,
		Hora:         e.Time.String(),
		Duracao:      int64(e.Duration / time.Second),
		DiasSemana:   e.Weekdays.String(),
		Ativo:        e.Enabled,
		CriadoEmNano: e.CreatedAt.UnixNano(),
	}
}

func (d entryDoc) entry() (logic.Entry, error) {
	tod, err := logic.ParseTimeOfDay(d.Hora)
	if err != nil {
		return logic.Entry{}, fmt.Errorf("entry %s: %w", d.ID, err)
	}
	set, err := logic.ParseWeekdaySet(d.DiasSemana)
	if err != nil {
		return logic.Entry{}, fmt.Errorf("entry %s: %w", d.ID, err)
	}
	return logic.Entry{
		ID:        d.ID,
		OwnerID:   d.UsuarioID,
		Time:      tod,
		Duration:  time.Duration(d.Duracao) * time.Second,
		Weekdays:  set,
		Enabled:   d.Ativo,
		CreatedAt: time.Unix(0, d.CriadoEmNano),
	}, nil
}

func toUserDoc(u User) userDoc {
	return userDoc{ID: u.ID, Nome: u.Name, Email: u.Email, SenhaHash: u.PasswordHash, CriadoEmNano: u.CreatedAt.UnixNano()}
}

func (d userDoc) user() User {
	return User{ID: d.ID, Name: d.Nome, Email: d.Email, PasswordHash: d.SenhaHash, CreatedAt: time.Unix(0, d.CriadoEmNano)}
}

// Mongo is a Store over a MongoDB database.
type Mongo struct {
	client   *mongo.Client
	users    *mongo.Collection
	horarios *mongo.Collection
	log      *zap.Logger
	stamp    *stamper
}

// OpenMongo connects to uri, retrying the ping with exponential backoff, and
// ensures the indexes exist.
func OpenMongo(ctx context.Context, uri, dbName string, log *zap.Logger) (*Mongo, error) {
	if log == nil {
		log = zap.NewNop()
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	err = backoff.Retry(func() error {
		if err := client.Ping(ctx, nil); err != nil {
			log.Warn("mongo not reachable", zap.Error(err))
			return err
		}
		return nil
	}, bo)
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(dbName)
	m := &Mongo{
		client:   client,
		users:    db.Collection(collectionUsers),
		horarios: db.Collection(collectionHorarios),
		log:      log,
		stamp:    newStamper(nil),
	}

	if _, err := m.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		m.Close()
		return nil, fmt.Errorf("create email index: %w", err)
	}
	if _, err := m.horarios.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "ativo", Value: 1}, {Key: "criado_em", Value: 1}}},
		{Keys: bson.D{{Key: "usuario_id", Value: 1}}},
	}); err != nil {
		m.Close()
		return nil, fmt.Errorf("create horarios indexes: %w", err)
	}

	log.Info("mongo ready", zap.String("db", dbName))
	return m, nil
}

func (m *Mongo) findEntries(ctx context.Context, filter bson.M, sort bson.D) ([]logic.Entry, error) {
	cur, err := m.horarios.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []logic.Entry
	for cur.Next(ctx) {
		var d entryDoc
		if err := cur.Decode(&d); err != nil {
			m.log.Warn("skipping undecodable entry", zap.Error(err))
			continue
		}
		e, err := d.entry()
		if err != nil {
			m.log.Warn("skipping unreadable entry", zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out, cur.Err()
}

func (m *Mongo) ActiveEntries(ctx context.Context) ([]logic.Entry, error) {
	out, err := m.findEntries(ctx, bson.M{"ativo": true}, bson.D{{Key: "criado_em", Value: 1}, {Key: "_id", Value: 1}})
	if err != nil {
		return nil, fmt.Errorf("store.ActiveEntries: %w", err)
	}
	return out, nil
}

func (m *Mongo) ListByOwner(ctx context.Context, ownerID string) ([]logic.Entry, error) {
	out, err := m.findEntries(ctx, bson.M{"usuario_id": ownerID}, bson.D{{Key: "criado_em", Value: 1}})
	if err != nil {
		return nil, fmt.Errorf("store.ListByOwner: %w", err)
	}
	logic.SortByTime(out)
	return out, nil
}

func (m *Mongo) CreateEntry(ctx context.Context, e logic.Entry) (logic.Entry, error) {
	if err := e.Validate(); err != nil {
		return logic.Entry{}, err
	}
	if _, err := m.UserByID(ctx, e.OwnerID); err != nil {
		return logic.Entry{}, err
	}
	e.ID = newID()
	e.CreatedAt = m.stamp.next()
	if _, err := m.horarios.InsertOne(ctx, toEntryDoc(e)); err != nil {
		return logic.Entry{}, fmt.Errorf("store.CreateEntry: %w", err)
	}
	return e, nil
}

func (m *Mongo) checkOwner(ctx context.Context, ownerID, id string) error {
	var d entryDoc
	err := m.horarios.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if d.UsuarioID != ownerID {
		return ErrForbidden
	}
	return nil
}

func (m *Mongo) SetEnabled(ctx context.Context, ownerID, id string, enabled bool) error {
	if err := m.checkOwner(ctx, ownerID, id); err != nil {
		return err
	}
	if _, err := m.horarios.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"ativo": enabled}}); err != nil {
		return fmt.Errorf("store.SetEnabled: %w", err)
	}
	return nil
}

func (m *Mongo) DeleteEntry(ctx context.Context, ownerID, id string) error {
	if err := m.checkOwner(ctx, ownerID, id); err != nil {
		return err
	}
	if _, err := m.horarios.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("store.DeleteEntry: %w", err)
	}
	return nil
}

func (m *Mongo) CreateUser(ctx context.Context, u User) (User, error) {
	u.ID = newID()
	u.CreatedAt = m.stamp.next()
	_, err := m.users.InsertOne(ctx, toUserDoc(u))
	if mongo.IsDuplicateKeyError(err) {
		return User{}, ErrEmailTaken
	}
	if err != nil {
		return User{}, fmt.Errorf("store.CreateUser: %w", err)
	}
	return u, nil
}

func (m *Mongo) userBy(ctx context.Context, filter bson.M) (User, error) {
	var d userDoc
	err := m.users.FindOne(ctx, filter).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("store.userBy: %w", err)
	}
	return d.user(), nil
}

func (m *Mongo) UserByEmail(ctx context.Context, email string) (User, error) {
	return m.userBy(ctx, bson.M{"email": email})
}

func (m *Mongo) UserByID(ctx context.Context, id string) (User, error) {
	return m.userBy(ctx, bson.M{"_id": id})
}

// Close disconnects the client.
func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
