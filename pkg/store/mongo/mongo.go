// Package mongo stores jobs and schedules as MongoDB documents keyed by id.
package mongo

import (
	"context"
	stderrors "errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/pkg/config"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/logger"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/store"
)

const (
	jobsCollection      = "jobs"
	schedulesCollection = "schedules"
)

// Store is a MongoDB-backed store.Store
type Store struct {
	client    *mongo.Client
	jobs      *mongo.Collection
	schedules *mongo.Collection
	logger    *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to MongoDB and ensures the query indexes exist.
func Open(ctx context.Context, cfg config.MongoConfig) (*Store, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	clientOpts := options.Client().ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to connect to mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to reach mongodb")
	}

	database := cfg.Database
	if database == "" {
		database = "orbit"
	}
	s := New(client, client.Database(database))
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	s.logger.Info("connected to mongodb", zap.String("database", database))
	return s, nil
}

// New wraps a connected client
func New(client *mongo.Client, db *mongo.Database) *Store {
	return &Store{
		client:    client,
		jobs:      db.Collection(jobsCollection),
		schedules: db.Collection(schedulesCollection),
		logger:    logger.Get().With(zap.String("component", "store.mongo")),
	}
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.jobs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "connector_id", Value: 1}, {Key: "started_at", Value: 1}}},
		{Keys: bson.D{{Key: "started_at", Value: -1}}},
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to create job indexes")
	}
	_, err = s.schedules.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "next_run_at", Value: 1}},
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to create schedule indexes")
	}
	return nil
}

func (s *Store) Save(ctx context.Context, job *models.SyncJob) error {
	if err := store.ValidateJob(job); err != nil {
		return err
	}
	_, err := s.jobs.ReplaceOne(ctx, bson.M{"_id": job.ID}, job, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to save job").WithDetail("job_id", job.ID)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (*models.SyncJob, error) {
	var job models.SyncJob
	err := s.jobs.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.JobNotFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to load job").WithDetail("job_id", id)
	}
	return store.Normalize(&job), nil
}

func (s *Store) ListByConnector(ctx context.Context, connectorID string, window models.Window) ([]*models.SyncJob, error) {
	filter := jobFilterDocument(store.JobFilter{ConnectorID: connectorID, Window: window})
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}, {Key: "_id", Value: 1}})
	return s.findJobs(ctx, filter, opts)
}

func (s *Store) List(ctx context.Context, f store.JobFilter) ([]*models.SyncJob, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	return s.findJobs(ctx, jobFilterDocument(f), opts)
}

func (s *Store) findJobs(ctx context.Context, filter bson.D, opts *options.FindOptions) ([]*models.SyncJob, error) {
	cursor, err := s.jobs.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to query jobs")
	}
	defer cursor.Close(ctx)

	jobs := make([]*models.SyncJob, 0)
	for cursor.Next(ctx) {
		var job models.SyncJob
		if err := cursor.Decode(&job); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to decode job")
		}
		jobs = append(jobs, store.Normalize(&job))
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to read jobs")
	}
	return jobs, nil
}

func (s *Store) SaveSchedule(ctx context.Context, def *models.ScheduleDefinition) error {
	if err := store.ValidateSchedule(def); err != nil {
		return err
	}
	_, err := s.schedules.ReplaceOne(ctx, bson.M{"_id": def.ID}, def, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to save schedule").WithDetail("schedule_id", def.ID)
	}
	return nil
}

func (s *Store) LoadSchedule(ctx context.Context, id string) (*models.ScheduleDefinition, error) {
	var def models.ScheduleDefinition
	err := s.schedules.FindOne(ctx, bson.M{"_id": id}).Decode(&def)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ScheduleNotFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to load schedule").WithDetail("schedule_id", id)
	}
	return &def, nil
}

func (s *Store) ListSchedules(ctx context.Context) ([]*models.ScheduleDefinition, error) {
	return s.findSchedules(ctx, bson.D{})
}

func (s *Store) ListDueSchedules(ctx context.Context, now time.Time) ([]*models.ScheduleDefinition, error) {
	return s.findSchedules(ctx, bson.D{{Key: "next_run_at", Value: bson.M{"$lte": now}}})
}

func (s *Store) findSchedules(ctx context.Context, filter bson.D) ([]*models.ScheduleDefinition, error) {
	cursor, err := s.schedules.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to query schedules")
	}
	defer cursor.Close(ctx)

	defs := make([]*models.ScheduleDefinition, 0)
	if err := cursor.All(ctx, &defs); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to decode schedules")
	}
	return defs, nil
}

// Close disconnects the client
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to disconnect mongodb")
	}
	return nil
}

// jobFilterDocument renders a JobFilter as a find filter.
func jobFilterDocument(f store.JobFilter) bson.D {
	doc := bson.D{}
	if f.ConnectorID != "" {
		doc = append(doc, bson.E{Key: "connector_id", Value: f.ConnectorID})
	}
	if f.ScheduleID != "" {
		doc = append(doc, bson.E{Key: "schedule_id", Value: f.ScheduleID})
	}
	if f.Direction != "" {
		doc = append(doc, bson.E{Key: "direction", Value: string(f.Direction)})
	}
	if len(f.Statuses) > 0 {
		doc = append(doc, bson.E{Key: "status", Value: bson.M{"$in": f.StatusStrings()}})
	}
	started := bson.D{}
	if !f.Window.From.IsZero() {
		started = append(started, bson.E{Key: "$gte", Value: f.Window.From})
	}
	if !f.Window.To.IsZero() {
		started = append(started, bson.E{Key: "$lt", Value: f.Window.To})
	}
	if len(started) > 0 {
		doc = append(doc, bson.E{Key: "started_at", Value: started})
	}
	return doc
}
