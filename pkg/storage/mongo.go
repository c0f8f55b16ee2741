package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names in the document store.
const (
	quizzesCollection = "quizzes"
	runsCollection    = "runs"
	resultsCollection = "results"
	assetsCollection  = "assets"
)

// connectTimeout bounds the initial connection probe so an unreachable
// document store cannot stall startup.
const connectTimeout = 5 * time.Second

// document is the network document store backend.
type document struct {
	log    logrus.FieldLogger
	client *mongo.Client
	db     *mongo.Database
}

// Compile-time interface check.
var _ Gateway = (*document)(nil)

// NewDocument connects to the document store and ensures the indexes that
// back the primary-key upserts. The connection probe is bounded; callers
// treat a probe failure as a signal to fall back, never as fatal.
func NewDocument(
	ctx context.Context,
	log logrus.FieldLogger,
	uri, database string,
) (Gateway, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to document store: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())

		return nil, fmt.Errorf("pinging document store: %w", err)
	}

	d := &document{
		log:    log.WithField("component", "docstore"),
		client: client,
		db:     client.Database(database),
	}

	if err := d.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())

		return nil, err
	}

	d.log.WithField("database", database).Info("Document store connected")

	return d, nil
}

func (d *document) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	indexes := map[string][]mongo.IndexModel{
		quizzesCollection: {
			{Keys: bson.D{{Key: "quiz_id", Value: 1}}, Options: unique},
		},
		runsCollection: {
			{Keys: bson.D{{Key: "run_id", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "quiz_id", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
		resultsCollection: {
			{Keys: bson.D{
				{Key: "run_id", Value: 1},
				{Key: "model_id", Value: 1},
				{Key: "question_id", Value: 1},
			}, Options: unique},
		},
		assetsCollection: {
			{Keys: bson.D{{Key: "run_id", Value: 1}}},
		},
	}

	for coll, models := range indexes {
		if _, err := d.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("creating %s indexes: %w", coll, err)
		}
	}

	return nil
}

func (d *document) Kind() string { return "document" }

func (d *document) Close(ctx context.Context) error {
	if err := d.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnecting document store: %w", err)
	}

	return nil
}

// upsert replaces the document matching filter, inserting when absent.
func (d *document) upsert(
	ctx context.Context, coll string, filter bson.M, doc any,
) error {
	_, err := d.db.Collection(coll).ReplaceOne(
		ctx, filter, doc, options.Replace().SetUpsert(true),
	)

	return err
}

// --- Quizzes ---

func (d *document) PutQuiz(ctx context.Context, q *QuizRecord) error {
	if err := d.upsert(
		ctx, quizzesCollection, bson.M{"quiz_id": q.QuizID}, q,
	); err != nil {
		return storageErr("put quiz", err)
	}

	return nil
}

func (d *document) GetQuiz(ctx context.Context, quizID string) (*QuizRecord, error) {
	var q QuizRecord

	err := d.db.Collection(quizzesCollection).
		FindOne(ctx, bson.M{"quiz_id": quizID}).
		Decode(&q)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}

		return nil, storageErr("get quiz", err)
	}

	return &q, nil
}

func (d *document) ListQuizzes(ctx context.Context) ([]QuizRecord, error) {
	quizzes := make([]QuizRecord, 0, 16)

	if err := d.list(
		ctx, quizzesCollection, bson.M{}, "created_at", &quizzes,
	); err != nil {
		return nil, storageErr("list quizzes", err)
	}

	return quizzes, nil
}

// --- Runs ---

func (d *document) PutRun(ctx context.Context, run *Run) error {
	if err := d.upsert(
		ctx, runsCollection, bson.M{"run_id": run.RunID}, run,
	); err != nil {
		return storageErr("put run", err)
	}

	return nil
}

func (d *document) GetRun(ctx context.Context, runID string) (*Run, error) {
	var run Run

	err := d.db.Collection(runsCollection).
		FindOne(ctx, bson.M{"run_id": runID}).
		Decode(&run)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}

		return nil, storageErr("get run", err)
	}

	return &run, nil
}

func (d *document) ListRuns(ctx context.Context) ([]Run, error) {
	runs := make([]Run, 0, 16)

	if err := d.list(
		ctx, runsCollection, bson.M{}, "created_at", &runs,
	); err != nil {
		return nil, storageErr("list runs", err)
	}

	return runs, nil
}

// --- Results ---

func (d *document) PutResult(ctx context.Context, res *Result) error {
	filter := bson.M{
		"run_id":      res.RunID,
		"model_id":    res.ModelID,
		"question_id": res.QuestionID,
	}

	if err := d.upsert(ctx, resultsCollection, filter, res); err != nil {
		return storageErr("put result", err)
	}

	return nil
}

func (d *document) ListResults(ctx context.Context, runID string) ([]Result, error) {
	cursor, err := d.db.Collection(resultsCollection).
		Find(ctx, bson.M{"run_id": runID})
	if err != nil {
		return nil, storageErr("list results", err)
	}

	results := make([]Result, 0, 64)
	if err := cursor.All(ctx, &results); err != nil {
		return nil, storageErr("list results", err)
	}

	return results, nil
}

// --- Assets ---

func (d *document) PutAsset(ctx context.Context, asset *Asset) error {
	filter := bson.M{
		"run_id":     asset.RunID,
		"asset_type": asset.Type,
		"path":       asset.Path,
	}

	if err := d.upsert(ctx, assetsCollection, filter, asset); err != nil {
		return storageErr("put asset", err)
	}

	return nil
}

func (d *document) ListAssets(ctx context.Context, runID string) ([]Asset, error) {
	assets := make([]Asset, 0, 8)

	if err := d.list(
		ctx, assetsCollection, bson.M{"run_id": runID}, "created_at", &assets,
	); err != nil {
		return nil, storageErr("list assets", err)
	}

	return assets, nil
}

func (d *document) DeleteAssets(ctx context.Context, runID string) error {
	_, err := d.db.Collection(assetsCollection).
		DeleteMany(ctx, bson.M{"run_id": runID})
	if err != nil {
		return storageErr("delete assets", err)
	}

	return nil
}

// list runs a find sorted newest-first on sortField, decoding into out.
func (d *document) list(
	ctx context.Context, coll string, filter bson.M, sortField string, out any,
) error {
	opts := options.Find().SetSort(bson.D{{Key: sortField, Value: -1}})

	cursor, err := d.db.Collection(coll).Find(ctx, filter, opts)
	if err != nil {
		return err
	}

	return cursor.All(ctx, out)
}
