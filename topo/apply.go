package topo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/percona/percona-shadowwrite-mongodb/capture"
	"github.com/percona/percona-shadowwrite-mongodb/errors"
)

// ApplyWrite replays a captured write on coll.
//
// Inserts become upserts keyed by _id so that a replayed insert is idempotent.
// Update, replace and delete kinds are sent as a single-model bulk write.
// FindOneAnd* kinds use the matching find-and-modify call; a missing document is not an error.
func ApplyWrite(ctx context.Context, coll *mongo.Collection, w *capture.Write) error {
	err := w.Validate()
	if err != nil {
		return err
	}

	switch w.Kind {
	case capture.InsertOne, capture.InsertMany:
		return applyInsert(ctx, coll, w)

	case capture.UpdateOne, capture.UpdateMany, capture.ReplaceOne,
		capture.DeleteOne, capture.DeleteMany:
		model := writeModel(w)

		_, err = coll.BulkWrite(ctx, []mongo.WriteModel{model})

		return errors.Wrap(err, string(w.Kind))

	case capture.FindOneAndUpdate:
		opts := options.FindOneAndUpdate()
		if w.Options.Upsert != nil {
			opts.SetUpsert(*w.Options.Upsert)
		}
		if w.Options.ArrayFilters != nil {
			opts.SetArrayFilters(w.Options.ArrayFilters)
		}
		if w.Options.Collation != nil {
			opts.SetCollation(collation(w.Options.Collation))
		}
		if w.Options.Hint != nil {
			opts.SetHint(w.Options.Hint)
		}
		if w.Options.Sort != nil {
			opts.SetSort(w.Options.Sort)
		}

		err = coll.FindOneAndUpdate(ctx, w.Args[0], w.Args[1], opts).Err()

	case capture.FindOneAndReplace:
		opts := options.FindOneAndReplace()
		if w.Options.Upsert != nil {
			opts.SetUpsert(*w.Options.Upsert)
		}
		if w.Options.Collation != nil {
			opts.SetCollation(collation(w.Options.Collation))
		}
		if w.Options.Hint != nil {
			opts.SetHint(w.Options.Hint)
		}
		if w.Options.Sort != nil {
			opts.SetSort(w.Options.Sort)
		}

		err = coll.FindOneAndReplace(ctx, w.Args[0], w.Args[1], opts).Err()

	case capture.FindOneAndDelete:
		opts := options.FindOneAndDelete()
		if w.Options.Collation != nil {
			opts.SetCollation(collation(w.Options.Collation))
		}
		if w.Options.Hint != nil {
			opts.SetHint(w.Options.Hint)
		}
		if w.Options.Sort != nil {
			opts.SetSort(w.Options.Sort)
		}

		err = coll.FindOneAndDelete(ctx, w.Args[0], opts).Err()
	}

	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}

	return errors.Wrap(err, string(w.Kind))
}

func applyInsert(ctx context.Context, coll *mongo.Collection, w *capture.Write) error {
	models := make([]mongo.WriteModel, len(w.Args))

	for i, doc := range w.Args {
		model, err := insertModel(doc)
		if err != nil {
			return errors.Wrapf(err, "%s: document #%d", w.Kind, i)
		}

		models[i] = model
	}

	opts := options.BulkWrite().SetOrdered(w.Options.Ordered == nil || *w.Options.Ordered)

	_, err := coll.BulkWrite(ctx, models, opts)

	return errors.Wrap(err, string(w.Kind))
}

// insertModel returns a replace-with-upsert model for a document with _id and an insert otherwise.
func insertModel(doc any) (mongo.WriteModel, error) {
	raw, err := toRaw(doc)
	if err != nil {
		return nil, err
	}

	id, err := raw.LookupErr("_id")
	if err != nil {
		return mongo.NewInsertOneModel().SetDocument(raw), nil //nolint:nilerr
	}

	return mongo.NewReplaceOneModel().
		SetFilter(bson.D{{Key: "_id", Value: id}}).
		SetReplacement(raw).
		SetUpsert(true), nil
}

func writeModel(w *capture.Write) mongo.WriteModel {
	o := w.Options

	switch w.Kind {
	case capture.UpdateOne:
		m := mongo.NewUpdateOneModel().SetFilter(w.Args[0]).SetUpdate(w.Args[1])
		if o.Upsert != nil {
			m.SetUpsert(*o.Upsert)
		}
		if o.ArrayFilters != nil {
			m.SetArrayFilters(o.ArrayFilters)
		}
		if o.Collation != nil {
			m.SetCollation(collation(o.Collation))
		}
		if o.Hint != nil {
			m.SetHint(o.Hint)
		}

		return m

	case capture.UpdateMany:
		m := mongo.NewUpdateManyModel().SetFilter(w.Args[0]).SetUpdate(w.Args[1])
		if o.Upsert != nil {
			m.SetUpsert(*o.Upsert)
		}
		if o.ArrayFilters != nil {
			m.SetArrayFilters(o.ArrayFilters)
		}
		if o.Collation != nil {
			m.SetCollation(collation(o.Collation))
		}
		if o.Hint != nil {
			m.SetHint(o.Hint)
		}

		return m

	case capture.ReplaceOne:
		m := mongo.NewReplaceOneModel().SetFilter(w.Args[0]).SetReplacement(w.Args[1])
		if o.Upsert != nil {
			m.SetUpsert(*o.Upsert)
		}
		if o.Collation != nil {
			m.SetCollation(collation(o.Collation))
		}
		if o.Hint != nil {
			m.SetHint(o.Hint)
		}

		return m

	case capture.DeleteOne:
		m := mongo.NewDeleteOneModel().SetFilter(w.Args[0])
		if o.Collation != nil {
			m.SetCollation(collation(o.Collation))
		}
		if o.Hint != nil {
			m.SetHint(o.Hint)
		}

		return m

	case capture.DeleteMany:
		m := mongo.NewDeleteManyModel().SetFilter(w.Args[0])
		if o.Collation != nil {
			m.SetCollation(collation(o.Collation))
		}
		if o.Hint != nil {
			m.SetHint(o.Hint)
		}

		return m
	}

	return nil
}

func collation(c *capture.Collation) *options.Collation {
	return &options.Collation{
		Locale:          c.Locale,
		CaseLevel:       c.CaseLevel,
		CaseFirst:       c.CaseFirst,
		Strength:        c.Strength,
		NumericOrdering: c.NumericOrdering,
		Alternate:       c.Alternate,
		MaxVariable:     c.MaxVariable,
		Normalization:   c.Normalization,
		Backwards:       c.Backwards,
	}
}

func toRaw(doc any) (bson.Raw, error) {
	switch v := doc.(type) {
	case bson.Raw:
		return v, nil
	case []byte:
		return bson.Raw(v), nil
	}

	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "marshal document")
	}

	return data, nil
}
