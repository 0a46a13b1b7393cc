/*
Package capture intercepts write operations issued on a primary MongoDB client and hands them,
one [Write] per statement, to a single subscriber.

The [Tap] is installed on the primary client as a driver command monitor:

	tap := capture.NewTap()
	client, err := topo.Connect(ctx, primaryURI, topo.WithMonitor(tap.Monitor()))

Only write-shaped commands (insert, update, delete, findAndModify and client bulkWrite) are
captured. A command is delivered once the server acknowledged it; failed commands and
statements reported in writeErrors are not delivered.

When a statement upserted on the primary, the _id the server assigned is added to its filter
so that the replayed upsert creates the document under the same _id.

A client bulkWrite reports per-statement results through a cursor. Only the first batch is
read: if the reply counts more errors than that batch lists, the statements past the batch
are not delivered.
*/
package capture

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-shadowwrite-mongodb/errors"
)

// Kind is the kind of a captured write operation.
type Kind string

const (
	InsertOne         Kind = "insertOne"
	InsertMany        Kind = "insertMany"
	UpdateOne         Kind = "updateOne"
	UpdateMany        Kind = "updateMany"
	ReplaceOne        Kind = "replaceOne"
	DeleteOne         Kind = "deleteOne"
	DeleteMany        Kind = "deleteMany"
	FindOneAndUpdate  Kind = "findOneAndUpdate"
	FindOneAndReplace Kind = "findOneAndReplace"
	FindOneAndDelete  Kind = "findOneAndDelete"
)

//nolint:gochecknoglobals
var kinds = []Kind{
	InsertOne,
	InsertMany,
	UpdateOne,
	UpdateMany,
	ReplaceOne,
	DeleteOne,
	DeleteMany,
	FindOneAndUpdate,
	FindOneAndReplace,
	FindOneAndDelete,
}

// Kinds returns all write kinds.
func Kinds() []Kind {
	return append([]Kind(nil), kinds...)
}

// IsValid reports whether k is a known write kind.
func (k Kind) IsValid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}

	return false
}

// NumArgs returns the number of arguments the kind expects.
// Insert kinds take one argument per document and return -1.
func (k Kind) NumArgs() int {
	switch k {
	case InsertOne:
		return 1
	case InsertMany:
		return -1
	case UpdateOne, UpdateMany, ReplaceOne, FindOneAndUpdate, FindOneAndReplace:
		return 2 //nolint:mnd
	case DeleteOne, DeleteMany, FindOneAndDelete:
		return 1
	}

	return 0
}

// Collation mirrors the server collation document.
type Collation struct {
	Locale          string `bson:"locale,omitempty"`
	CaseLevel       bool   `bson:"caseLevel,omitempty"`
	CaseFirst       string `bson:"caseFirst,omitempty"`
	Strength        int    `bson:"strength,omitempty"`
	NumericOrdering bool   `bson:"numericOrdering,omitempty"`
	Alternate       string `bson:"alternate,omitempty"`
	MaxVariable     string `bson:"maxVariable,omitempty"`
	Normalization   bool   `bson:"normalization,omitempty"`
	Backwards       bool   `bson:"backwards,omitempty"`
}

// WriteOptions are the statement options taken from the intercepted command.
type WriteOptions struct {
	Ordered      *bool
	Upsert       *bool
	ArrayFilters []any
	Collation    *Collation
	Hint         any
	Sort         any
}

// Write is a single captured write operation.
//
// Args layout by kind:
//   - insertOne, insertMany: the documents
//   - updateOne, updateMany, findOneAndUpdate: filter, update (document or pipeline)
//   - replaceOne, findOneAndReplace: filter, replacement
//   - deleteOne, deleteMany, findOneAndDelete: filter
type Write struct {
	Database   string
	Collection string
	Kind       Kind
	Args       []any
	Options    WriteOptions
}

// Namespace returns "db.coll".
func (w *Write) Namespace() string {
	return w.Database + "." + w.Collection
}

// Validate checks the kind and the argument count.
func (w *Write) Validate() error {
	if w.Collection == "" {
		return errors.Errorf("%s: empty collection name", w.Kind)
	}

	if !w.Kind.IsValid() {
		return errors.Errorf("unknown write kind %q", w.Kind)
	}

	n := w.Kind.NumArgs()
	if n < 0 {
		if len(w.Args) == 0 {
			return errors.Errorf("%s: no documents", w.Kind)
		}

		return nil
	}

	if len(w.Args) != n {
		return errors.Errorf("%s: expected %d args, got %d", w.Kind, n, len(w.Args))
	}

	return nil
}

// Idempotent reports whether replaying w twice leaves the same state as replaying it once.
// Inserts are replayed as upserts keyed by _id, so they qualify only when every document
// carries an _id. Update kinds do not: operators such as $inc or $push apply again.
func (w *Write) Idempotent() bool {
	switch w.Kind {
	case InsertOne, InsertMany:
		for _, doc := range w.Args {
			if !hasID(doc) {
				return false
			}
		}

		return true
	case ReplaceOne, FindOneAndReplace, DeleteOne, DeleteMany, FindOneAndDelete:
		return true
	}

	return false
}

func hasID(doc any) bool {
	raw, ok := doc.(bson.Raw)
	if !ok {
		data, err := bson.Marshal(doc)
		if err != nil {
			return false
		}

		raw = data
	}

	_, err := raw.LookupErr("_id")

	return err == nil
}

// Size returns the approximate BSON size of the arguments in bytes.
func (w *Write) Size() int {
	size := 0

	for _, arg := range w.Args {
		switch v := arg.(type) {
		case bson.Raw:
			size += len(v)
		case nil:
		default:
			data, err := bson.Marshal(bson.D{{Key: "v", Value: v}})
			if err == nil {
				size += len(data)
			}
		}
	}

	return size
}

func (w *Write) String() string {
	var sb strings.Builder

	sb.WriteString(string(w.Kind))
	sb.WriteString(" ")
	sb.WriteString(w.Namespace())

	if w.Kind == InsertMany {
		fmt.Fprintf(&sb, " (%d docs)", len(w.Args))
	}

	return sb.String()
}
