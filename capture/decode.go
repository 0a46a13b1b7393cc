package capture

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-shadowwrite-mongodb/errors"
)

// Write command names as reported by the driver command monitor.
const (
	cmdInsert        = "insert"
	cmdUpdate        = "update"
	cmdDelete        = "delete"
	cmdFindAndModify = "findAndModify"
	cmdBulkWrite     = "bulkWrite"
)

// IsWriteCommand reports whether the command name is write-shaped.
func IsWriteCommand(name string) bool {
	switch name {
	case cmdInsert, cmdUpdate, cmdDelete, cmdFindAndModify, cmdBulkWrite:
		return true
	}

	return false
}

// statement is a write decoded from one statement of a command.
// index is the statement position used by the server in writeErrors.
type statement struct {
	index int
	write *Write
}

// Decode turns a write command into writes, one per statement.
// Inserts of the same command are coalesced into a single write.
// A nil reply means every statement succeeded.
func Decode(db, name string, cmd, reply bson.Raw) ([]*Write, error) {
	var (
		stmts []statement
		err   error
	)

	switch name {
	case cmdInsert:
		stmts, err = decodeInsert(db, cmd)
	case cmdUpdate:
		stmts, err = decodeUpdate(db, cmd)
	case cmdDelete:
		stmts, err = decodeDelete(db, cmd)
	case cmdFindAndModify:
		stmts, err = decodeFindAndModify(db, cmd)
	case cmdBulkWrite:
		stmts, err = decodeBulkWrite(cmd)
	default:
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", name)
	}

	if reply != nil {
		if name == cmdBulkWrite {
			stmts = dropUnreported(stmts, reply)
		}

		stmts = dropFailed(stmts, isOrdered(cmd), failedStatements(name, reply))
		pinUpsertedIDs(stmts, upsertedIDs(name, reply))
	}

	if name == cmdInsert {
		return coalesceInserts(stmts, isOrdered(cmd)), nil
	}

	rv := make([]*Write, len(stmts))
	for i, s := range stmts {
		rv[i] = s.write
	}

	return rv, nil
}

func decodeInsert(db string, cmd bson.Raw) ([]statement, error) {
	coll, err := collectionName(cmd, cmdInsert)
	if err != nil {
		return nil, err
	}

	docs, err := lookupDocs(cmd, "documents")
	if err != nil {
		return nil, err
	}

	stmts := make([]statement, len(docs))
	for i, doc := range docs {
		stmts[i] = statement{index: i, write: &Write{
			Database:   db,
			Collection: coll,
			Kind:       InsertOne,
			Args:       []any{doc},
		}}
	}

	return stmts, nil
}

func decodeUpdate(db string, cmd bson.Raw) ([]statement, error) {
	coll, err := collectionName(cmd, cmdUpdate)
	if err != nil {
		return nil, err
	}

	updates, err := lookupDocs(cmd, "updates")
	if err != nil {
		return nil, err
	}

	stmts := make([]statement, 0, len(updates))

	for i, stmt := range updates {
		w, err := decodeUpdateStatement(db, coll, stmt, "q", "u")
		if err != nil {
			return nil, errors.Wrapf(err, "statement %d", i)
		}

		stmts = append(stmts, statement{index: i, write: w})
	}

	return stmts, nil
}

func decodeUpdateStatement(db, coll string, stmt bson.Raw, filterKey, updateKey string) (*Write, error) {
	filter := lookupDoc(stmt, filterKey)

	update, replacement, err := updateArg(stmt.Lookup(updateKey))
	if err != nil {
		return nil, err
	}

	multi, _ := stmt.Lookup("multi").BooleanOK()

	kind := UpdateOne
	switch {
	case replacement:
		kind = ReplaceOne
	case multi:
		kind = UpdateMany
	}

	return &Write{
		Database:   db,
		Collection: coll,
		Kind:       kind,
		Args:       []any{filter, update},
		Options:    statementOptions(stmt),
	}, nil
}

func decodeDelete(db string, cmd bson.Raw) ([]statement, error) {
	coll, err := collectionName(cmd, cmdDelete)
	if err != nil {
		return nil, err
	}

	deletes, err := lookupDocs(cmd, "deletes")
	if err != nil {
		return nil, err
	}

	stmts := make([]statement, len(deletes))

	for i, stmt := range deletes {
		kind := DeleteMany
		if limit, ok := asInt64(stmt.Lookup("limit")); ok && limit == 1 {
			kind = DeleteOne
		}

		stmts[i] = statement{index: i, write: &Write{
			Database:   db,
			Collection: coll,
			Kind:       kind,
			Args:       []any{lookupDoc(stmt, "q")},
			Options:    statementOptions(stmt),
		}}
	}

	return stmts, nil
}

func decodeFindAndModify(db string, cmd bson.Raw) ([]statement, error) {
	coll, err := collectionName(cmd, cmdFindAndModify)
	if err != nil {
		return nil, err
	}

	w := &Write{
		Database:   db,
		Collection: coll,
		Options:    statementOptions(cmd),
	}

	filter := lookupDoc(cmd, "query")

	if remove, _ := cmd.Lookup("remove").BooleanOK(); remove {
		w.Kind = FindOneAndDelete
		w.Args = []any{filter}

		return []statement{{write: w}}, nil
	}

	update, replacement, err := updateArg(cmd.Lookup("update"))
	if err != nil {
		return nil, err
	}

	w.Kind = FindOneAndUpdate
	if replacement {
		w.Kind = FindOneAndReplace
	}

	w.Args = []any{filter, update}

	return []statement{{write: w}}, nil
}

func decodeBulkWrite(cmd bson.Raw) ([]statement, error) {
	nsInfo, err := lookupDocs(cmd, "nsInfo")
	if err != nil {
		return nil, err
	}

	namespaces := make([][2]string, len(nsInfo))
	for i, info := range nsInfo {
		ns, _ := info.Lookup("ns").StringValueOK()

		db, coll, ok := strings.Cut(ns, ".")
		if !ok {
			return nil, errors.Errorf("invalid namespace %q", ns)
		}

		namespaces[i] = [2]string{db, coll}
	}

	ops, err := lookupDocs(cmd, "ops")
	if err != nil {
		return nil, err
	}

	stmts := make([]statement, 0, len(ops))

	for i, op := range ops {
		elems, err := op.Elements()
		if err != nil || len(elems) == 0 {
			return nil, errors.Errorf("op %d: invalid document", i)
		}

		opName := elems[0].Key()

		nsIdx, ok := asInt64(elems[0].Value())
		if !ok || nsIdx < 0 || int(nsIdx) >= len(namespaces) {
			return nil, errors.Errorf("op %d: invalid namespace index", i)
		}

		db, coll := namespaces[nsIdx][0], namespaces[nsIdx][1]

		var w *Write

		switch opName {
		case cmdInsert:
			w = &Write{
				Database:   db,
				Collection: coll,
				Kind:       InsertOne,
				Args:       []any{lookupDoc(op, "document")},
			}

		case cmdUpdate:
			w, err = decodeUpdateStatement(db, coll, op, "filter", "updateMods")
			if err != nil {
				return nil, errors.Wrapf(err, "op %d", i)
			}

		case cmdDelete:
			kind := DeleteOne
			if multi, _ := op.Lookup("multi").BooleanOK(); multi {
				kind = DeleteMany
			}

			w = &Write{
				Database:   db,
				Collection: coll,
				Kind:       kind,
				Args:       []any{lookupDoc(op, "filter")},
				Options:    statementOptions(op),
			}

		default:
			return nil, errors.Errorf("op %d: unknown operation %q", i, opName)
		}

		stmts = append(stmts, statement{index: i, write: w})
	}

	return stmts, nil
}

// failedStatements returns the indexes of statements the server did not apply.
func failedStatements(name string, reply bson.Raw) map[int]bool {
	failed := make(map[int]bool)

	switch name {
	case cmdFindAndModify:
		n, ok := asInt64(reply.Lookup("lastErrorObject", "n"))
		if ok && n == 0 {
			failed[0] = true // matched nothing. no-op on the primary
		}

	case cmdBulkWrite:
		for _, res := range firstBatch(reply) {
			if ok, found := asInt64(res.Lookup("ok")); !found || ok != 0 {
				continue
			}

			if idx, found := asInt64(res.Lookup("idx")); found {
				failed[int(idx)] = true
			}
		}

	default:
		writeErrors, _ := lookupDocs(reply, "writeErrors")
		for _, we := range writeErrors {
			if idx, found := asInt64(we.Lookup("index")); found {
				failed[int(idx)] = true
			}
		}
	}

	return failed
}

// dropFailed removes failed statements. For ordered commands the server stops at the first
// error, so every statement from that index on is dropped.
func dropFailed(stmts []statement, ordered bool, failed map[int]bool) []statement {
	if len(failed) == 0 {
		return stmts
	}

	firstFailed := -1
	for idx := range failed {
		if firstFailed == -1 || idx < firstFailed {
			firstFailed = idx
		}
	}

	rv := make([]statement, 0, len(stmts))

	for _, s := range stmts {
		if ordered && s.index >= firstFailed {
			break
		}

		if failed[s.index] {
			continue
		}

		rv = append(rv, s)
	}

	return rv
}

func coalesceInserts(stmts []statement, ordered bool) []*Write {
	if len(stmts) == 0 {
		return nil
	}

	first := stmts[0].write
	if len(stmts) == 1 {
		return []*Write{first}
	}

	docs := make([]any, len(stmts))
	for i, s := range stmts {
		docs[i] = s.write.Args[0]
	}

	return []*Write{{
		Database:   first.Database,
		Collection: first.Collection,
		Kind:       InsertMany,
		Args:       docs,
		Options:    WriteOptions{Ordered: &ordered},
	}}
}

func isOrdered(cmd bson.Raw) bool {
	ordered, ok := cmd.Lookup("ordered").BooleanOK()

	return !ok || ordered
}

func collectionName(cmd bson.Raw, name string) (string, error) {
	coll, ok := cmd.Lookup(name).StringValueOK()
	if !ok || coll == "" {
		return "", errors.Errorf("missing collection name")
	}

	return coll, nil
}

// lookupDoc returns the embedded document at key or an empty document.
func lookupDoc(doc bson.Raw, key string) bson.Raw {
	val, ok := doc.Lookup(key).DocumentOK()
	if !ok {
		return emptyDoc()
	}

	return val
}

func lookupDocs(doc bson.Raw, key string) ([]bson.Raw, error) {
	if doc == nil {
		return nil, nil
	}

	arr, ok := doc.Lookup(key).ArrayOK()
	if !ok {
		return nil, errors.Errorf("missing %q array", key)
	}

	vals, err := arr.Values()
	if err != nil {
		return nil, errors.Wrapf(err, "read %q", key)
	}

	docs := make([]bson.Raw, 0, len(vals))

	for i, val := range vals {
		d, ok := val.DocumentOK()
		if !ok {
			return nil, errors.Errorf("%s.%d: not a document", key, i)
		}

		docs = append(docs, d)
	}

	return docs, nil
}

// updateArg converts an update value into a write argument. It reports whether the value
// is a replacement document (no update operators).
func updateArg(val bson.RawValue) (any, bool, error) {
	switch val.Type {
	case bson.TypeEmbeddedDocument:
		doc := val.Document()

		elems, err := doc.Elements()
		if err != nil {
			return nil, false, errors.Wrap(err, "update document")
		}

		replacement := len(elems) == 0 || !strings.HasPrefix(elems[0].Key(), "$")

		return doc, replacement, nil

	case bson.TypeArray:
		vals, err := val.Array().Values()
		if err != nil {
			return nil, false, errors.Wrap(err, "update pipeline")
		}

		pipeline := make(bson.A, len(vals))
		for i, stage := range vals {
			doc, ok := stage.DocumentOK()
			if !ok {
				return nil, false, errors.Errorf("pipeline stage %d: not a document", i)
			}

			pipeline[i] = doc
		}

		return pipeline, false, nil
	}

	return nil, false, errors.Errorf("unexpected update type %s", val.Type)
}

func statementOptions(stmt bson.Raw) WriteOptions {
	var opts WriteOptions

	if upsert, ok := stmt.Lookup("upsert").BooleanOK(); ok {
		opts.Upsert = &upsert
	}

	if filters, ok := stmt.Lookup("arrayFilters").ArrayOK(); ok {
		vals, _ := filters.Values()
		for _, v := range vals {
			if doc, ok := v.DocumentOK(); ok {
				opts.ArrayFilters = append(opts.ArrayFilters, doc)
			}
		}
	}

	if doc, ok := stmt.Lookup("collation").DocumentOK(); ok {
		var coll Collation
		if bson.Unmarshal(doc, &coll) == nil {
			opts.Collation = &coll
		}
	}

	hint := stmt.Lookup("hint")
	switch hint.Type {
	case bson.TypeString:
		opts.Hint = hint.StringValue()
	case bson.TypeEmbeddedDocument:
		opts.Hint = hint.Document()
	}

	if sort, ok := stmt.Lookup("sort").DocumentOK(); ok {
		opts.Sort = sort
	}

	return opts
}

// asInt64 reads any BSON number as int64.
func asInt64(val bson.RawValue) (int64, bool) {
	switch val.Type {
	case bson.TypeInt32:
		return int64(val.Int32()), true
	case bson.TypeInt64:
		return val.Int64(), true
	case bson.TypeDouble:
		return int64(val.Double()), true
	}

	return 0, false
}

func emptyDoc() bson.Raw {
	data, _ := bson.Marshal(bson.D{})

	return data
}
