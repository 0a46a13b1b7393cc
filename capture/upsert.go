package capture

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// upsertedIDs returns the _id the primary assigned to each statement that upserted,
// keyed by statement index.
func upsertedIDs(name string, reply bson.Raw) map[int]bson.RawValue {
	ids := make(map[int]bson.RawValue)

	switch name {
	case cmdUpdate:
		upserted, _ := lookupDocs(reply, "upserted")
		for _, u := range upserted {
			idx, ok := asInt64(u.Lookup("index"))
			id, err := u.LookupErr("_id")

			if ok && err == nil {
				ids[int(idx)] = id
			}
		}

	case cmdFindAndModify:
		id, err := reply.LookupErr("lastErrorObject", "upserted")
		if err == nil {
			ids[0] = id
		}

	case cmdBulkWrite:
		for _, res := range firstBatch(reply) {
			idx, ok := asInt64(res.Lookup("idx"))
			id, err := res.LookupErr("upserted", "_id")

			if ok && err == nil {
				ids[int(idx)] = id
			}
		}
	}

	return ids
}

// pinUpsertedIDs adds the _id assigned by the primary to the filter of each upserting
// statement. The secondary then inserts the document under the same _id, so later
// writes filtered by _id find it there too.
func pinUpsertedIDs(stmts []statement, ids map[int]bson.RawValue) {
	if len(ids) == 0 {
		return
	}

	for _, s := range stmts {
		id, ok := ids[s.index]
		if !ok || len(s.write.Args) == 0 {
			continue
		}

		switch s.write.Kind {
		case UpdateOne, UpdateMany, ReplaceOne, FindOneAndUpdate, FindOneAndReplace:
		default:
			continue
		}

		filter, ok := s.write.Args[0].(bson.Raw)
		if !ok {
			continue
		}

		pinned, ok := withID(filter, id)
		if ok {
			s.write.Args[0] = pinned
		}
	}
}

// withID returns filter with an _id equality prepended. A filter that already
// constrains _id is kept.
func withID(filter bson.Raw, id bson.RawValue) (bson.Raw, bool) {
	if _, err := filter.LookupErr("_id"); err == nil {
		return nil, false
	}

	elems, err := filter.Elements()
	if err != nil {
		return nil, false
	}

	doc := make(bson.D, 0, len(elems)+1)
	doc = append(doc, bson.E{Key: "_id", Value: id})

	for _, e := range elems {
		doc = append(doc, bson.E{Key: e.Key(), Value: e.Value()})
	}

	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, false
	}

	return data, true
}

// dropUnreported drops the bulkWrite statements whose results are not in the first
// reply batch when the reply counts more errors than that batch lists. The remaining
// results are only reachable with getMore, so those statements may have failed.
func dropUnreported(stmts []statement, reply bson.Raw) []statement {
	nErrors, _ := asInt64(reply.Lookup("nErrors"))
	if nErrors == 0 {
		return stmts
	}

	results := firstBatch(reply)

	seen, lastIdx := int64(0), int64(-1)

	for _, res := range results {
		idx, ok := asInt64(res.Lookup("idx"))
		if !ok {
			continue
		}

		lastIdx = max(lastIdx, idx)

		if okVal, found := asInt64(res.Lookup("ok")); found && okVal == 0 {
			seen++
		}
	}

	if seen >= nErrors {
		return stmts
	}

	rv := make([]statement, 0, len(stmts))

	for _, s := range stmts {
		if int64(s.index) <= lastIdx {
			rv = append(rv, s)
		}
	}

	return rv
}

func firstBatch(reply bson.Raw) []bson.Raw {
	cursor, ok := reply.Lookup("cursor").DocumentOK()
	if !ok {
		return nil
	}

	results, _ := lookupDocs(cursor, "firstBatch")

	return results
}
