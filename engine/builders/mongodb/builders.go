package mongodb

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ============================================================================
// FILTER BUILDING
// ============================================================================

// BuildFilter combines where groups into one boolean expression: OR over
// AND groups. Singleton groups collapse. An empty list, or any empty AND
// group, is unconditional and yields nil.
func BuildFilter(groups [][]interface{}) interface{} {
	if len(groups) == 0 {
		return nil
	}
	ors := bson.A{}
	for _, group := range groups {
		if len(group) == 0 {
			return nil
		}
		if len(group) == 1 {
			ors = append(ors, group[0])
		} else {
			ors = append(ors, bson.M{"$and": bson.A(group)})
		}
	}
	if len(ors) == 1 {
		return ors[0]
	}
	return bson.M{"$or": ors}
}

// ============================================================================
// STAGES
// ============================================================================

// BuildAddFieldsStage adds one computed field.
func BuildAddFieldsStage(name string, expr interface{}) bson.D {
	return bson.D{{Key: "$addFields", Value: bson.D{{Key: name, Value: expr}}}}
}

// BuildMatchStage filters with an aggregation expression.
func BuildMatchStage(expr interface{}) bson.D {
	return bson.D{{Key: "$match", Value: bson.M{"$expr": expr}}}
}

// BuildLookupStage correlates with a collection through a sub-pipeline.
// let binds outer fields that the sub-pipeline reads as $$name.
func BuildLookupStage(from, as string, let bson.D, pipeline mongo.Pipeline) bson.D {
	lookup := bson.D{{Key: "from", Value: from}}
	if len(let) > 0 {
		lookup = append(lookup, bson.E{Key: "let", Value: let})
	}
	lookup = append(lookup,
		bson.E{Key: "pipeline", Value: pipeline},
		bson.E{Key: "as", Value: as},
	)
	return bson.D{{Key: "$lookup", Value: lookup}}
}

// BuildUnwindStage flattens a lookup result. preserve keeps rows without a
// match (left join); otherwise they are dropped (inner join).
func BuildUnwindStage(field string, preserve bool) bson.D {
	unwind := bson.D{{Key: "path", Value: FieldRef(field)}}
	if preserve {
		unwind = append(unwind, bson.E{Key: "preserveNullAndEmptyArrays", Value: true})
	}
	return bson.D{{Key: "$unwind", Value: unwind}}
}

// BuildGroupStage groups by id (nil for a single group) with accumulators.
func BuildGroupStage(id interface{}, accumulators bson.D) bson.D {
	group := bson.D{{Key: "_id", Value: id}}
	group = append(group, accumulators...)
	return bson.D{{Key: "$group", Value: group}}
}

// BuildProjectStage shapes the output documents.
func BuildProjectStage(fields bson.D) bson.D {
	return bson.D{{Key: "$project", Value: fields}}
}

// BuildSortStage sorts by keys in order, primary key first.
func BuildSortStage(keys bson.D) bson.D {
	return bson.D{{Key: "$sort", Value: keys}}
}

// BuildUnionWithStage appends the output of a pipeline over another collection.
func BuildUnionWithStage(coll string, pipeline mongo.Pipeline) bson.D {
	return bson.D{{Key: "$unionWith", Value: bson.D{
		{Key: "coll", Value: coll},
		{Key: "pipeline", Value: pipeline},
	}}}
}
