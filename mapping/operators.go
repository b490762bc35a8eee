package mapping

// ComparisonOperators maps query comparison operators to aggregation expression operators.
// Usage: ComparisonOperators["<>"] returns "$ne"
var ComparisonOperators = map[string]string{
	"=":  "$eq",
	"<>": "$ne",
	">":  "$gt",
	"<":  "$lt",
	">=": "$gte",
	"<=": "$lte",
}

// LogicalOperators maps logical connectives to their n-ary aggregation operators.
var LogicalOperators = map[string]string{
	"and": "$and",
	"or":  "$or",
}

// ArithmeticOperators maps expression operators to aggregation arithmetic operators.
var ArithmeticOperators = map[string]string{
	"+": "$add",
	"-": "$subtract",
	"*": "$multiply",
	"/": "$divide",
	"%": "$mod",
}

// ParseFunctions are applied to the result of an arithmetic expression.
var ParseFunctions = map[string]string{
	"abs":   "$abs",
	"floor": "$floor",
}

// Accumulators maps aggregate functions to $group accumulators.
// "count" is special-cased by the builders: it sums 1 for every non-null input.
var Accumulators = map[string]string{
	"sum":   "$sum",
	"count": "$sum",
	"avg":   "$avg",
	"max":   "$max",
	"min":   "$min",
}

// ConvertFunctions maps group-key coercion hints to conversion operators.
// Both the bare type name and the "to" prefixed spelling are accepted.
var ConvertFunctions = map[string]string{
	"string":     "$toString",
	"tostring":   "$toString",
	"int":        "$toInt",
	"toint":      "$toInt",
	"long":       "$toLong",
	"tolong":     "$toLong",
	"double":     "$toDouble",
	"todouble":   "$toDouble",
	"decimal":    "$toDecimal",
	"todecimal":  "$toDecimal",
	"bool":       "$toBool",
	"tobool":     "$toBool",
	"date":       "$toDate",
	"todate":     "$toDate",
	"objectid":   "$toObjectId",
	"toobjectid": "$toObjectId",
}

// DateDiffUnits lists the units accepted by $dateDiff.
var DateDiffUnits = map[string]bool{
	"year":        true,
	"quarter":     true,
	"month":       true,
	"week":        true,
	"day":         true,
	"hour":        true,
	"minute":      true,
	"second":      true,
	"millisecond": true,
}

// DateTruncUnits maps the addFields date helpers to $dateTrunc units.
// "fulllminute" is the historical spelling still found in stored queries.
var DateTruncUnits = map[string]string{
	"fulllminute": "minute",
	"fullminute":  "minute",
	"hour":        "hour",
	"day":         "day",
	"month":       "month",
	"year":        "year",
}

// SortDirections maps order directions to $sort values.
var SortDirections = map[string]int{
	"asc":  1,
	"desc": -1,
}

// IsComparison reports whether op is a comparison operator.
func IsComparison(op string) bool {
	_, ok := ComparisonOperators[op]
	return ok
}

// IsLogical reports whether op is a logical connective.
func IsLogical(op string) bool {
	_, ok := LogicalOperators[op]
	return ok
}
