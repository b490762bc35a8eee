// Package wire converts pipelines to and from protobuf well-known types so
// they can travel inside gRPC messages or be printed as protojson.
package wire

import (
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ToList converts a pipeline into a ListValue of stage structs. BSON types
// without a JSON equivalent are kept in relaxed Extended JSON form
// ({"$date": ...}, {"$oid": ...}).
func ToList(pipeline mongo.Pipeline) (*structpb.ListValue, error) {
	stages := make(bson.A, len(pipeline))
	for i, stage := range pipeline {
		stages[i] = stage
	}
	data, err := bson.MarshalExtJSON(bson.D{{Key: "pipeline", Value: stages}}, false, false)
	if err != nil {
		return nil, fmt.Errorf("wire: %w", err)
	}

	var doc struct {
		Pipeline []any `json:"pipeline"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("wire: %w", err)
	}
	list, err := structpb.NewList(doc.Pipeline)
	if err != nil {
		return nil, fmt.Errorf("wire: %w", err)
	}
	return list, nil
}

// FromList reverses ToList. Numbers come back as the narrowest BSON integer
// that holds them, or as doubles.
func FromList(list *structpb.ListValue) (mongo.Pipeline, error) {
	data, err := protojson.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("wire: %w", err)
	}
	var doc struct {
		Pipeline []bson.D `bson:"pipeline"`
	}
	wrapped := append(append([]byte(`{"pipeline":`), data...), '}')
	if err := bson.UnmarshalExtJSON(wrapped, false, &doc); err != nil {
		return nil, fmt.Errorf("wire: %w", err)
	}
	return mongo.Pipeline(doc.Pipeline), nil
}

// MarshalJSON renders a pipeline as protojson. Multiline output is indented.
func MarshalJSON(pipeline mongo.Pipeline, multiline bool) ([]byte, error) {
	list, err := ToList(pipeline)
	if err != nil {
		return nil, err
	}
	opts := protojson.MarshalOptions{Multiline: multiline}
	if multiline {
		opts.Indent = "  "
	}
	return opts.Marshal(list)
}

// UnmarshalJSON parses protojson produced by MarshalJSON.
func UnmarshalJSON(data []byte) (mongo.Pipeline, error) {
	var list structpb.ListValue
	if err := protojson.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("wire: %w", err)
	}
	return FromList(&list)
}
