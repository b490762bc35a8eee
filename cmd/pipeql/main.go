// Command pipeql compiles structured query documents into MongoDB
// aggregation pipelines and optionally runs them.
//
// Usage:
//
//	pipeql [flags] <command>
//
// compile and validate work on files only; run needs mongo.uri and
// mongo.database.
package main

func main() {
	Execute()
}
