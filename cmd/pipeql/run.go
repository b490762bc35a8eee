package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	pql "github.com/omniql-engine/pipeql"
	"github.com/omniql-engine/pipeql/engine/cache"
	"github.com/omniql-engine/pipeql/internal/cli"
)

var (
	runDatabase string
	runNoCache  bool
)

var runCmd = &cobra.Command{
	Use:   "run FILE",
	Short: "Compile a query and run it against MongoDB",
	Long: `Compile a query and run the pipeline with Aggregate. Each result
document is printed as one line of relaxed Extended JSON.

When redis.addr is configured, compiled pipelines are cached there.`,
	Example: `  # Run against the configured database
  pipeql run queries/revenue.yaml

  # Override the database and skip the cache
  PIPEQL_MONGO_URI=mongodb://db:27017 pipeql run q.json --database shop --no-cache`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := readQuery(cmd, args[0])
		if err != nil {
			return err
		}
		compiler, err := newCompiler()
		if err != nil {
			return err
		}

		dbName := runDatabase
		if dbName == "" {
			dbName = cfg.Mongo.Database
		}
		if dbName == "" {
			return cli.ConfigError("mongo.database is required (or --database)", nil)
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if cfg.Mongo.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Mongo.Timeout)
			defer cancel()
		}

		mc, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return cli.DBConnectError("connecting to mongo", err)
		}
		defer func() { _ = mc.Disconnect(context.Background()) }()
		if err := mc.Ping(ctx, nil); err != nil {
			return cli.DBConnectError("pinging mongo", err)
		}

		clientOpts := []pql.ClientOption{pql.WithCompiler(compiler), pql.WithLogger(logger)}
		if redisOpts := cfg.RedisOptions(); redisOpts != nil && !runNoCache {
			rdb := redis.NewClient(redisOpts)
			defer func() { _ = rdb.Close() }()
			clientOpts = append(clientOpts, pql.WithCache(cache.New(rdb, cfg.CacheOptions()...)))
		}

		client := pql.WrapMongo(mc.Database(dbName), clientOpts...)
		plan, err := client.Plan(ctx, q)
		if err != nil {
			return cli.QueryError("compiling query", err)
		}
		docs, err := client.Run(ctx, plan)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return cli.DBConnectError("running aggregate", err)
			}
			return cli.GeneralError("running aggregate", err)
		}

		out := cmd.OutOrStdout()
		for _, doc := range docs {
			data, err := bson.MarshalExtJSON(bson.M(doc), false, false)
			if err != nil {
				return cli.GeneralError("rendering result", err)
			}
			fmt.Fprintln(out, string(data))
		}
		logger.Info("query finished", "collection", plan.Collection, "documents", len(docs), "cached", plan.Cached)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runDatabase, "database", "", "database name (overrides mongo.database)")
	runCmd.Flags().BoolVar(&runNoCache, "no-cache", false, "bypass the pipeline cache")
}
