// Package storage opens the shared backends used by the bioviews services.
//
// Postgres connections (a primary for view writes plus optional read replicas for
// analytics) are managed by the postgres subpackage. NewRedisClient opens the single
// Redis client shared by presence, server-side cooldowns and rate limiting.
//
//	cm, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
//		PrimaryURL:  cfg.Storage.PostgresURL,
//		ReplicaURLs: cfg.Storage.PostgresReplicaURLs,
//	}, logger)
//
//	rdb, err := storage.NewRedisClient(ctx, cfg.Storage.RedisURL)
package storage
