// Package middleware provides HTTP middleware for viewer identity and rate limiting.
//
// IdentityMiddleware turns an optional HS256 bearer token into a viewer.Viewer on the
// request context. It never rejects requests.
//
// RateLimitMiddleware throttles callers through a Limiter: RateLimiter keeps token
// buckets in process, DistributedRateLimiter shares counters through Redis. Limiter
// errors fail open.
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "")
//	router.Handle("/api/v1/views", middleware.RateLimitMiddleware(limiter, cfg, logger)(h))
package middleware
