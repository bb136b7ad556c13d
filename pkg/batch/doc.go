// Package batch preloads portal resources into the response cache.
//
// A Warmer fetches a list of targets through the cache-aware client with a
// bounded worker pool, e.g. right after login so the first screens render from
// cache:
//
//	warmer := batch.NewWarmer(portalClient, batch.DefaultConfig())
//	results := warmer.WarmAll(ctx, []batch.Target{
//		{Name: "grades", URL: "/api/Grades", Options: client.Options{Cache: client.CacheFor(600)}},
//		{Name: "timetable", URL: "/api/Timetable"},
//	})
//
// The warmer:
//   - Spawns a worker pool (default 4 workers)
//   - Forces caching on for every target
//   - Applies a timeout per target
//   - Reports one Result per target; failures do not abort other targets
package batch
