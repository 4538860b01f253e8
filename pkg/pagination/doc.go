// Package pagination collects every page of an offset-paginated listing in
// parallel.
//
// The first page is fetched alone to learn the total; the remaining offsets
// are fetched with bounded concurrency and returned in offset order. When a
// page fails the pages fetched so far are returned together with the error.
//
// Example usage:
//
//	svc := messages.NewService(feedClient)
//	collector := pagination.NewCollector(svc.SampleItems, pagination.DefaultConfig())
//	pages, err := collector.CollectAll(ctx)
package pagination
