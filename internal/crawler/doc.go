// Package crawler defines the domain types, sentinel errors, and collaborator
// interfaces shared by the event-scraping pipeline: sites and their crawl
// status machine, extracted events, crawl tasks, and the stores, fetchers,
// and queues the worker stages depend on.
package crawler
