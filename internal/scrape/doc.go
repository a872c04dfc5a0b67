// Package scrape defines the domain types and collaborator interfaces shared by
// the queue consumer, the extraction engine, and the persistence layer.
package scrape
