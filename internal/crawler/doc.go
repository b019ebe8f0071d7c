// Package crawler defines the records, fetch outcomes, and collaborator
// interfaces shared by the catalog indexer, the record extractor, and the
// crawl pipeline, plus the robots.txt policy used by the fetcher.
package crawler
