// Package search feeds entities into the full-text index in bounded,
// job-supervised ranges.
//
// # Flow
//
// A reindex request creates one unique root job. For each entity class a
// delayed child job splits the class into disjoint ranges and publishes
// one range message per range, each carrying its own delayed job:
//
//	search.reindex -> search.index_entities_by_type -> search.index_entities_by_range
//
// RangeProcessor handles the last topic. It validates the message, resolves
// the manager of the class, loads [offset, offset+limit) and hands the batch
// to the Indexer, all inside JobRunner.RunDelayed, and acknowledges the
// message only when the job reports success.
//
// # Index backends
//
// PostgresIndexer upserts into entity_search_index and searches with
// PostgreSQL full-text search. BleveIndexer keeps an embedded bleve index,
// on disk or in memory. Both replace the document of an entity on rewrite,
// so ranges can be processed in any order and any number of times.
//
// # Query syntax
//
//	lamp                 free text
//	lamp class:product   restrict to a class
//	lamp OR desk         either term
//	lamp NOT broken      exclude a term
//	sku:SKU-1            match an entity field
package search
