// Package entity resolves entity classes to the managers that load them.
//
// A Registry binds class names to Managers. Classes are usually declared in
// a YAML mapping file and served by SQLManager:
//
//	classes:
//	  - name: product
//	    table: catalog.products
//	    id_column: id
//	    fields: [sku, name, description]
//
// BuildRegistry loads the file; WatchMappings keeps the registry in sync
// with later edits.
package entity
