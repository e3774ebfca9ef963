// Package catalog reads products, relations, options, prices and stock from
// the storefront catalog database.
//
// The catalog is owned by the storefront and is never written here. Every read
// is bulk: id lists are bound into IN (...) clauses in chunks of 100.
// Store-scoped values (attributes, prices, option labels) are resolved by
// overlaying the store's rows on the default scope (store 0).
//
// Collection streams a filtered product set in ascending id order with keyset
// pagination, so only one batch is in memory at a time:
//
//	coll := catalog.NewCollection(src, catalog.Query{StoreID: 1, OnlyEnabled: true})
//	for batch, err := range coll.Batches(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    // handle batch
//	}
package catalog
