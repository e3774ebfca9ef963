// Package attribute turns raw catalog attribute values into feed-ready values.
//
// A Resolver is stateless; each feed run calls NewSession and discards the
// session afterwards. Sessions cache attribute definitions and option maps in
// bounded LRU caches and are not safe for concurrent use.
//
// Option labels come from one of two OptionSource variants, picked from the
// attribute definition: GlobalOptions (store labels over default labels) or
// ProductOptions (labels defined per product).
package attribute
