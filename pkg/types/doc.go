// Package types provides shared type definitions for the catalog feed pipeline.
//
// It defines the error taxonomy used across components, the ledger Action
// enum, and catalog constants (product types, visibility, status).
//
// # Errors
//
// Components wrap the sentinel errors so callers can branch with errors.Is:
//
//	if errors.Is(err, types.ErrNotFound) {
//	    // tolerated: the row was already gone
//	}
//
// Validation failures carry their messages:
//
//	var verr *types.ValidationError
//	if errors.As(err, &verr) {
//	    for _, msg := range verr.Messages {
//	        log.Println(msg)
//	    }
//	}
//
// # Actions
//
// Ledger actions always cross the storage boundary as strings:
//
//	a, err := types.ParseAction("upsert") // types.ActionUpsert
package types
