// Package store holds the staged image collections of a conversion session.
//
// Entities move uploaded → queued → output, or to failed when conversion
// errors. Selection is tracked per entity and reset whenever an entity
// arrives in a new collection. Every transfer happens under one mutex, and
// subscribers are notified after the mutation commits so renderers can
// refresh from Snapshot without racing the processor.
package store
