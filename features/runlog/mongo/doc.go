// Package mongo persists streak-check run records in MongoDB. Use clients/mongo
// to build the low-level client and pass it to NewStore to obtain a
// runlog.Store.
package mongo
