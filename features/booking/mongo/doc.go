// Package mongo stores court bookings in MongoDB. Use clients/mongo to build
// the low-level client and pass it to NewStore to obtain a booking.Store.
// Documents are keyed by (user_id, date) through a unique compound index.
package mongo
