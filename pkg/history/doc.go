// Package history keeps a durable journal of job events and per-minute
// counters in a SQL database through GORM.
//
// The journal is fed from an event stream by a Recorder; it is an audit
// trail, not a backend, and it never drives job state.
//
//	db, _ := history.OpenSQLite("jobs.db")
//	journal := history.NewGormJournal(db)
//	_ = journal.Migrate(ctx)
//	rec := history.NewRecorder(journal)
//	go rec.Run(ctx, stream)
package history
