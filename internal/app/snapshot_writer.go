package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"mentara-client/internal/domain"
)

const snapshotWriteTimeout = 5 * time.Second

type snapshotJob struct {
	snapshot domain.Snapshot
	remove   bool
}

// snapshotWriter persists snapshots off the session goroutine. It holds at
// most one pending job; a newer snapshot replaces an unwritten older one.
type snapshotWriter struct {
	store   SnapshotStore
	log     zerolog.Logger
	pending chan snapshotJob
	done    chan struct{}
}

func newSnapshotWriter(store SnapshotStore, log zerolog.Logger) *snapshotWriter {
	return &snapshotWriter{
		store:   store,
		log:     log,
		pending: make(chan snapshotJob, 1),
		done:    make(chan struct{}),
	}
}

func (w *snapshotWriter) start() {
	go func() {
		defer close(w.done)
		for job := range w.pending {
			w.write(job)
		}
	}()
}

// enqueue must only be called from the session goroutine.
func (w *snapshotWriter) enqueue(job snapshotJob) {
	select {
	case w.pending <- job:
	default:
		// drop the stale job so the writer only ever sees the latest state
		select {
		case <-w.pending:
		default:
		}
		w.pending <- job
	}
}

// close flushes the pending job and waits for the writer to exit.
func (w *snapshotWriter) close() {
	close(w.pending)
	<-w.done
}

// write swallows failures: the snapshot is a resume convenience only.
func (w *snapshotWriter) write(job snapshotJob) {
	if w.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), snapshotWriteTimeout)
	defer cancel()

	var err error
	if job.remove {
		err = w.store.Delete(ctx, job.snapshot.AttemptID)
	} else {
		err = w.store.Save(ctx, job.snapshot)
	}
	if err != nil {
		w.log.Debug().Err(err).Str("attempt_id", job.snapshot.AttemptID.String()).Msg("snapshot write failed")
	}
}
