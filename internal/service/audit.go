package service

import (
	"context"
	"log"
	"time"

	"github.com/pathlane/usage-gate/internal/models"
	"github.com/pathlane/usage-gate/internal/repository"
)

// AuditLogger records admission decisions asynchronously. Decisions go
// through a buffered channel and are batch-inserted; when the buffer is
// full the decision is dropped rather than blocking the request path.
type AuditLogger struct {
	repo    *repository.AdmissionLogRepository
	entries chan models.AdmissionLog
	stop    chan struct{}
	done    chan struct{}
}

func NewAuditLogger(repo *repository.AdmissionLogRepository, bufferSize int) *AuditLogger {
	if bufferSize <= 0 {
		bufferSize = 1024
	}

	a := &AuditLogger{
		repo:    repo,
		entries: make(chan models.AdmissionLog, bufferSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go a.run()

	return a
}

func (a *AuditLogger) run() {
	defer close(a.done)

	batch := make([]models.AdmissionLog, 0, 100)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := a.repo.CreateBatch(context.Background(), batch); err != nil {
			log.Printf("Failed to insert admission logs: %v", err)
		}
		batch = make([]models.AdmissionLog, 0, 100)
	}

	for {
		select {
		case entry := <-a.entries:
			batch = append(batch, entry)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-a.stop:
			// Drain whatever is queued before exiting
			for {
				select {
				case entry := <-a.entries:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Record queues one decision for insertion
func (a *AuditLogger) Record(entry models.AdmissionLog) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	select {
	case a.entries <- entry:
	default:
		log.Println("Admission log buffer full, dropping entry")
	}
}

// Close flushes pending entries and stops the worker
func (a *AuditLogger) Close() {
	close(a.stop)
	<-a.done
}
