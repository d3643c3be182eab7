package remote

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"anpr-pipeline/internal/domain/anpr"
)

// Row is one line of the reconciled display table.
type Row struct {
	Date       string `json:"date"`
	Time       string `json:"time"`
	Plate      string `json:"plate"`
	Confidence string `json:"confidence"`
}

// Reconciler holds the display view of the store's records. A successful
// Refresh replaces the view wholesale; a failed one leaves it as it was.
// It never touches the ledger.
type Reconciler struct {
	lister PlateLister
	log    zerolog.Logger

	mu          sync.RWMutex
	records     []anpr.RemoteRecord
	refreshedAt time.Time
}

func NewReconciler(lister PlateLister, log zerolog.Logger) *Reconciler {
	return &Reconciler{lister: lister, log: log}
}

func (r *Reconciler) Refresh(ctx context.Context) ([]anpr.RemoteRecord, error) {
	records, err := r.lister.ListPlates(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to fetch plates from store, keeping current view")
		return nil, err
	}

	r.mu.Lock()
	r.records = records
	r.refreshedAt = time.Now()
	r.mu.Unlock()

	r.log.Info().Int("count", len(records)).Msg("display view replaced from store")
	return records, nil
}

func (r *Reconciler) Records() []anpr.RemoteRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]anpr.RemoteRecord, len(r.records))
	copy(out, r.records)
	return out
}

func (r *Reconciler) RefreshedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refreshedAt
}

// Rows renders the view with the confidence placeholder.
func (r *Reconciler) Rows() []Row {
	records := r.Records()
	rows := make([]Row, len(records))
	for i, rec := range records {
		rows[i] = Row{
			Date:       rec.EntryDate,
			Time:       rec.EntryTime,
			Plate:      rec.NumberPlate,
			Confidence: anpr.ConfidencePlaceholder,
		}
	}
	return rows
}
