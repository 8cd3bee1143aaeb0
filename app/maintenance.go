package app

import (
	"log"
	"time"

	"signal-scout/config"
	"signal-scout/database"
)

// MaintenanceStore is the persistence surface the maintenance job needs.
type MaintenanceStore interface {
	DeleteNoncesBefore(cutoff time.Time) (int64, error)
	ListActiveBriefsPage(cursorID string, limit int) ([]database.OpportunityBrief, error)
	UpdateBriefFreshness(id, status string, score float64) error
}

// Maintenance periodically sweeps expired ingest nonces and recomputes
// brief freshness. Briefs only ever move toward colder statuses, and
// archived briefs are left alone.
type Maintenance struct {
	store MaintenanceStore
	cfg   config.MaintenanceConfig

	ticker *time.Ticker
	done   chan bool
	now    func() time.Time
}

func NewMaintenance(store MaintenanceStore, cfg config.MaintenanceConfig) *Maintenance {
	return &Maintenance{
		store: store,
		cfg:   cfg,
		done:  make(chan bool),
		now:   time.Now,
	}
}

// Start launches the periodic maintenance loop.
func (m *Maintenance) Start() {
	interval := time.Duration(m.cfg.IntervalMinutes) * time.Minute
	m.ticker = time.NewTicker(interval)
	log.Printf("🔄 Maintenance job started (every %s)", interval)

	go func() {
		for {
			select {
			case <-m.done:
				return
			case <-m.ticker.C:
				m.RunOnce()
			}
		}
	}()
}

// Stop halts the maintenance loop.
func (m *Maintenance) Stop() {
	if m.ticker != nil {
		m.ticker.Stop()
	}
	m.done <- true
	log.Println("🛑 Maintenance job stopped")
}

// RunOnce performs one maintenance pass. Each task is independent; a
// failing task is logged and does not block the others.
func (m *Maintenance) RunOnce() {
	m.sweepNonces()
	m.decayBriefs()
}

func (m *Maintenance) sweepNonces() {
	cutoff := m.now().UTC().Add(-time.Duration(m.cfg.NonceTTLMinutes) * time.Minute)
	deleted, err := m.store.DeleteNoncesBefore(cutoff)
	if err != nil {
		log.Printf("⚠️  Nonce sweep failed: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("🧹 Swept %d expired ingest nonces", deleted)
	}
}

// decayBriefs walks every non-archived brief in pages and writes back
// the decayed freshness score and status where they changed.
func (m *Maintenance) decayBriefs() {
	now := m.now().UTC()
	cursor := ""
	updated := 0
	for {
		page, err := m.store.ListActiveBriefsPage(cursor, m.cfg.BatchSize)
		if err != nil {
			log.Printf("⚠️  Freshness decay page failed: %v", err)
			return
		}
		for i := range page {
			brief := &page[i]
			score, status := Freshness(now.Sub(brief.CreatedAt))
			if score == brief.FreshnessScore && status == brief.Status {
				continue
			}
			if err := m.store.UpdateBriefFreshness(brief.ID, status, score); err != nil {
				log.Printf("⚠️  Freshness update for brief %s failed: %v", brief.ID, err)
				continue
			}
			updated++
		}
		if len(page) < m.cfg.BatchSize {
			break
		}
		cursor = page[len(page)-1].ID
	}
	if updated > 0 {
		log.Printf("🕓 Freshness recomputed for %d briefs", updated)
	}
}
