package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// DefaultNotifyPendingAfter is how long a payment may sit in pending state
// before the stuck-payment sweep starts complaining about it.
const DefaultNotifyPendingAfter = 24 * time.Hour

// Manager runs the scheduler and the stuck-payment sweep on tickers. It is
// the background counterpart of the cron entry point and can be started and
// stopped repeatedly.
type Manager struct {
	scheduler      *Scheduler
	chargeInterval time.Duration
	sweepInterval  time.Duration
	pendingAfter   time.Duration

	chargeTicker *time.Ticker
	sweepTicker  *time.Ticker
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	running      bool
}

// NewManager wires a manager around a scheduler.
func NewManager(s *Scheduler, chargeInterval, sweepInterval time.Duration) *Manager {
	if chargeInterval <= 0 {
		chargeInterval = 15 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}
	return &Manager{
		scheduler:      s,
		chargeInterval: chargeInterval,
		sweepInterval:  sweepInterval,
		pendingAfter:   DefaultNotifyPendingAfter,
	}
}

// Start starts the background workers.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate the stop channel so the manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Scheduler Manager] Starting background charging")

	m.chargeTicker = time.NewTicker(m.chargeInterval)
	m.wg.Add(1)
	go m.chargeWorker()

	m.sweepTicker = time.NewTicker(m.sweepInterval)
	m.wg.Add(1)
	go m.sweepWorker()

	log.Info("[Scheduler Manager] Started successfully")
}

// Stop stops the background workers and waits for them to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Scheduler Manager] Stopping background charging...")

	if m.chargeTicker != nil {
		m.chargeTicker.Stop()
	}
	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}

	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	log.Info("[Scheduler Manager] Stopped successfully")
}

// IsRunning reports whether the manager is currently running.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) chargeWorker() {
	defer m.wg.Done()
	log.Infof("[Scheduler Manager] Charge worker started (interval: %s)", m.chargeInterval)
	for {
		select {
		case <-m.stopCh:
			log.Info("[Scheduler Manager] Charge worker stopping")
			return
		case <-m.chargeTicker.C:
			if err := m.scheduler.Run(context.Background(), time.Now().UTC()); err != nil {
				log.Errorf("[Scheduler Manager] Charge run failed: %v", err)
			}
		}
	}
}

func (m *Manager) sweepWorker() {
	defer m.wg.Done()
	log.Infof("[Scheduler Manager] Stuck payment sweep started (interval: %s)", m.sweepInterval)
	for {
		select {
		case <-m.stopCh:
			log.Info("[Scheduler Manager] Stuck payment sweep stopping")
			return
		case <-m.sweepTicker.C:
			m.sweepStuckPayments()
		}
	}
}

// sweepStuckPayments complains about payments that sit in pending state for
// too long; initial payments without a subscription are abandoned carts and
// ignored.
func (m *Manager) sweepStuckPayments() {
	cutoff := time.Now().UTC().Add(-m.pendingAfter)
	stuck, err := m.scheduler.store.PendingPaymentsOlderThan(cutoff)
	if err != nil {
		log.Errorf("[Scheduler Manager] Stuck payment query failed: %v", err)
		return
	}
	for i := range stuck {
		log.Errorf("[Scheduler Manager] Payment stuck in pending state: %s", &stuck[i])
	}
}
