// Package audit periodically builds the key package report of the bot's own
// inbox and logs it.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/zhaopengme/keycheck/pkg/logger"
	"github.com/zhaopengme/keycheck/pkg/report"
)

// Reporter builds a fresh report for an inbox. found is false when the
// network has no state for it.
type Reporter interface {
	BuildReport(ctx context.Context, inboxID string) (r report.InboxReport, found bool, err error)
}

type Service struct {
	expr     string
	inboxID  func() string
	reporter Reporter
	now      func() time.Time

	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
	last     *report.InboxReport
}

// NewService validates expr, a five-field cron expression, and returns a
// stopped service. inboxID is read at every run so a reconnect that changes
// identity is picked up.
func NewService(expr string, inboxID func() string, reporter Reporter) (*Service, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid audit cron expression %q", expr)
	}
	return &Service{
		expr:     expr,
		inboxID:  inboxID,
		reporter: reporter,
		now:      time.Now,
	}, nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopChan != nil {
		logger.InfoC("audit", "Audit service already running")
		return nil
	}

	next, err := s.nextRun()
	if err != nil {
		return err
	}

	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	go s.runLoop(ctx, s.stopChan, s.done)

	logger.InfoCF("audit", "Audit service started", map[string]interface{}{
		"cron":     s.expr,
		"next_run": next.Format(time.RFC3339),
	})
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	stop, done := s.stopChan, s.done
	s.stopChan, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	logger.InfoC("audit", "Audit service stopped")
}

// LastReport returns the most recent successful report, if any.
func (s *Service) LastReport() (report.InboxReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return report.InboxReport{}, false
	}
	return *s.last, true
}

func (s *Service) nextRun() (time.Time, error) {
	next, err := gronx.NextTickAfter(s.expr, s.now(), false)
	if err != nil {
		return time.Time{}, fmt.Errorf("compute next audit run: %w", err)
	}
	return next, nil
}

func (s *Service) runLoop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	for {
		next, err := s.nextRun()
		if err != nil {
			logger.ErrorCF("audit", "Stopping audit loop", map[string]interface{}{"error": err.Error()})
			return
		}

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce performs one audit. Errors are logged, never returned, so the
// schedule keeps running.
func (s *Service) runOnce(ctx context.Context) {
	inboxID := s.inboxID()
	if inboxID == "" {
		logger.WarnC("audit", "Skipping audit: own inbox id unknown")
		return
	}

	r, found, err := s.reporter.BuildReport(ctx, inboxID)
	if err != nil {
		logger.ErrorCF("audit", "Audit failed", map[string]interface{}{
			"inbox_id": inboxID,
			"error":    err.Error(),
		})
		return
	}
	if !found {
		logger.WarnCF("audit", "No inbox state for own inbox", map[string]interface{}{
			"inbox_id": inboxID,
		})
		return
	}

	s.mu.Lock()
	s.last = &r
	s.mu.Unlock()

	fields := map[string]interface{}{
		"inbox_id": inboxID,
		"total":    r.TotalInstallations,
		"valid":    r.ValidCount,
		"invalid":  r.InvalidCount,
	}
	if r.InvalidCount > 0 {
		logger.WarnCF("audit", "Own inbox has invalid key packages", fields)
		return
	}
	logger.InfoCF("audit", "Own key packages healthy", fields)
}
