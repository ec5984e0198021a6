package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
	"github.com/ericfisherdev/buildpulse/internal/domain/port/driven"
)

const (
	defaultDeliveryTimeout = 5 * time.Second
	defaultLogExcerpt      = 500
)

// AlertPolicy tunes alert content and delivery.
type AlertPolicy struct {
	DeliveryTimeout time.Duration // Upper bound for one transport call.
	LogExcerptChars int           // Leading characters of the build logs copied into the alert.
	NotifyRecovery  bool          // Send a recovery notice when an alerted key goes green.
}

// DeliveryStats counts transport calls since startup.
type DeliveryStats struct {
	Attempted int64
	Failed    int64
}

// AlertDispatcher deduplicates failure alerts per (pipeline, repo) and hands
// the survivors to every configured transport. The suppression map is only
// ever touched under mu.
type AlertDispatcher struct {
	mu         sync.Mutex
	records    map[model.SuppressionKey]*model.SuppressionRecord
	transports []driven.AlertTransport
	policy     AlertPolicy
	now        func() time.Time
	logger     *slog.Logger

	attempted atomic.Int64
	failed    atomic.Int64
}

// NewAlertDispatcher creates an AlertDispatcher. Zero policy fields fall back
// to defaults.
func NewAlertDispatcher(transports []driven.AlertTransport, policy AlertPolicy, logger *slog.Logger) *AlertDispatcher {
	if policy.DeliveryTimeout <= 0 {
		policy.DeliveryTimeout = defaultDeliveryTimeout
	}
	if policy.LogExcerptChars <= 0 {
		policy.LogExcerptChars = defaultLogExcerpt
	}
	return &AlertDispatcher{
		records:    make(map[model.SuppressionKey]*model.SuppressionRecord),
		transports: transports,
		policy:     policy,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
}

// Evaluate applies the suppression state machine to a newly stored event and
// returns the alert to deliver, or nil when nothing should be sent. The state
// transition is final: a later delivery failure does not undo it.
func (d *AlertDispatcher) Evaluate(event model.BuildEvent) *model.Alert {
	key := model.SuppressionKey{Pipeline: event.Pipeline, Repo: event.Repo}
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	rec := d.records[key]

	switch event.Status {
	case model.BuildStatusFailure:
		if rec != nil && rec.State == model.SuppressionAlerted {
			rec.LastStatus = event.Status
			rec.LastDecisionAt = now
			rec.SuppressedCount++
			d.logger.Info("failure alert suppressed",
				"pipeline", key.Pipeline,
				"repo", key.Repo,
				"build_id", event.ID,
				"suppressed", rec.SuppressedCount,
			)
			return nil
		}
		if rec == nil {
			rec = &model.SuppressionRecord{Key: key}
			d.records[key] = rec
		}
		rec.State = model.SuppressionAlerted
		rec.LastStatus = event.Status
		rec.LastAlertedAt = now
		rec.LastDecisionAt = now
		rec.SuppressedCount = 0
		alert := d.failureAlert(event, now)
		return &alert

	case model.BuildStatusSuccess:
		if rec == nil || rec.State != model.SuppressionAlerted {
			return nil
		}
		rec.State = model.SuppressionClear
		rec.LastStatus = event.Status
		rec.LastDecisionAt = now
		d.logger.Info("pipeline recovered, alert suppression cleared",
			"pipeline", key.Pipeline,
			"repo", key.Repo,
			"build_id", event.ID,
		)
		if !d.policy.NotifyRecovery {
			return nil
		}
		alert := d.recoveryAlert(event, now)
		return &alert
	}

	// Cancelled and in-progress runs never move the state machine.
	return nil
}

// Deliver sends alert through every transport, each bounded by the delivery
// timeout. Failures are logged, counted and returned joined; they are never
// retried here and do not affect the other transports.
func (d *AlertDispatcher) Deliver(ctx context.Context, alert model.Alert) error {
	var errs []error

	for _, t := range d.transports {
		d.attempted.Add(1)

		tctx, cancel := context.WithTimeout(ctx, d.policy.DeliveryTimeout)
		err := t.Deliver(tctx, alert)
		cancel()

		if err != nil {
			d.failed.Add(1)
			derr := &model.DeliveryError{Channel: t.Name(), Err: err}
			d.logger.Error("alert delivery failed",
				"transport", t.Name(),
				"alert_id", alert.ID,
				"pipeline", alert.Event.Pipeline,
				"repo", alert.Event.Repo,
				"error", derr,
			)
			errs = append(errs, derr)
			continue
		}

		d.logger.Info("alert delivered",
			"transport", t.Name(),
			"alert_id", alert.ID,
			"kind", alert.Kind,
			"pipeline", alert.Event.Pipeline,
			"repo", alert.Event.Repo,
		)
	}

	return errors.Join(errs...)
}

// Records returns a copy of every suppression record, ordered by pipeline then repo.
func (d *AlertDispatcher) Records() []model.SuppressionRecord {
	d.mu.Lock()
	out := make([]model.SuppressionRecord, 0, len(d.records))
	for _, rec := range d.records {
		out = append(out, *rec)
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Pipeline != out[j].Key.Pipeline {
			return out[i].Key.Pipeline < out[j].Key.Pipeline
		}
		return out[i].Key.Repo < out[j].Key.Repo
	})
	return out
}

// Stats returns delivery counters.
func (d *AlertDispatcher) Stats() DeliveryStats {
	return DeliveryStats{
		Attempted: d.attempted.Load(),
		Failed:    d.failed.Load(),
	}
}

func (d *AlertDispatcher) failureAlert(event model.BuildEvent, now time.Time) model.Alert {
	var b strings.Builder
	writeAlertFields(&b, event)

	if logs := excerpt(event.Logs, d.policy.LogExcerptChars); logs != "" {
		b.WriteString("\n**Logs:**\n\n```\n")
		b.WriteString(logs)
		b.WriteString("\n```\n")
	}

	return model.Alert{
		ID:        uuid.NewString(),
		Kind:      model.AlertKindFailure,
		Title:     fmt.Sprintf("Pipeline failure: %s (%s)", event.Pipeline, displayRepo(event.Repo)),
		Body:      b.String(),
		Event:     event,
		CreatedAt: now,
	}
}

func (d *AlertDispatcher) recoveryAlert(event model.BuildEvent, now time.Time) model.Alert {
	var b strings.Builder
	writeAlertFields(&b, event)

	return model.Alert{
		ID:        uuid.NewString(),
		Kind:      model.AlertKindRecovery,
		Title:     fmt.Sprintf("Pipeline recovered: %s (%s)", event.Pipeline, displayRepo(event.Repo)),
		Body:      b.String(),
		Event:     event,
		CreatedAt: now,
	}
}

func writeAlertFields(b *strings.Builder, event model.BuildEvent) {
	url := event.URL
	if url == "" {
		url = "n/a"
	}
	fmt.Fprintf(b, "**Pipeline:** %s  \n", event.Pipeline)
	fmt.Fprintf(b, "**Repository:** %s  \n", displayRepo(event.Repo))
	fmt.Fprintf(b, "**Branch:** %s  \n", event.Branch)
	fmt.Fprintf(b, "**Provider:** %s  \n", event.Provider)
	fmt.Fprintf(b, "**Status:** %s  \n", event.Status)
	fmt.Fprintf(b, "**Time:** %s  \n", event.EffectiveTime().UTC().Format(time.RFC3339))
	fmt.Fprintf(b, "**Build URL:** %s\n", url)
}

func displayRepo(repo string) string {
	if repo == "" {
		return "unknown repo"
	}
	return repo
}

// excerpt returns the first n characters of s.
func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
