// Package crm pulls lead changes out of Salesforce and feeds them into
// the event gateway as lead_updated events. Salesforce stays the system
// of record; the engine only caches what arrives here.
package crm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-alerts/internal/model"
	sfpkg "github.com/sells-group/lead-alerts/pkg/salesforce"
)

// Ingestor accepts raw event payloads. Satisfied by the event gateway.
type Ingestor interface {
	Ingest(ctx context.Context, raw []byte) error
}

// backfillWindow bounds the first sync after a cold start.
const backfillWindow = 24 * time.Hour

// Options tunes the syncer.
type Options struct {
	Interval   time.Duration
	BatchLimit int
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 10 * time.Minute
	}
	if o.BatchLimit <= 0 {
		o.BatchLimit = 2000
	}
	return o
}

// Syncer periodically queries Salesforce for modified leads and ingests
// them. Sync position advances only past leads that were ingested, so a
// failed batch is retried on the next tick.
type Syncer struct {
	client  sfpkg.Client
	ingest  Ingestor
	opts    Options
	nowFunc func() time.Time
	log     *zap.Logger

	lastSync time.Time
}

// NewSyncer builds a syncer over the given Salesforce client.
func NewSyncer(client sfpkg.Client, ingest Ingestor, opts Options) *Syncer {
	return &Syncer{
		client:  client,
		ingest:  ingest,
		opts:    opts.withDefaults(),
		nowFunc: time.Now,
		log:     zap.L().With(zap.String("component", "crm")),
	}
}

// Run syncs once immediately, then on every tick until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	if err := s.SyncOnce(ctx); err != nil {
		s.log.Warn("initial sync failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.SyncOnce(ctx); err != nil {
				s.log.Warn("sync failed", zap.Error(err))
			}
		}
	}
}

// SyncOnce pulls one batch of modified leads and ingests them.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	since := s.lastSync
	if since.IsZero() {
		since = s.nowFunc().Add(-backfillWindow)
	}

	leads, err := sfpkg.LeadsModifiedSince(ctx, s.client, since, s.opts.BatchLimit)
	if err != nil {
		return eris.Wrap(err, "crm: fetch modified leads")
	}
	if len(leads) == 0 {
		return nil
	}

	var ingested int
	watermark := s.lastSync
	for _, l := range leads {
		raw, err := leadEvent(l)
		if err != nil {
			s.log.Warn("skipping lead", zap.String("leadId", l.ID), zap.Error(err))
			continue
		}
		if err := s.ingest.Ingest(ctx, raw); err != nil {
			// Leave the watermark at its pre-batch value so the whole
			// batch, this lead included, is re-fetched next cycle.
			// Replayed lead_updated events are idempotent upserts.
			return eris.Wrapf(err, "crm: ingest lead %s", l.ID)
		}
		ingested++
		if mod, ok := parseSFTime(l.LastModifiedDate); ok && mod.After(watermark) {
			watermark = mod
		}
	}
	s.lastSync = watermark

	s.log.Info("synced leads",
		zap.Int("fetched", len(leads)),
		zap.Int("ingested", ingested),
		zap.Time("watermark", watermark))
	return nil
}

// leadEvent converts a Salesforce lead into a lead_updated event payload.
func leadEvent(l sfpkg.Lead) ([]byte, error) {
	if l.ID == "" {
		return nil, eris.New("crm: lead has no id")
	}

	updates := map[string]any{}
	if name := strings.TrimSpace(l.FirstName + " " + l.LastName); name != "" {
		updates["name"] = name
	}
	if l.Company != "" {
		updates["company"] = l.Company
	}
	if l.OwnerID != "" {
		updates["owner"] = l.OwnerID
	}
	if st, ok := leadStatus(l.Status); ok {
		updates["status"] = st
	}
	if l.EstimatedValue > 0 {
		updates["estimatedValue"] = l.EstimatedValue
	}
	if l.ConversionProbability > 0 {
		updates["conversionProbability"] = l.ConversionProbability
	}
	if contact, ok := parseSFTime(l.LastActivityDate); ok {
		updates["lastContact"] = contact.Format(time.RFC3339)
	}

	return json.Marshal(map[string]any{
		"type":    "lead_updated",
		"leadId":  l.ID,
		"updates": updates,
	})
}

// leadStatus maps Salesforce lead status picklist values onto pipeline
// stages. Unmapped values leave the cached status untouched.
func leadStatus(s string) (model.LeadStatus, bool) {
	switch {
	case s == "":
		return "", false
	case strings.Contains(s, "Not Contacted"):
		return model.LeadStatusNew, true
	case strings.Contains(s, "Contacted"), strings.Contains(s, "Working"):
		return model.LeadStatusContacted, true
	case strings.Contains(s, "Qualified"), strings.Contains(s, "Nurturing"):
		return model.LeadStatusQualified, true
	case strings.Contains(s, "Negotiat"), strings.Contains(s, "Proposal"):
		return model.LeadStatusNegotiating, true
	case strings.Contains(s, "Converted"), strings.Contains(s, "Closed - Won"):
		return model.LeadStatusConverted, true
	case strings.Contains(s, "Unqualified"), strings.Contains(s, "Closed - Lost"):
		return model.LeadStatusLost, true
	default:
		return "", false
	}
}

// sfTimeLayouts are the timestamp shapes Salesforce emits: full datetimes
// with millisecond offsets, RFC3339, and bare dates for activity fields.
var sfTimeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	time.RFC3339,
	"2006-01-02",
}

func parseSFTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range sfTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
