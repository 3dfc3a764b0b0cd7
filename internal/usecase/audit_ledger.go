package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	cryptoinfra "github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/infra/crypto"
)

type AuditEventInput struct {
	ObjectType string
	ObjectID   string
	Action     domain.AuditAction
	Payload    map[string]any
	OccurredAt time.Time
}

// AuditLedger appends lifecycle events to per-tenant hash chains and
// verifies them.
type AuditLedger struct {
	Store  AuditEventStore
	Clock  Clock
	Logger *slog.Logger
}

// ComputeAuditEventHash hashes the plain concatenation of the previous event
// hash (empty for the first event), occurred_at, object_type, object_id,
// action and the serialized payload. It intentionally does not use the
// structural canonicalizer; existing ledgers depend on this exact form.
func ComputeAuditEventHash(event domain.AuditEvent) string {
	return cryptoinfra.ConcatSHA256Hex(
		derefString(event.PrevEventHash),
		domain.FormatTimestamp(event.OccurredAt),
		event.ObjectType,
		event.ObjectID,
		string(event.Action),
		event.Payload,
	)
}

func (l *AuditLedger) Append(ctx context.Context, tenant domain.TenantID, in AuditEventInput) (domain.AuditEvent, error) {
	if err := tenant.Require(); err != nil {
		return domain.AuditEvent{}, err
	}
	if l.Store == nil {
		return domain.AuditEvent{}, errors.New("audit store is required")
	}
	if err := validateAuditInput(in); err != nil {
		return domain.AuditEvent{}, err
	}
	payload := in.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	serialized, err := cryptoinfra.CanonicalizeAny(payload)
	if err != nil {
		return domain.AuditEvent{}, fmt.Errorf("%w: payload: %v", domain.ErrInvalidInput, err)
	}
	eventID, err := newTimeOrderedID()
	if err != nil {
		return domain.AuditEvent{}, err
	}
	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = l.Clock.now()
	}
	occurredAt = occurredAt.UTC().Truncate(time.Microsecond)

	event, err := l.Store.AppendLinked(ctx, tenant.String(), func(tail *domain.AuditEvent) (domain.AuditEvent, error) {
		event := domain.AuditEvent{
			EventID:    eventID,
			TenantID:   tenant.String(),
			Seq:        1,
			OccurredAt: occurredAt,
			ObjectType: in.ObjectType,
			ObjectID:   in.ObjectID,
			Action:     in.Action,
			Payload:    string(serialized),
		}
		if tail != nil {
			prev := tail.EventHash
			event.PrevEventHash = &prev
			event.Seq = tail.Seq + 1
			// Chain order is occurred_at order; keep it strictly increasing.
			if !event.OccurredAt.After(tail.OccurredAt) {
				event.OccurredAt = tail.OccurredAt.Add(time.Microsecond)
			}
		}
		event.EventHash = ComputeAuditEventHash(event)
		return event, nil
	})
	if err != nil {
		return domain.AuditEvent{}, err
	}
	if l.Logger != nil {
		l.Logger.Info("audit event appended",
			"tenant_id", event.TenantID,
			"event_id", event.EventID,
			"action", string(event.Action),
			"event_hash", event.EventHash,
		)
	}
	return event, nil
}

func (l *AuditLedger) VerifyTenant(ctx context.Context, tenant domain.TenantID) (domain.LedgerReport, error) {
	if err := tenant.Require(); err != nil {
		return domain.LedgerReport{}, err
	}
	events, err := l.Store.ListByTenant(ctx, tenant.String())
	if err != nil {
		return domain.LedgerReport{}, err
	}
	return VerifyLedger(events), nil
}

func (l *AuditLedger) VerifyAll(ctx context.Context) (domain.LedgerReport, error) {
	events, err := l.Store.ListAll(ctx)
	if err != nil {
		return domain.LedgerReport{}, err
	}
	return VerifyLedger(events), nil
}

// VerifyLedger checks every tenant sub-chain in events, ordered by
// occurred_at then event_id. It needs no storage and reports identifiers and
// hashes only.
func VerifyLedger(events []domain.AuditEvent) domain.LedgerReport {
	ordered := append([]domain.AuditEvent(nil), events...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.TenantID != b.TenantID {
			return a.TenantID < b.TenantID
		}
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		return a.EventID < b.EventID
	})

	report := domain.LedgerReport{
		TotalEvents:  len(ordered),
		TenantCounts: map[string]int{},
		Errors:       []domain.LedgerError{},
	}
	index := 0
	var previous *domain.AuditEvent
	for i := range ordered {
		event := ordered[i]
		if previous != nil && previous.TenantID != event.TenantID {
			previous = nil
		}
		if previous == nil {
			index = 0
		}
		report.TenantCounts[event.TenantID]++

		failed := false
		computed := ComputeAuditEventHash(event)
		if computed != event.EventHash {
			failed = true
			report.Errors = append(report.Errors, ledgerError(event, index, domain.LedgerErrorHashMismatch, event.EventHash, computed))
		}
		expectedPrev := ""
		if previous != nil {
			expectedPrev = previous.EventHash
		}
		if derefString(event.PrevEventHash) != expectedPrev || (previous == nil) != (event.PrevEventHash == nil) {
			failed = true
			report.Errors = append(report.Errors, ledgerError(event, index, domain.LedgerErrorChainBreak, expectedPrev, derefString(event.PrevEventHash)))
		}
		if !failed {
			report.VerifiedEvents++
		}
		previous = &ordered[i]
		index++
	}
	report.TenantCount = len(report.TenantCounts)
	report.Valid = len(report.Errors) == 0
	return report
}

func ledgerError(event domain.AuditEvent, index int, kind, expected, computed string) domain.LedgerError {
	return domain.LedgerError{
		EventID:   event.EventID,
		TenantID:  event.TenantID,
		Index:     index,
		Error:     kind,
		Expected:  expected,
		Computed:  computed,
		Timestamp: domain.FormatTimestamp(event.OccurredAt),
	}
}

func validateAuditInput(in AuditEventInput) error {
	var problems []string
	if strings.TrimSpace(in.ObjectType) == "" {
		problems = append(problems, "object_type is required")
	}
	if strings.TrimSpace(in.ObjectID) == "" {
		problems = append(problems, "object_id is required")
	}
	if !in.Action.Valid() {
		problems = append(problems, fmt.Sprintf("unknown action %q", in.Action))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}
