package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"stealthcompany.com/hisextract/internal/artifact"
	"stealthcompany.com/hisextract/internal/his"
	"stealthcompany.com/hisextract/internal/metrics"
	"stealthcompany.com/hisextract/internal/progress"
)

// emptyArtifactError marks a patient whose reports came back structurally
// valid but with zero pages. Soft outcome: recorded distinctly from a hard
// failure, but never as success.
type emptyArtifactError struct {
	bundles []string
}

func (e *emptyArtifactError) Error() string {
	return "empty artifact: " + strings.Join(e.bundles, ", ")
}

// processPatient runs the full per-patient pipeline. The ordering invariant
// is local to the patient: resolve, then enumerate, then exchange. The portal
// client is the worker's paced copy, so every request it issues honors the
// inter-request delay.
func (o *Orchestrator) processPatient(ctx context.Context, folder string, portal *his.Client) error {
	if err := o.markInProgress(ctx, folder); err != nil {
		return err
	}

	var record *his.PatientRecord
	err := o.withRetry(ctx, func() error {
		var rerr error
		record, rerr = portal.ResolvePatient(ctx, folder)
		return rerr
	})
	if err != nil {
		return err
	}

	log.Debug().
		Str("folder", folder).
		Int("patient_id", record.InternalID).
		Str("name", record.DisplayName).
		Msg("Patient resolved")

	var consultations []his.Consultation
	err = o.withRetry(ctx, func() error {
		var lerr error
		consultations, lerr = portal.ListConsultations(ctx, record.InternalID)
		return lerr
	})
	if err != nil {
		return err
	}

	var admissions []his.Admission
	err = o.withRetry(ctx, func() error {
		var lerr error
		admissions, lerr = portal.ListAdmissions(ctx, record.InternalID)
		return lerr
	})
	if err != nil {
		return err
	}

	set, err := o.writer.Patient(folder)
	if err != nil {
		return err
	}

	var empty []string

	// One consolidated OPD report for all consultations; the bundling rule is
	// the portal's contract, not ours to change.
	if len(consultations) > 0 {
		integrity, err := o.fetchOPD(ctx, portal, record, consultations, set)
		if err != nil {
			return err
		}
		switch integrity {
		case artifact.IntegrityEmpty:
			empty = append(empty, "opd")
		case artifact.IntegrityMalformed:
			return fmt.Errorf("opd report for %s is malformed", folder)
		}
	}

	// One IPD report per admission.
	for _, adm := range admissions {
		integrity, err := o.fetchIPD(ctx, portal, record, adm, set)
		if err != nil {
			return err
		}
		switch integrity {
		case artifact.IntegrityEmpty:
			empty = append(empty, fmt.Sprintf("ipd-%d", adm.AdmitID))
		case artifact.IntegrityMalformed:
			return fmt.Errorf("ipd report %d for %s is malformed", adm.AdmitID, folder)
		}
	}

	if err := set.Finalize(); err != nil {
		return err
	}

	if len(empty) > 0 {
		return &emptyArtifactError{bundles: empty}
	}
	return nil
}

func (o *Orchestrator) fetchOPD(ctx context.Context, portal *his.Client, record *his.PatientRecord, consultations []his.Consultation, set *artifact.PatientSet) (artifact.Integrity, error) {
	var data []byte
	err := o.withRetry(ctx, func() error {
		// Tokens are single-use and session-scoped, so request and redeem
		// inside the same attempt; a fresh attempt gets a fresh token.
		token, terr := portal.RequestConsultationReport(ctx, record.InternalID, consultations)
		if terr != nil {
			return terr
		}
		data, terr = portal.RedeemToken(ctx, token)
		return terr
	})
	if err != nil {
		return artifact.IntegrityMalformed, err
	}
	return set.WriteOPD(data, consultations)
}

func (o *Orchestrator) fetchIPD(ctx context.Context, portal *his.Client, record *his.PatientRecord, adm his.Admission, set *artifact.PatientSet) (artifact.Integrity, error) {
	var data []byte
	err := o.withRetry(ctx, func() error {
		token, terr := portal.RequestAdmissionReport(ctx, record.InternalID, adm)
		if terr != nil {
			return terr
		}
		data, terr = portal.RedeemToken(ctx, token)
		return terr
	})
	if err != nil {
		return artifact.IntegrityMalformed, err
	}
	return set.WriteIPD(data, adm)
}

// withRetry retries transient failures with bounded attempts and backoff.
// Definitive outcomes (not found, ambiguous, auth-fatal) return immediately.
// Pacing happens inside the portal client, per request.
func (o *Orchestrator) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		err = fn()
		if err == nil || !his.IsRetryable(err) {
			return err
		}
		if attempt < o.cfg.MaxAttempts {
			log.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_attempts", o.cfg.MaxAttempts).
				Msg("Transient failure, backing off")
			if serr := sleepCtx(ctx, backoff(attempt)); serr != nil {
				return serr
			}
		}
	}
	return err
}

// markInProgress flips the entry to inProgress and bumps the attempt count,
// durably, before any remote work happens.
func (o *Orchestrator) markInProgress(ctx context.Context, folder string) error {
	o.entriesMu.Lock()
	entry, ok := o.entries[folder]
	if !ok {
		entry = &progress.Entry{FolderNumber: folder}
		o.entries[folder] = entry
	}
	entry.Status = progress.StatusInProgress
	entry.AttemptCount++
	entry.LastAttemptAt = time.Now().UTC()
	entry.FailureReason = ""
	snapshot := *entry
	o.entriesMu.Unlock()

	return o.store.Upsert(ctx, &snapshot)
}

// recordOutcome maps the per-patient result onto a terminal progress status.
// This is the single place that decides patient-scoped severity.
func (o *Orchestrator) recordOutcome(ctx context.Context, folder string, err error) {
	var status progress.Status
	var reason string

	var ambiguous *his.AmbiguousMatchError
	var emptyArt *emptyArtifactError

	switch {
	case err == nil:
		status = progress.StatusSucceeded
	case errors.Is(err, context.Canceled):
		status = progress.StatusPending
		reason = "interrupted by shutdown"
	case errors.Is(err, his.ErrNotFound):
		status = progress.StatusSkipped
		reason = "patient not found"
	case errors.As(err, &ambiguous):
		status = progress.StatusSkipped
		reason = ambiguous.Error()
	case errors.As(err, &emptyArt):
		status = progress.StatusSkipped
		reason = emptyArt.Error()
	default:
		status = progress.StatusFailed
		reason = err.Error()
	}

	o.entriesMu.Lock()
	entry, ok := o.entries[folder]
	if !ok {
		entry = &progress.Entry{FolderNumber: folder}
		o.entries[folder] = entry
	}
	entry.Status = status
	entry.FailureReason = reason
	entry.LastAttemptAt = time.Now().UTC()
	snapshot := *entry
	o.entriesMu.Unlock()
	entry = &snapshot

	writeCtx := ctx
	if ctx.Err() != nil {
		// Shutdown must not lose the terminal state.
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if uerr := o.store.Upsert(writeCtx, entry); uerr != nil {
		log.Error().Err(uerr).Str("folder", folder).Msg("Failed to persist patient outcome")
	}

	metrics.RecordPatientOutcome(string(entry.Status))

	evt := log.Info()
	if entry.Status == progress.StatusFailed {
		evt = log.Error()
	}
	evt.
		Str("folder", folder).
		Str("status", string(entry.Status)).
		Str("reason", entry.FailureReason).
		Msg("Patient processed")
}
