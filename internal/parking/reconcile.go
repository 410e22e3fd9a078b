package parking

import (
	"context"
	"log/slog"

	"parking-allocator/internal/logging"
)

type ReconcileReport struct {
	Checked     int      `json:"checked"`
	Repaired    []SlotID `json:"repaired,omitempty"`
	Orphans     []string `json:"orphans,omitempty"`
	Resynced    int      `json:"resynced"`
	PendingSync int      `json:"pending_sync"`
}

// Reconcile compares slot occupancy with the ledger's open sessions. It
// works from snapshots and only locks a slot to re-check and repair a
// mismatch, so allocation traffic is never blocked for the whole scan. The
// ledger wins: a slot is made to agree with its open session. It then
// retries storing sessions whose persistence failed earlier.
func (e *Engine) Reconcile(ctx context.Context) ReconcileReport {
	e.reconcileMu.Lock()
	defer e.reconcileMu.Unlock()

	var report ReconcileReport

	open := e.ledger.openSlots()
	views, _ := e.inventory.Snapshot("")
	report.Checked = len(views)

	seen := make(map[SlotID]bool, len(views))
	for _, v := range views {
		seen[v.ID] = true
		want := open[v.ID]
		if v.Occupied == (want != "") && v.SessionID == want {
			continue
		}
		if e.repairSlot(ctx, v.ID) {
			report.Repaired = append(report.Repaired, v.ID)
		}
	}

	for slotID, sessionID := range open {
		if seen[slotID] {
			continue
		}
		if _, ok := e.inventory.lookup(slotID); ok {
			continue
		}
		if s, ok := e.ledger.Get(sessionID); ok && s.IsOpen() {
			logging.Error(ctx, "open session references a missing slot",
				slog.String("session_id", sessionID),
				slog.String("slot", slotID.String()))
			report.Orphans = append(report.Orphans, sessionID)
		}
	}

	for _, s := range e.ledger.Unsynced() {
		err := e.retry.do(ctx, func() error {
			return syncSession(ctx, e.store, s)
		})
		if err != nil {
			report.PendingSync++
			continue
		}
		e.ledger.markSynced(s.ID, s.Status)
		report.Resynced++
	}

	if len(report.Repaired) > 0 || len(report.Orphans) > 0 {
		logging.Warn(ctx, "reconcile repaired slot state",
			slog.Int("repaired", len(report.Repaired)),
			slog.Int("orphans", len(report.Orphans)))
	}
	return report
}

// repairSlot re-reads the slot and the ledger under the slot's lock and
// fixes the slot if they still disagree.
func (e *Engine) repairSlot(ctx context.Context, id SlotID) bool {
	var repaired bool
	_ = e.inventory.withSlot(id, func(slot *Slot) error {
		s, ok := e.ledger.openForSlot(id)
		switch {
		case ok && (!slot.occupied || slot.sessionID != s.ID):
			logging.Error(ctx, "slot occupancy invariant violated",
				slog.String("slot", id.String()),
				slog.String("session_id", s.ID),
				slog.Bool("occupied", slot.occupied),
				slog.String("slot_session_id", slot.sessionID))
			slot.setOccupiedLocked(true, s.VehicleType, s.ID)
			repaired = true
		case !ok && slot.occupied:
			logging.Error(ctx, "slot occupancy invariant violated",
				slog.String("slot", id.String()),
				slog.Bool("occupied", slot.occupied),
				slog.String("slot_session_id", slot.sessionID))
			slot.setOccupiedLocked(false, "", "")
			repaired = true
		}
		return nil
	})
	return repaired
}
