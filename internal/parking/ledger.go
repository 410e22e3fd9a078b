package parking

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Violation describes a slot whose occupancy disagrees with the ledger.
type Violation struct {
	SlotID    SlotID
	SessionID string
	Detail    string
}

var errInconsistentSlot = errors.New("slot occupancy disagrees with ledger")

// Ledger records every session. Its mutex is the innermost lock: it is
// taken while a slot lock may be held, and nothing else is locked under it.
type Ledger struct {
	inventory   *Inventory
	clock       Clock
	onViolation func(Violation)

	mu         sync.RWMutex
	sessions   map[string]*Session
	openBySlot map[SlotID]string
	openByUser map[string]int
	closed     []string
	unsynced   map[string]struct{}
	// pending holds claimed sessions whose insert has not been stored yet.
	// They keep their slot but are invisible to readers and to Close.
	pending map[string]struct{}
}

func NewLedger(inventory *Inventory, clock Clock) *Ledger {
	if clock == nil {
		clock = NewMonotonicClock(nil)
	}
	return &Ledger{
		inventory:   inventory,
		clock:       clock,
		onViolation: func(Violation) {},
		sessions:    make(map[string]*Session),
		openBySlot:  make(map[SlotID]string),
		openByUser:  make(map[string]int),
		unsynced:    make(map[string]struct{}),
		pending:     make(map[string]struct{}),
	}
}

func (l *Ledger) reportViolation(v Violation) {
	l.onViolation(v)
}

// open records a new open session. The caller holds the slot's lock.
func (l *Ledger) open(s *Session) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.openBySlot[s.SlotID]; ok {
		return fmt.Errorf("%w: slot %s already referenced by open session %s", errInconsistentSlot, s.SlotID, existing)
	}
	if _, dup := l.sessions[s.ID]; dup {
		return fmt.Errorf("%w: duplicate session id %s", ErrInvalidRequest, s.ID)
	}
	l.sessions[s.ID] = s
	l.openBySlot[s.SlotID] = s.ID
	l.openByUser[s.UserID]++
	l.pending[s.ID] = struct{}{}
	return nil
}

// commit makes a claimed session visible once it has been stored.
func (l *Ledger) commit(id string) {
	l.mu.Lock()
	delete(l.pending, id)
	l.mu.Unlock()
}

func (l *Ledger) visibleLocked(id string) (*Session, bool) {
	if _, ok := l.pending[id]; ok {
		return nil, false
	}
	s, ok := l.sessions[id]
	return s, ok
}

// discard removes a session that was never durably stored. Only open
// sessions can be discarded. The caller holds the slot's lock.
func (l *Ledger) discard(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.sessions[id]
	if !ok || s.Status != SessionOpen {
		return false
	}
	delete(l.sessions, id)
	l.releaseLocked(s)
	delete(l.unsynced, id)
	delete(l.pending, id)
	return true
}

func (l *Ledger) releaseLocked(s *Session) {
	if l.openBySlot[s.SlotID] == s.ID {
		delete(l.openBySlot, s.SlotID)
	}
	if n := l.openByUser[s.UserID]; n <= 1 {
		delete(l.openByUser, s.UserID)
	} else {
		l.openByUser[s.UserID] = n - 1
	}
}

func (l *Ledger) Get(id string) (Session, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.visibleLocked(id)
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (l *Ledger) HasOpenForUser(userID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.openByUser[userID] > 0
}

// openForSlot returns the open session referencing a slot, if any.
func (l *Ledger) openForSlot(id SlotID) (Session, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sid, ok := l.openBySlot[id]
	if !ok {
		return Session{}, false
	}
	return *l.sessions[sid], true
}

// FindOpenByPlate returns the open session for a plate. Plates compare
// case-insensitively.
func (l *Ledger) FindOpenByPlate(plate string) (Session, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, sid := range l.openBySlot {
		if s, ok := l.visibleLocked(sid); ok && strings.EqualFold(s.Plate, plate) {
			return *s, true
		}
	}
	return Session{}, false
}

func (l *Ledger) openSlots() map[SlotID]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[SlotID]string, len(l.openBySlot))
	for k, v := range l.openBySlot {
		out[k] = v
	}
	return out
}

// Close ends an open session, computes its fee and vacates its slot in one
// critical section under the slot's lock.
func (l *Ledger) Close(caller Caller, sessionID string, hourlyRate float64) (Session, error) {
	if err := ValidateRate(hourlyRate); err != nil {
		return Session{}, err
	}

	s, ok := l.Get(sessionID)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if !caller.Role.Privileged() && s.UserID != caller.UserID {
		return Session{}, ErrNotPermitted
	}
	if !s.IsOpen() {
		return Session{}, ErrAlreadyClosed
	}
	return l.closeOne(sessionID, s.SlotID, hourlyRate)
}

func (l *Ledger) closeOne(sessionID string, slotID SlotID, hourlyRate float64) (Session, error) {
	var closed Session
	err := l.inventory.withSlot(slotID, func(slot *Slot) error {
		var err error
		closed, err = l.closeLocked(sessionID, hourlyRate)
		if err != nil {
			return err
		}
		if slot.sessionID != sessionID {
			l.reportViolation(Violation{
				SlotID:    slotID,
				SessionID: sessionID,
				Detail:    fmt.Sprintf("closing session but slot references %q", slot.sessionID),
			})
			return nil
		}
		slot.setOccupiedLocked(false, "", "")
		return nil
	})
	if errors.Is(err, ErrSlotNotFound) {
		l.reportViolation(Violation{SlotID: slotID, SessionID: sessionID, Detail: "open session references a missing slot"})
		return l.closeLocked(sessionID, hourlyRate)
	}
	return closed, err
}

func (l *Ledger) closeLocked(sessionID string, hourlyRate float64) (Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.visibleLocked(sessionID)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if s.Status != SessionOpen {
		return Session{}, ErrAlreadyClosed
	}

	exit := l.clock.Now()
	if exit.Before(s.EntryTime) {
		exit = s.EntryTime
	}
	s.ExitTime = &exit
	s.Fee = CalculateFee(s.EntryTime, exit, hourlyRate)
	s.Status = SessionClosed
	s.PaymentStatus = PaymentPaid
	l.releaseLocked(s)
	l.closed = append(l.closed, s.ID)
	return *s, nil
}

// CloseAll closes every session open in lotID ("" for all lots) at the time
// of the call. Sessions opened afterwards are left alone, and sessions
// closed concurrently by someone else are skipped.
func (l *Ledger) CloseAll(caller Caller, lotID string, hourlyRate float64) ([]Session, error) {
	if !caller.Role.Privileged() {
		return nil, ErrNotPermitted
	}
	if err := ValidateRate(hourlyRate); err != nil {
		return nil, err
	}

	snapshot := l.ListOpen(lotID)
	closed := make([]Session, 0, len(snapshot))
	for _, s := range snapshot {
		c, err := l.closeOne(s.ID, s.SlotID, hourlyRate)
		if errors.Is(err, ErrAlreadyClosed) || errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return closed, err
		}
		closed = append(closed, c)
	}
	return closed, nil
}

// ListOpen returns open sessions, most recent entry first. An empty lotID
// means every lot.
func (l *Ledger) ListOpen(lotID string) []Session {
	l.mu.RLock()
	out := make([]Session, 0, len(l.openBySlot))
	for slotID, id := range l.openBySlot {
		if lotID != "" && slotID.LotID != lotID {
			continue
		}
		if s, ok := l.visibleLocked(id); ok {
			out = append(out, *s)
		}
	}
	l.mu.RUnlock()

	sortByEntryDesc(out)
	return out
}

// ListByUser returns every session a user has owned, most recent first.
func (l *Ledger) ListByUser(userID string) []Session {
	l.mu.RLock()
	var out []Session
	for id, s := range l.sessions {
		if _, hidden := l.pending[id]; hidden {
			continue
		}
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	l.mu.RUnlock()

	sortByEntryDesc(out)
	return out
}

func sortByEntryDesc(sessions []Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].EntryTime.Equal(sessions[j].EntryTime) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].EntryTime.After(sessions[j].EntryTime)
	})
}

// eachClosedSince calls fn for every closed session with exit >= ts.
func (l *Ledger) eachClosedSince(ts time.Time, fn func(Session)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, id := range l.closed {
		s, ok := l.sessions[id]
		if !ok || s.ExitTime == nil || s.ExitTime.Before(ts) {
			continue
		}
		fn(*s)
	}
}

// restore loads a session read back from the store. The caller holds the
// slot's lock. Sessions already known are ignored.
func (l *Ledger) restore(s Session) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.sessions[s.ID]; ok {
		return false, nil
	}
	if existing, ok := l.openBySlot[s.SlotID]; ok {
		return false, fmt.Errorf("%w: slot %s already referenced by %s", errInconsistentSlot, s.SlotID, existing)
	}
	cp := s
	l.sessions[s.ID] = &cp
	l.openBySlot[s.SlotID] = s.ID
	l.openByUser[s.UserID]++
	return true, nil
}

// restoreClosed loads a closed session read back from the store so that
// revenue and history cover it. Sessions already known are ignored.
func (l *Ledger) restoreClosed(s Session) bool {
	if s.Status != SessionClosed || s.ExitTime == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.sessions[s.ID]; ok {
		return false
	}
	cp := s
	l.sessions[s.ID] = &cp
	l.closed = append(l.closed, s.ID)
	return true
}

func (l *Ledger) markUnsynced(id string) {
	l.mu.Lock()
	if _, ok := l.sessions[id]; ok {
		l.unsynced[id] = struct{}{}
	}
	l.mu.Unlock()
}

// markSynced clears the pending flag if the stored state is still current.
func (l *Ledger) markSynced(id string, stored SessionStatus) {
	l.mu.Lock()
	if s, ok := l.sessions[id]; ok && s.Status == stored {
		delete(l.unsynced, id)
	}
	l.mu.Unlock()
}

// Unsynced returns sessions whose latest state has not been stored yet.
func (l *Ledger) Unsynced() []Session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Session, 0, len(l.unsynced))
	for id := range l.unsynced {
		out = append(out, *l.sessions[id])
	}
	sortByEntryDesc(out)
	return out
}
