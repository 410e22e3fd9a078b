package postgres

import (
	"context"
	"fmt"
	"time"

	"parking-allocator/internal/parking"
)

// SessionStore persists sessions in the parking_sessions table.
type SessionStore struct {
	q Querier
}

var _ parking.SessionStore = (*SessionStore)(nil)

func NewSessionStore(q Querier) *SessionStore {
	return &SessionStore{q: q}
}

func (s *SessionStore) InsertSession(ctx context.Context, ses parking.Session) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO parking_sessions (id, plate, vehicle_type, vehicle_make, user_id, lot_id,
			slot_number, entry_time, exit_time, fee, status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`,
		ses.ID, ses.Plate, string(ses.VehicleType), string(ses.VehicleMake), ses.UserID, ses.SlotID.LotID,
		ses.SlotID.Number, ses.EntryTime, ses.ExitTime, ses.Fee, string(ses.Status), string(ses.PaymentStatus),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", ses.ID, err)
	}
	return nil
}

// CompleteSession records the fee and exit time. A row that is already
// closed keeps its first values.
func (s *SessionStore) CompleteSession(ctx context.Context, sessionID string, fee float64, exitTime time.Time) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE parking_sessions
		SET exit_time = $2, fee = $3, status = $4, payment_status = $5
		WHERE id = $1 AND status = $6`,
		sessionID, exitTime, fee, string(parking.SessionClosed), string(parking.PaymentPaid), string(parking.SessionOpen),
	)
	if err != nil {
		return fmt.Errorf("complete session %s: %w", sessionID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM parking_sessions WHERE id = $1)`, sessionID).Scan(&exists); err != nil {
		return fmt.Errorf("complete session %s: %w", sessionID, err)
	}
	if !exists {
		return fmt.Errorf("complete session %s: %w", sessionID, parking.ErrSessionNotFound)
	}
	return nil
}

const sessionColumns = `id, plate, vehicle_type, vehicle_make, user_id, lot_id, slot_number,
	entry_time, exit_time, fee, status, payment_status`

func (s *SessionStore) ListOpenSessions(ctx context.Context) ([]parking.Session, error) {
	sessions, err := s.list(ctx, `
		SELECT `+sessionColumns+`
		FROM parking_sessions
		WHERE status = $1
		ORDER BY entry_time DESC, id DESC`, string(parking.SessionOpen))
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	return sessions, nil
}

func (s *SessionStore) ListClosedSince(ctx context.Context, since time.Time) ([]parking.Session, error) {
	sessions, err := s.list(ctx, `
		SELECT `+sessionColumns+`
		FROM parking_sessions
		WHERE status = $1 AND exit_time >= $2
		ORDER BY exit_time, id`, string(parking.SessionClosed), since)
	if err != nil {
		return nil, fmt.Errorf("list closed sessions: %w", err)
	}
	return sessions, nil
}

func (s *SessionStore) list(ctx context.Context, sql string, args ...any) ([]parking.Session, error) {
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []parking.Session
	for rows.Next() {
		var ses parking.Session
		var vehicleType, vehicleMake, st, paySt string
		if err := rows.Scan(&ses.ID, &ses.Plate, &vehicleType, &vehicleMake, &ses.UserID,
			&ses.SlotID.LotID, &ses.SlotID.Number, &ses.EntryTime, &ses.ExitTime, &ses.Fee,
			&st, &paySt); err != nil {
			return nil, err
		}
		ses.VehicleType = parking.VehicleType(vehicleType)
		ses.VehicleMake = parking.VehicleMake(vehicleMake)
		ses.Status = parking.SessionStatus(st)
		ses.PaymentStatus = parking.PaymentStatus(paySt)
		ses.EntryTime = ses.EntryTime.UTC()
		if ses.ExitTime != nil {
			exit := ses.ExitTime.UTC()
			ses.ExitTime = &exit
		}
		sessions = append(sessions, ses)
	}
	return sessions, rows.Err()
}
