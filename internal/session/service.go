package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"backend-spinlog/internal/activecard"
	"backend-spinlog/internal/db"
	"backend-spinlog/internal/shared/fault"
	"backend-spinlog/internal/shared/workout"
	"backend-spinlog/internal/stream"
	"backend-spinlog/internal/user"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Directory resolves card holders; implemented by user.Service.
type Directory interface {
	FindByCard(ctx context.Context, cardID string) (user.User, error)
	FindByID(ctx context.Context, id int64) (user.User, error)
}

type Service struct {
	db        db.Querier
	directory Directory
	registry  *activecard.Registry
	hub       *stream.Hub
	locks     keyedMutex
}

func NewService(db db.Querier, directory Directory, registry *activecard.Registry, hub *stream.Hub) *Service {
	return &Service{db: db, directory: directory, registry: registry, hub: hub}
}

// Start opens a session for the card's user. An already-open session is
// a normal, informative rejection: the returned fault carries the
// existing session's id and start time.
func (s *Service) Start(ctx context.Context, cardID string) (StartResult, error) {
	if strings.TrimSpace(cardID) == "" {
		return StartResult{}, fault.New(fault.KindInvalidRequest, "cardId is required")
	}

	u, err := s.directory.FindByCard(ctx, cardID)
	if err != nil {
		return StartResult{}, err
	}

	unlock := s.locks.lock(u.ID)
	defer unlock()

	open, err := s.findOpenByUser(ctx, u.ID)
	switch {
	case err == nil:
		return StartResult{}, alreadyOpen(open)
	case !errors.Is(err, fault.NoActiveSession):
		return StartResult{}, err
	}

	startTime := time.Now()
	var id int64
	row := s.db.QueryRow(ctx, `
		INSERT INTO sessions (user_id, start_time, status)
		VALUES ($1,$2,$3)
		RETURNING id
	`, u.ID, startTime, StatusOpen)
	if err := row.Scan(&id); err != nil {
		if isUniqueViolation(err) {
			// lost the race against another service instance; report the
			// winner's session if it is still visible
			if open, lookupErr := s.findOpenByUser(ctx, u.ID); lookupErr == nil {
				return StartResult{}, alreadyOpen(open)
			}
			return StartResult{}, fault.New(fault.KindSessionAlreadyOpen, "previous session still open")
		}
		return StartResult{}, fault.Wrap(fault.KindStoreUnavailable, "create session", err)
	}

	if s.hub != nil {
		s.hub.Broadcast(stream.Event{
			Type:      stream.EventSessionStarted,
			CardID:    u.CardID,
			SessionID: id,
			At:        startTime,
		})
	}
	return StartResult{SessionID: id, StartTime: startTime}, nil
}

// End closes the user's open session and derives its metrics. Only the
// card currently held by the active-card registry may end it; wrong-card
// attempts are rejected before anything is touched. The registry is
// cleared only after the close commits, so a crash in between leaves a
// stale entry that the next scan overwrites.
func (s *Service) End(ctx context.Context, cardID string, tickCount int) (EndResult, error) {
	if strings.TrimSpace(cardID) == "" {
		return EndResult{}, fault.New(fault.KindInvalidRequest, "cardId is required")
	}
	if tickCount < 0 {
		return EndResult{}, fault.New(fault.KindInvalidRequest, "tickCount must be a non-negative integer")
	}

	holder, ok := s.registry.Get(ctx)
	if !ok || holder.CardID != cardID {
		return EndResult{}, fault.New(fault.KindUnauthorized, "only the session owner card can end the session")
	}

	u, err := s.directory.FindByCard(ctx, cardID)
	if err != nil {
		return EndResult{}, err
	}

	unlock := s.locks.lock(u.ID)
	defer unlock()

	open, err := s.findOpenByUser(ctx, u.ID)
	if err != nil {
		return EndResult{}, err
	}

	endTime := time.Now()
	durationMs := endTime.Sub(open.StartTime).Milliseconds()
	metrics := workout.Compute(tickCount, durationMs, u.EffectiveWeight(), u.CalorieMultiplier())

	tag, err := s.db.Exec(ctx, `
		UPDATE sessions
		SET end_time=$2, status=$3, tick_count=$4, distance=$5, calories=$6, avg_speed=$7
		WHERE id=$1 AND end_time IS NULL
	`, open.ID, endTime, StatusDone, tickCount, metrics.Distance, metrics.Calories, metrics.AvgSpeed)
	if err != nil {
		return EndResult{}, fault.Wrap(fault.KindStoreUnavailable, "close session", err)
	}
	if tag.RowsAffected() == 0 {
		return EndResult{}, fault.New(fault.KindNoActiveSession, "no active session found")
	}

	s.registry.Clear(ctx)

	if s.hub != nil {
		s.hub.Broadcast(stream.Event{
			Type:      stream.EventSessionEnded,
			CardID:    u.CardID,
			SessionID: open.ID,
			At:        endTime,
		})
	}

	return EndResult{
		SessionID: open.ID,
		TickCount: tickCount,
		Distance:  metrics.Distance,
		Calories:  metrics.Calories,
		AvgSpeed:  metrics.AvgSpeed,
		StartTime: open.StartTime,
		EndTime:   endTime,
	}, nil
}

// CheckUser reports whether a card is registered; unknown cards are not
// an error on this path.
func (s *Service) CheckUser(ctx context.Context, cardID string) (bool, error) {
	if strings.TrimSpace(cardID) == "" {
		return false, fault.New(fault.KindInvalidRequest, "cardId is required")
	}
	_, err := s.directory.FindByCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, fault.UserNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// LatestActive returns the most recently started open session across all
// users, joined with the owner's card, for the lobby display.
func (s *Service) LatestActive(ctx context.Context) (ActiveResult, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, start_time
		FROM sessions
		WHERE end_time IS NULL
		ORDER BY start_time DESC
		LIMIT 1
	`)

	var sess Session
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.StartTime); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ActiveResult{}, fault.New(fault.KindNoActiveSession, "no active session found")
		}
		return ActiveResult{}, fault.Wrap(fault.KindStoreUnavailable, "query active session", err)
	}

	u, err := s.directory.FindByID(ctx, sess.UserID)
	if err != nil {
		return ActiveResult{}, err
	}

	return ActiveResult{CardID: u.CardID, UserExists: true, StartTime: sess.StartTime}, nil
}

// History returns all sessions of a card's user, newest first.
func (s *Service) History(ctx context.Context, cardID string) (HistoryResult, error) {
	u, err := s.directory.FindByCard(ctx, cardID)
	if err != nil {
		return HistoryResult{}, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, start_time, end_time, status,
		       COALESCE(tick_count,0), COALESCE(distance,0), COALESCE(calories,0), COALESCE(avg_speed,0)
		FROM sessions
		WHERE user_id=$1
		ORDER BY start_time DESC
	`, u.ID)
	if err != nil {
		return HistoryResult{}, fault.Wrap(fault.KindStoreUnavailable, "query sessions", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.StartTime, &sess.EndTime, &sess.Status,
			&sess.TickCount, &sess.Distance, &sess.Calories, &sess.AvgSpeed); err != nil {
			return HistoryResult{}, fault.Wrap(fault.KindStoreUnavailable, "scan session", err)
		}
		sessions = append(sessions, sess)
	}

	return HistoryResult{CardID: cardID, TotalSessions: len(sessions), Sessions: sessions}, nil
}

// LatestCompleted returns the card user's most recent closed session
// exactly as persisted; metrics are never recomputed.
func (s *Service) LatestCompleted(ctx context.Context, cardID string) (Session, error) {
	u, err := s.directory.FindByCard(ctx, cardID)
	if err != nil {
		return Session{}, err
	}

	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, start_time, end_time, status,
		       COALESCE(tick_count,0), COALESCE(distance,0), COALESCE(calories,0), COALESCE(avg_speed,0)
		FROM sessions
		WHERE user_id=$1 AND end_time IS NOT NULL
		ORDER BY start_time DESC
		LIMIT 1
	`, u.ID)

	var sess Session
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.StartTime, &sess.EndTime, &sess.Status,
		&sess.TickCount, &sess.Distance, &sess.Calories, &sess.AvgSpeed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, fault.New(fault.KindNoCompletedSession, "no completed session found")
		}
		return Session{}, fault.Wrap(fault.KindStoreUnavailable, "query completed session", err)
	}
	return sess, nil
}

func (s *Service) findOpenByUser(ctx context.Context, userID int64) (Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, start_time
		FROM sessions
		WHERE user_id=$1 AND end_time IS NULL
		ORDER BY start_time DESC
		LIMIT 1
	`, userID)

	var sess Session
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.StartTime); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, fault.New(fault.KindNoActiveSession, "no active session found")
		}
		return Session{}, fault.Wrap(fault.KindStoreUnavailable, "query open session", err)
	}
	return sess, nil
}

func alreadyOpen(open Session) *fault.Error {
	return fault.New(fault.KindSessionAlreadyOpen, "previous session still open").
		WithMeta("sessionId", open.ID).
		WithMeta("startTime", open.StartTime)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
