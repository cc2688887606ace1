package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"backend-spinlog/internal/activecard"
	"backend-spinlog/internal/shared/fault"
	"backend-spinlog/internal/user"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
)

type stubDirectory struct {
	byCard map[string]user.User
	byID   map[int64]user.User
}

func (d stubDirectory) FindByCard(_ context.Context, cardID string) (user.User, error) {
	u, ok := d.byCard[cardID]
	if !ok {
		return user.User{}, fault.New(fault.KindUserNotFound, "user not found")
	}
	return u, nil
}

func (d stubDirectory) FindByID(_ context.Context, id int64) (user.User, error) {
	u, ok := d.byID[id]
	if !ok {
		return user.User{}, fault.New(fault.KindUserNotFound, "user not found")
	}
	return u, nil
}

func testDirectory() stubDirectory {
	budi := user.User{ID: 1, CardID: "card-1", Name: "Budi", Weight: 70, Gender: user.GenderMale}
	return stubDirectory{
		byCard: map[string]user.User{"card-1": budi},
		byID:   map[int64]user.User{1: budi},
	}
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func noOpenSessionRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "user_id", "start_time"})
}

func TestStartSession(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`SELECT id, user_id, start_time`).
		WithArgs(int64(1)).
		WillReturnRows(noOpenSessionRows())
	mock.ExpectQuery(`INSERT INTO sessions`).
		WithArgs(int64(1), pgxmock.AnyArg(), StatusOpen).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	svc := NewService(mock, testDirectory(), activecard.NewRegistry(nil), nil)
	res, err := svc.Start(context.Background(), "card-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.SessionID != 42 || res.StartTime.IsZero() {
		t.Fatalf("unexpected result: %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStartSessionAlreadyOpen(t *testing.T) {
	mock := newMock(t)

	startedAt := time.Now().Add(-10 * time.Minute)
	mock.ExpectQuery(`SELECT id, user_id, start_time`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "start_time"}).AddRow(int64(7), int64(1), startedAt))

	svc := NewService(mock, testDirectory(), activecard.NewRegistry(nil), nil)
	_, err := svc.Start(context.Background(), "card-1")
	if !errors.Is(err, fault.SessionAlreadyOpen) {
		t.Fatalf("expected session already open, got %v", err)
	}

	var fe *fault.Error
	if !errors.As(err, &fe) {
		t.Fatalf("expected fault error")
	}
	if fe.Meta["sessionId"] != int64(7) {
		t.Fatalf("expected existing session id in meta, got %v", fe.Meta)
	}
	if fe.Meta["startTime"] != startedAt {
		t.Fatalf("expected existing start time in meta, got %v", fe.Meta)
	}
}

func TestStartSessionUnknownCard(t *testing.T) {
	mock := newMock(t)

	svc := NewService(mock, testDirectory(), activecard.NewRegistry(nil), nil)
	_, err := svc.Start(context.Background(), "stranger")
	if !errors.Is(err, fault.UserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
	// no session row may be created for an unregistered card
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected store access: %v", err)
	}
}

func TestStartSessionEmptyCard(t *testing.T) {
	svc := NewService(nil, testDirectory(), activecard.NewRegistry(nil), nil)
	_, err := svc.Start(context.Background(), "  ")
	if !errors.Is(err, fault.InvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestStartSessionUniqueViolationRace(t *testing.T) {
	mock := newMock(t)

	startedAt := time.Now().Add(-time.Minute)
	mock.ExpectQuery(`SELECT id, user_id, start_time`).
		WithArgs(int64(1)).
		WillReturnRows(noOpenSessionRows())
	mock.ExpectQuery(`INSERT INTO sessions`).
		WithArgs(int64(1), pgxmock.AnyArg(), StatusOpen).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectQuery(`SELECT id, user_id, start_time`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "start_time"}).AddRow(int64(9), int64(1), startedAt))

	svc := NewService(mock, testDirectory(), activecard.NewRegistry(nil), nil)
	_, err := svc.Start(context.Background(), "card-1")
	if !errors.Is(err, fault.SessionAlreadyOpen) {
		t.Fatalf("expected session already open, got %v", err)
	}

	var fe *fault.Error
	if !errors.As(err, &fe) || fe.Meta["sessionId"] != int64(9) {
		t.Fatalf("expected winner's session id, got %v", err)
	}
}

func TestStartSessionInsertError(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`SELECT id, user_id, start_time`).
		WithArgs(int64(1)).
		WillReturnRows(noOpenSessionRows())
	mock.ExpectQuery(`INSERT INTO sessions`).
		WithArgs(int64(1), pgxmock.AnyArg(), StatusOpen).
		WillReturnError(errors.New("connection refused"))

	svc := NewService(mock, testDirectory(), activecard.NewRegistry(nil), nil)
	_, err := svc.Start(context.Background(), "card-1")
	if !errors.Is(err, fault.StoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

func TestConcurrentStartsSingleWinner(t *testing.T) {
	mock := newMock(t)

	startedAt := time.Now()
	// the per-user lock serializes both attempts; the second one must
	// observe the winner's open session
	mock.ExpectQuery(`SELECT id, user_id, start_time`).
		WithArgs(int64(1)).
		WillReturnRows(noOpenSessionRows())
	mock.ExpectQuery(`INSERT INTO sessions`).
		WithArgs(int64(1), pgxmock.AnyArg(), StatusOpen).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectQuery(`SELECT id, user_id, start_time`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "start_time"}).AddRow(int64(42), int64(1), startedAt))

	svc := NewService(mock, testDirectory(), activecard.NewRegistry(nil), nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, conflicts := 0, 0
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Start(context.Background(), "card-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, fault.SessionAlreadyOpen):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one winner, got %d successes and %d conflicts", successes, conflicts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEndSessionUnauthorized(t *testing.T) {
	mock := newMock(t)
	ctx := context.Background()
	registry := activecard.NewRegistry(nil)

	svc := NewService(mock, testDirectory(), registry, nil)

	// empty registry
	_, err := svc.End(ctx, "card-1", 100)
	if !errors.Is(err, fault.Unauthorized) {
		t.Fatalf("expected unauthorized for empty registry, got %v", err)
	}

	// different card holds the device
	registry.Set(ctx, "card-2")
	for i := 0; i < 3; i++ {
		if _, err := svc.End(ctx, "card-1", 100); !errors.Is(err, fault.Unauthorized) {
			t.Fatalf("expected unauthorized for wrong card, got %v", err)
		}
	}

	// repeated wrong attempts never touch the store or the slot
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected store access: %v", err)
	}
	if holder, ok := registry.Get(ctx); !ok || holder.CardID != "card-2" {
		t.Fatalf("expected registry untouched, got %+v", holder)
	}
}

func TestEndSession(t *testing.T) {
	mock := newMock(t)
	ctx := context.Background()
	registry := activecard.NewRegistry(nil)
	registry.Set(ctx, "card-1")

	startedAt := time.Now().Add(-30 * time.Minute)
	mock.ExpectQuery(`SELECT id, user_id, start_time`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "start_time"}).AddRow(int64(7), int64(1), startedAt))
	mock.ExpectExec(`UPDATE sessions`).
		WithArgs(int64(7), pgxmock.AnyArg(), StatusDone, 100, 110.0, pgxmock.AnyArg(), 0.2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	svc := NewService(mock, testDirectory(), registry, nil)
	res, err := svc.End(ctx, "card-1", 100)
	if err != nil {
		t.Fatalf("end: %v", err)
	}

	if res.SessionID != 7 || res.TickCount != 100 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Distance != 110.0 {
		t.Fatalf("expected distance 110.0, got %v", res.Distance)
	}
	// 6.8 * 70 * ~0.5h * 1.2, allow for wall-clock drift in the test
	if res.Calories < 285.0 || res.Calories > 286.5 {
		t.Fatalf("expected ~285.6 calories, got %v", res.Calories)
	}
	if res.AvgSpeed != 0.2 {
		t.Fatalf("expected avg speed 0.2, got %v", res.AvgSpeed)
	}
	if !res.StartTime.Equal(startedAt) || res.EndTime.Before(res.StartTime) {
		t.Fatalf("unexpected timestamps: %+v", res)
	}

	// ownership released after a successful end
	if _, ok := registry.Get(ctx); ok {
		t.Fatalf("expected registry cleared")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEndSessionNegativeTicks(t *testing.T) {
	svc := NewService(nil, testDirectory(), activecard.NewRegistry(nil), nil)
	_, err := svc.End(context.Background(), "card-1", -1)
	if !errors.Is(err, fault.InvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestEndSessionNoActive(t *testing.T) {
	mock := newMock(t)
	ctx := context.Background()
	registry := activecard.NewRegistry(nil)
	registry.Set(ctx, "card-1")

	mock.ExpectQuery(`SELECT id, user_id, start_time`).
		WithArgs(int64(1)).
		WillReturnRows(noOpenSessionRows())

	svc := NewService(mock, testDirectory(), registry, nil)
	_, err := svc.End(ctx, "card-1", 100)
	if !errors.Is(err, fault.NoActiveSession) {
		t.Fatalf("expected no active session, got %v", err)
	}
}

func TestEndSessionAlreadyClosedRace(t *testing.T) {
	mock := newMock(t)
	ctx := context.Background()
	registry := activecard.NewRegistry(nil)
	registry.Set(ctx, "card-1")

	mock.ExpectQuery(`SELECT id, user_id, start_time`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "start_time"}).AddRow(int64(7), int64(1), time.Now().Add(-time.Minute)))
	mock.ExpectExec(`UPDATE sessions`).
		WithArgs(int64(7), pgxmock.AnyArg(), StatusDone, 100, 110.0, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	svc := NewService(mock, testDirectory(), registry, nil)
	_, err := svc.End(ctx, "card-1", 100)
	if !errors.Is(err, fault.NoActiveSession) {
		t.Fatalf("expected no active session, got %v", err)
	}

	// the failed close must not release ownership
	if _, ok := registry.Get(ctx); !ok {
		t.Fatalf("expected registry untouched after failed close")
	}
}

func TestEndSessionCloseError(t *testing.T) {
	mock := newMock(t)
	ctx := context.Background()
	registry := activecard.NewRegistry(nil)
	registry.Set(ctx, "card-1")

	mock.ExpectQuery(`SELECT id, user_id, start_time`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "start_time"}).AddRow(int64(7), int64(1), time.Now().Add(-time.Minute)))
	mock.ExpectExec(`UPDATE sessions`).
		WithArgs(int64(7), pgxmock.AnyArg(), StatusDone, 100, 110.0, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	svc := NewService(mock, testDirectory(), registry, nil)
	_, err := svc.End(ctx, "card-1", 100)
	if !errors.Is(err, fault.StoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if _, ok := registry.Get(ctx); !ok {
		t.Fatalf("expected registry untouched after store failure")
	}
}

func TestCheckUser(t *testing.T) {
	svc := NewService(nil, testDirectory(), activecard.NewRegistry(nil), nil)

	exists, err := svc.CheckUser(context.Background(), "card-1")
	if err != nil || !exists {
		t.Fatalf("expected existing user, got %v %v", exists, err)
	}

	exists, err = svc.CheckUser(context.Background(), "stranger")
	if err != nil || exists {
		t.Fatalf("expected missing user, got %v %v", exists, err)
	}

	if _, err := svc.CheckUser(context.Background(), ""); !errors.Is(err, fault.InvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestLatestActive(t *testing.T) {
	mock := newMock(t)

	startedAt := time.Now().Add(-5 * time.Minute)
	mock.ExpectQuery(`SELECT id, user_id, start_time`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "start_time"}).AddRow(int64(7), int64(1), startedAt))

	svc := NewService(mock, testDirectory(), activecard.NewRegistry(nil), nil)
	res, err := svc.LatestActive(context.Background())
	if err != nil {
		t.Fatalf("latest active: %v", err)
	}
	if res.CardID != "card-1" || !res.UserExists || !res.StartTime.Equal(startedAt) {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestLatestActiveNone(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`SELECT id, user_id, start_time`).
		WillReturnRows(noOpenSessionRows())

	svc := NewService(mock, testDirectory(), activecard.NewRegistry(nil), nil)
	_, err := svc.LatestActive(context.Background())
	if !errors.Is(err, fault.NoActiveSession) {
		t.Fatalf("expected no active session, got %v", err)
	}
}

func TestLatestActiveOrphanedUser(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`SELECT id, user_id, start_time`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "start_time"}).AddRow(int64(7), int64(99), time.Now()))

	svc := NewService(mock, testDirectory(), activecard.NewRegistry(nil), nil)
	_, err := svc.LatestActive(context.Background())
	if !errors.Is(err, fault.UserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestHistory(t *testing.T) {
	mock := newMock(t)

	newer := time.Now().Add(-time.Hour)
	older := time.Now().Add(-2 * time.Hour)
	closedAt := newer.Add(30 * time.Minute)
	mock.ExpectQuery(`SELECT id, user_id, start_time, end_time, status`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "start_time", "end_time", "status", "tick_count", "distance", "calories", "avg_speed"}).
			AddRow(int64(8), int64(1), newer, &closedAt, StatusDone, 100, 110.0, 285.6, 0.2).
			AddRow(int64(7), int64(1), older, nil, StatusOpen, 0, 0.0, 0.0, 0.0))

	svc := NewService(mock, testDirectory(), activecard.NewRegistry(nil), nil)
	res, err := svc.History(context.Background(), "card-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if res.TotalSessions != 2 || len(res.Sessions) != 2 {
		t.Fatalf("unexpected count: %+v", res)
	}
	if res.Sessions[0].ID != 8 || res.Sessions[1].ID != 7 {
		t.Fatalf("expected newest first, got %+v", res.Sessions)
	}
	if res.Sessions[0].EndTime == nil || res.Sessions[1].EndTime != nil {
		t.Fatalf("unexpected end times: %+v", res.Sessions)
	}
}

func TestHistoryUnknownCard(t *testing.T) {
	svc := NewService(nil, testDirectory(), activecard.NewRegistry(nil), nil)
	_, err := svc.History(context.Background(), "stranger")
	if !errors.Is(err, fault.UserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestLatestCompleted(t *testing.T) {
	mock := newMock(t)

	startedAt := time.Now().Add(-time.Hour)
	closedAt := startedAt.Add(30 * time.Minute)
	mock.ExpectQuery(`SELECT id, user_id, start_time, end_time, status`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "start_time", "end_time", "status", "tick_count", "distance", "calories", "avg_speed"}).
			AddRow(int64(7), int64(1), startedAt, &closedAt, StatusDone, 100, 110.0, 285.6, 0.2))

	svc := NewService(mock, testDirectory(), activecard.NewRegistry(nil), nil)
	sess, err := svc.LatestCompleted(context.Background(), "card-1")
	if err != nil {
		t.Fatalf("latest completed: %v", err)
	}
	// persisted metrics come back exactly, no recomputation
	if sess.Distance != 110.0 || sess.Calories != 285.6 || sess.AvgSpeed != 0.2 {
		t.Fatalf("unexpected metrics: %+v", sess)
	}
	if sess.Status != StatusDone || sess.EndTime == nil {
		t.Fatalf("expected closed session, got %+v", sess)
	}
}

func TestLatestCompletedNone(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`SELECT id, user_id, start_time, end_time, status`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "start_time", "end_time", "status", "tick_count", "distance", "calories", "avg_speed"}))

	svc := NewService(mock, testDirectory(), activecard.NewRegistry(nil), nil)
	_, err := svc.LatestCompleted(context.Background(), "card-1")
	if !errors.Is(err, fault.NoCompletedSession) {
		t.Fatalf("expected no completed session, got %v", err)
	}
}
