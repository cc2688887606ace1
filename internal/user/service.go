package user

import (
	"context"
	"errors"
	"strings"

	"backend-spinlog/internal/db"
	"backend-spinlog/internal/shared/fault"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (User, error) {
	req.CardID = strings.TrimSpace(req.CardID)
	req.Name = strings.TrimSpace(req.Name)
	if req.CardID == "" || req.Name == "" {
		return User{}, fault.New(fault.KindInvalidRequest, "cardId and name are required")
	}
	if req.Weight <= 0 {
		return User{}, fault.New(fault.KindInvalidRequest, "weight must be a positive number")
	}
	if req.Gender != GenderMale && req.Gender != GenderFemale {
		return User{}, fault.New(fault.KindInvalidRequest, "gender must be 1 (male) or 2 (female)")
	}

	u := User{
		CardID: req.CardID,
		Name:   req.Name,
		Weight: req.Weight,
		Gender: req.Gender,
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO users (card_id, name, weight, gender)
		VALUES ($1,$2,$3,$4)
		RETURNING id, created_at
	`, u.CardID, u.Name, u.Weight, u.Gender)
	if err := row.Scan(&u.ID, &u.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return User{}, fault.New(fault.KindUserAlreadyExists, "cardId already exists")
		}
		return User{}, fault.Wrap(fault.KindStoreUnavailable, "create user", err)
	}
	return u, nil
}

func (s *Service) FindByCard(ctx context.Context, cardID string) (User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, card_id, name, weight, gender, created_at
		FROM users WHERE card_id = $1
	`, cardID)
	return scanUser(row)
}

func (s *Service) FindByID(ctx context.Context, id int64) (User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, card_id, name, weight, gender, created_at
		FROM users WHERE id = $1
	`, id)
	return scanUser(row)
}

func (s *Service) UpdateWeight(ctx context.Context, cardID string, weight float64) (User, error) {
	if weight <= 0 {
		return User{}, fault.New(fault.KindInvalidRequest, "weight must be a positive number")
	}

	row := s.db.QueryRow(ctx, `
		UPDATE users SET weight = $2 WHERE card_id = $1
		RETURNING id, card_id, name, weight, gender, created_at
	`, cardID, weight)
	return scanUser(row)
}

// Exists is the device's pre-start check; an unknown card is not an error.
func (s *Service) Exists(ctx context.Context, cardID string) (bool, error) {
	_, err := s.FindByCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, fault.UserNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.CardID, &u.Name, &u.Weight, &u.Gender, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fault.New(fault.KindUserNotFound, "user not found")
		}
		return User{}, fault.Wrap(fault.KindStoreUnavailable, "query user", err)
	}
	return u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
