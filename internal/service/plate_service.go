package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"anpr-pipeline/internal/domain/anpr"
	"anpr-pipeline/internal/repository"
	"anpr-pipeline/internal/utils"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

type PlateRepository interface {
	CreatePlate(ctx context.Context, plate *repository.Plate) error
	ListPlates(ctx context.Context) ([]repository.Plate, error)
	GetPlate(ctx context.Context, id int64) (*repository.Plate, error)
	FindPlates(ctx context.Context, f repository.PlateFilter) ([]repository.Plate, error)
}

type PlateService struct {
	repo PlateRepository
	now  func() time.Time
	log  zerolog.Logger
}

func NewPlateService(repo PlateRepository, log zerolog.Logger) *PlateService {
	return &PlateService{
		repo: repo,
		now:  time.Now,
		log:  log,
	}
}

// StorePlate records plate with the store's current date and time. The
// text is kept as received; its normalized form is indexed for search and
// may be empty when the text has no letters or digits.
func (s *PlateService) StorePlate(ctx context.Context, plate string) (*anpr.RemoteRecord, error) {
	plate = strings.TrimSpace(plate)
	if plate == "" {
		return nil, fmt.Errorf("%w: plate is required", ErrInvalidInput)
	}

	normalized := utils.NormalizePlate(plate)

	row := repository.NewPlate(plate, normalized, s.now())
	if err := s.repo.CreatePlate(ctx, &row); err != nil {
		s.log.Error().
			Err(err).
			Str("plate", plate).
			Msg("failed to store plate")
		return nil, fmt.Errorf("failed to store plate: %w", err)
	}

	record := row.Record()
	s.log.Info().
		Int64("id", record.ID).
		Str("plate", normalized).
		Str("raw_plate", plate).
		Str("entry_date", record.EntryDate).
		Str("entry_time", record.EntryTime).
		Msg("saved plate to database")
	return &record, nil
}

func (s *PlateService) ListPlates(ctx context.Context) ([]anpr.RemoteRecord, error) {
	plates, err := s.repo.ListPlates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list plates: %w", err)
	}
	return toRecords(plates), nil
}

func (s *PlateService) GetPlate(ctx context.Context, id int64) (*anpr.RemoteRecord, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: id must be positive", ErrInvalidInput)
	}
	plate, err := s.repo.GetPlate(ctx, id)
	if errors.Is(err, repository.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: plate %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plate: %w", err)
	}
	record := plate.Record()
	return &record, nil
}

// PlateQuery is the search form of the plates API. Dates are YYYY-MM-DD.
type PlateQuery struct {
	Plate  *string
	From   *string
	To     *string
	Limit  int
	Offset int
}

func (s *PlateService) SearchPlates(ctx context.Context, q PlateQuery) ([]anpr.RemoteRecord, error) {
	var filter repository.PlateFilter

	if q.Plate != nil {
		if normalized := utils.NormalizePlate(*q.Plate); normalized != "" {
			filter.Normalized = &normalized
		}
	}

	var err error
	if filter.From, err = parseDate("from", q.From); err != nil {
		return nil, err
	}
	if filter.To, err = parseDate("to", q.To); err != nil {
		return nil, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, fmt.Errorf("%w: to is before from", ErrInvalidInput)
	}

	filter.Limit = q.Limit
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	filter.Offset = q.Offset
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	plates, err := s.repo.FindPlates(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find plates: %w", err)
	}
	return toRecords(plates), nil
}

func parseDate(field string, v *string) (*time.Time, error) {
	if v == nil || *v == "" {
		return nil, nil
	}
	t, err := time.Parse(anpr.DateLayout, *v)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s date format", ErrInvalidInput, field)
	}
	return &t, nil
}

func toRecords(plates []repository.Plate) []anpr.RemoteRecord {
	result := make([]anpr.RemoteRecord, 0, len(plates))
	for _, p := range plates {
		result = append(result, p.Record())
	}
	return result
}
