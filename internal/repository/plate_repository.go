package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"anpr-pipeline/internal/domain/anpr"
)

var ErrRecordNotFound = errors.New("record not found")

// Plate is one row of the numberplate table. Date and time are stamped by
// the store when the plate arrives.
type Plate struct {
	ID          int64          `gorm:"primaryKey"`
	NumberPlate string         `gorm:"column:numberplate;not null"`
	Normalized  string         `gorm:"not null;index"`
	EntryDate   datatypes.Date `gorm:"not null"`
	EntryTime   datatypes.Time `gorm:"not null"`
	CreatedAt   time.Time
}

func (Plate) TableName() string { return "numberplate" }

// NewPlate stamps plate with the date and wall-clock time of at.
func NewPlate(number, normalized string, at time.Time) Plate {
	return Plate{
		NumberPlate: number,
		Normalized:  normalized,
		EntryDate:   datatypes.Date(time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)),
		EntryTime:   datatypes.NewTime(at.Hour(), at.Minute(), at.Second(), 0),
	}
}

func (p Plate) Record() anpr.RemoteRecord {
	return anpr.RemoteRecord{
		ID:          p.ID,
		NumberPlate: p.NumberPlate,
		EntryDate:   time.Time(p.EntryDate).Format(anpr.DateLayout),
		EntryTime:   formatClock(time.Duration(p.EntryTime)),
	}
}

func formatClock(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	return fmt.Sprintf("%02d:%02d:%02d", h, m, d/time.Second)
}

// PlateFilter narrows FindPlates. Nil fields match everything.
type PlateFilter struct {
	Normalized *string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

type PlateRepository struct {
	db *gorm.DB
}

func NewPlateRepository(db *gorm.DB) *PlateRepository {
	return &PlateRepository{db: db}
}

func (r *PlateRepository) CreatePlate(ctx context.Context, plate *Plate) error {
	if plate.CreatedAt.IsZero() {
		plate.CreatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(plate).Error
}

// ListPlates returns every stored plate in insertion order.
func (r *PlateRepository) ListPlates(ctx context.Context) ([]Plate, error) {
	var plates []Plate
	err := r.db.WithContext(ctx).Order("id ASC").Find(&plates).Error
	return plates, err
}

func (r *PlateRepository) GetPlate(ctx context.Context, id int64) (*Plate, error) {
	var plate Plate
	err := r.db.WithContext(ctx).First(&plate, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &plate, nil
}

// FindPlates matches Normalized as a substring; From and To bound the
// entry date inclusively.
func (r *PlateRepository) FindPlates(ctx context.Context, f PlateFilter) ([]Plate, error) {
	query := r.db.WithContext(ctx).Model(&Plate{})

	if f.Normalized != nil {
		query = query.Where("normalized LIKE ?", "%"+*f.Normalized+"%")
	}
	if f.From != nil {
		query = query.Where("entry_date >= ?", f.From.Format(anpr.DateLayout))
	}
	if f.To != nil {
		query = query.Where("entry_date <= ?", f.To.Format(anpr.DateLayout))
	}

	query = query.Order("entry_date DESC").Order("entry_time DESC").Order("id DESC")

	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}

	var plates []Plate
	err := query.Find(&plates).Error
	return plates, err
}
