package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"economy-engine/models"
	"economy-engine/repository"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Catalog is the YAML description of missions, store items and events.
type Catalog struct {
	Events       []EventSpec       `yaml:"events"`
	Missions     []MissionSpec     `yaml:"missions"`
	Deliverables []DeliverableSpec `yaml:"deliverables"`
}

type EventSpec struct {
	Slug             string     `yaml:"slug"`
	Name             string     `yaml:"name"`
	EntryFee         int64      `yaml:"entry_fee"`
	ElevatedEntryFee int64      `yaml:"elevated_entry_fee"`
	Capacity         int        `yaml:"capacity"`
	StartsAt         *time.Time `yaml:"starts_at"`
	EndsAt           *time.Time `yaml:"ends_at"`
}

type MissionSpec struct {
	Slug         string     `yaml:"slug"`
	Title        string     `yaml:"title"`
	Description  string     `yaml:"description"`
	RewardCoins  int64      `yaml:"reward_coins"`
	RewardXP     int64      `yaml:"reward_xp"`
	Verification string     `yaml:"verification"`
	Deadline     *time.Time `yaml:"deadline"`
	Event        string     `yaml:"event"` // event slug
	EventPoints  int64      `yaml:"event_points"`
	Repeat       string     `yaml:"repeat"`
	Archived     bool       `yaml:"archived"`
}

type DeliverableSpec struct {
	Slug        string `yaml:"slug"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Price       int64  `yaml:"price"`
	Physical    bool   `yaml:"physical"`
	Stock       *int   `yaml:"stock"`
	Archived    bool   `yaml:"archived"`
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses and validates a catalog.
func Decode(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.normalize(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) normalize() error {
	events := make(map[string]bool)
	for i := range c.Events {
		e := &c.Events[i]
		if e.Name == "" {
			return fmt.Errorf("event %d: name is required", i)
		}
		if e.Slug == "" {
			e.Slug = slug.Make(e.Name)
		}
		if e.EntryFee < 0 || e.ElevatedEntryFee < 0 || e.Capacity < 0 {
			return fmt.Errorf("event %s: fees and capacity cannot be negative", e.Slug)
		}
		events[e.Slug] = true
	}
	for i := range c.Missions {
		m := &c.Missions[i]
		if m.Title == "" {
			return fmt.Errorf("mission %d: title is required", i)
		}
		if m.Slug == "" {
			m.Slug = slug.Make(m.Title)
		}
		switch models.VerificationMode(m.Verification) {
		case models.VerificationLink, models.VerificationPhoto, models.VerificationConfirmation:
		default:
			return fmt.Errorf("mission %s: unknown verification %q", m.Slug, m.Verification)
		}
		if m.Repeat == "" {
			m.Repeat = string(models.RepeatOnce)
		}
		if m.Repeat != string(models.RepeatOnce) && m.Repeat != string(models.RepeatDaily) {
			return fmt.Errorf("mission %s: unknown repeat policy %q", m.Slug, m.Repeat)
		}
		if m.RewardCoins < 0 || m.RewardXP < 0 || m.EventPoints < 0 {
			return fmt.Errorf("mission %s: rewards cannot be negative", m.Slug)
		}
		if m.Event != "" && !events[m.Event] {
			return fmt.Errorf("mission %s: unknown event %q", m.Slug, m.Event)
		}
	}
	for i := range c.Deliverables {
		d := &c.Deliverables[i]
		if d.Name == "" {
			return fmt.Errorf("deliverable %d: name is required", i)
		}
		if d.Slug == "" {
			d.Slug = slug.Make(d.Name)
		}
		if d.Price <= 0 {
			return fmt.Errorf("deliverable %s: price must be positive", d.Slug)
		}
	}
	return nil
}

// Summary counts what Seed wrote.
type Summary struct {
	Events       int
	Missions     int
	Deliverables int
}

// Seed upserts the catalog by slug in one transaction.
func Seed(ctx context.Context, db *gorm.DB, c *Catalog) (Summary, error) {
	var sum Summary
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		eventIDs := make(map[string]string)
		for _, spec := range c.Events {
			e, err := findBySlug[models.Event](ctx, tx, spec.Slug)
			if err != nil {
				return err
			}
			if e == nil {
				e = &models.Event{ID: uuid.NewString()}
			}
			e.Slug = spec.Slug
			e.Name = spec.Name
			e.EntryFee = spec.EntryFee
			e.ElevatedEntryFee = spec.ElevatedEntryFee
			e.Capacity = spec.Capacity
			e.StartsAt = utc(spec.StartsAt)
			e.EndsAt = utc(spec.EndsAt)
			if err := tx.Save(e).Error; err != nil {
				return fmt.Errorf("save event %s: %w", spec.Slug, err)
			}
			eventIDs[spec.Slug] = e.ID
			sum.Events++
		}

		for _, spec := range c.Missions {
			m, err := findBySlug[models.Mission](ctx, tx, spec.Slug)
			if err != nil {
				return err
			}
			if m == nil {
				m = &models.Mission{ID: uuid.NewString()}
			}
			m.Slug = spec.Slug
			m.Title = spec.Title
			m.Description = spec.Description
			m.RewardCoins = spec.RewardCoins
			m.RewardXP = spec.RewardXP
			m.Verification = models.VerificationMode(spec.Verification)
			m.Deadline = utc(spec.Deadline)
			m.EventID = nil
			if spec.Event != "" {
				id := eventIDs[spec.Event]
				m.EventID = &id
			}
			m.EventPoints = spec.EventPoints
			m.Repeat = models.RepeatPolicy(spec.Repeat)
			m.Archived = spec.Archived
			if err := tx.Save(m).Error; err != nil {
				return fmt.Errorf("save mission %s: %w", spec.Slug, err)
			}
			sum.Missions++
		}

		for _, spec := range c.Deliverables {
			d, err := findBySlug[models.Deliverable](ctx, tx, spec.Slug)
			if err != nil {
				return err
			}
			if d == nil {
				d = &models.Deliverable{ID: uuid.NewString()}
			}
			d.Slug = spec.Slug
			d.Name = spec.Name
			d.Description = spec.Description
			d.Price = spec.Price
			d.Physical = spec.Physical
			d.Stock = spec.Stock
			d.Archived = spec.Archived
			if err := tx.Save(d).Error; err != nil {
				return fmt.Errorf("save deliverable %s: %w", spec.Slug, err)
			}
			sum.Deliverables++
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	log.Printf("✅ [CATALOG] seeded %d events, %d missions, %d deliverables", sum.Events, sum.Missions, sum.Deliverables)
	return sum, nil
}

func findBySlug[T any](ctx context.Context, tx *gorm.DB, s string) (*T, error) {
	row, err := repository.New[T](tx).First(ctx, repository.Where("slug = ?", s))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return row, err
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
