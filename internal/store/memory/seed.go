package memory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/BurntSushi/toml"

	"stars/internal/core"
	"stars/internal/store"
)

// Seed is the on-disk description of a demo household.
//
//	[[children]]
//	id = "mia"
//	family_id = "demo"
//	name = "Mia"
//
//	[[templates]]
//	id = "dishes"
//	family_id = "demo"
//	name = "Do the dishes"
//	category = "chore"
//	stars = 3
type Seed struct {
	Children  []SeedChild    `toml:"children"`
	Templates []SeedTemplate `toml:"templates"`
	Rewards   []SeedReward   `toml:"rewards"`
}

type SeedChild struct {
	ID       string `toml:"id"`
	FamilyID string `toml:"family_id"`
	Name     string `toml:"name"`
}

type SeedTemplate struct {
	ID       string `toml:"id"`
	FamilyID string `toml:"family_id"`
	Name     string `toml:"name"`
	Category string `toml:"category"`
	Stars    int64  `toml:"stars"`
	Inactive bool   `toml:"inactive"`
}

type SeedReward struct {
	ID       string `toml:"id"`
	FamilyID string `toml:"family_id"`
	Name     string `toml:"name"`
	Cost     int64  `toml:"cost"`
	Inactive bool   `toml:"inactive"`
}

// DefaultSeed is used when no seed file exists.
func DefaultSeed() Seed {
	const family = "demo"
	return Seed{
		Children: []SeedChild{
			{ID: "mia", FamilyID: family, Name: "Mia"},
			{ID: "leo", FamilyID: family, Name: "Leo"},
		},
		Templates: []SeedTemplate{
			{ID: "dishes", FamilyID: family, Name: "Do the dishes", Category: "chore", Stars: 3},
			{ID: "reading", FamilyID: family, Name: "Read for 20 minutes", Category: "study", Stars: 2},
			{ID: "help-sibling", FamilyID: family, Name: "Help your sibling", Category: "kindness", Stars: 2},
			{ID: "tidy-room", FamilyID: family, Name: "Tidy your room", Category: "chore", Stars: 5},
		},
		Rewards: []SeedReward{
			{ID: "ice-cream", FamilyID: family, Name: "Ice cream", Cost: 5},
			{ID: "screen-time", FamilyID: family, Name: "30 minutes screen time", Cost: 8},
			{ID: "movie-night", FamilyID: family, Name: "Pick the movie", Cost: 15},
		},
	}
}

// LoadSeed decodes a TOML seed file.
func LoadSeed(path string) (Seed, error) {
	var seed Seed
	md, err := toml.DecodeFile(path, &seed)
	if err != nil {
		return Seed{}, fmt.Errorf("decode seed %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Seed{}, fmt.Errorf("seed %s: unknown keys %v", path, undecoded)
	}
	return seed, nil
}

// NewFromFile returns a store seeded from path, or from DefaultSeed when the
// file does not exist.
func NewFromFile(ctx context.Context, path string) (*Store, error) {
	seed := DefaultSeed()
	if path != "" {
		loaded, err := LoadSeed(path)
		switch {
		case err == nil:
			seed = loaded
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, err
		}
	}

	s := New()
	if err := seed.Apply(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply inserts every seed entity that does not exist yet, so it can be run
// repeatedly against any store.
func (sd Seed) Apply(ctx context.Context, st store.Store) error {
	now := time.Now().UTC()
	return st.Update(ctx, func(tx store.Tx) error {
		for _, c := range sd.Children {
			if _, err := tx.GetChild(ctx, c.ID); err == nil {
				continue
			}
			child := core.Child{ID: c.ID, FamilyID: c.FamilyID, Name: c.Name, CreatedAt: now}
			if err := tx.InsertChild(ctx, child); err != nil {
				return fmt.Errorf("seed child %s: %w", c.ID, err)
			}
		}
		for _, t := range sd.Templates {
			if _, err := tx.GetTemplate(ctx, t.ID); err == nil {
				continue
			}
			category, err := core.ParseCategory(t.Category)
			if err != nil {
				return fmt.Errorf("seed template %s: %w", t.ID, err)
			}
			tmpl := core.TaskTemplate{
				ID:        t.ID,
				FamilyID:  t.FamilyID,
				Name:      t.Name,
				Category:  category,
				Stars:     t.Stars,
				Active:    !t.Inactive,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.InsertTemplate(ctx, tmpl); err != nil {
				return fmt.Errorf("seed template %s: %w", t.ID, err)
			}
		}
		for _, r := range sd.Rewards {
			if _, err := tx.GetReward(ctx, r.ID); err == nil {
				continue
			}
			reward := core.Reward{
				ID:        r.ID,
				FamilyID:  r.FamilyID,
				Name:      r.Name,
				Cost:      r.Cost,
				Active:    !r.Inactive,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.InsertReward(ctx, reward); err != nil {
				return fmt.Errorf("seed reward %s: %w", r.ID, err)
			}
		}
		return nil
	})
}
