package tibia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind selects which boosted entity a value refers to.
type Kind string

const (
	KindCreature Kind = "creature"
	KindBoss     Kind = "boss"
)

func (k Kind) String() string { return string(k) }

// Source tells where a Details record came from.
type Source int

const (
	SourceNone Source = iota
	SourcePrimaryAPI
	SourceWikiFallback
)

func (s Source) String() string {
	switch s {
	case SourcePrimaryAPI:
		return "tibiadata"
	case SourceWikiFallback:
		return "tibiawiki"
	default:
		return "none"
	}
}

// Boosted holds today's boosted names. An empty name means the API did not report one.
type Boosted struct {
	Creature  string
	Boss      string
	Timestamp string
}

func (b Boosted) Name(k Kind) string {
	if k == KindBoss {
		return b.Boss
	}
	return b.Creature
}

// Details is a best-effort description of a creature or boss.
type Details struct {
	Name        string
	Race        string
	HitPoints   *int64
	Experience  *int64
	Description string
	Loot        []string
	ImageURL    string
	Source      Source
}

// HasData reports whether d carries anything beyond the name.
func (d Details) HasData() bool {
	return d.HitPoints != nil || d.Experience != nil || strings.TrimSpace(d.Description) != "" || len(d.Loot) > 0
}

// Source of boosted data. FetchDetails never fails; it degrades to a placeholder.
type DataSource interface {
	FetchBoosted(ctx context.Context) (Boosted, error)
	FetchDetails(ctx context.Context, k Kind, name string) Details
}

var (
	// ErrNoBoosted is returned when neither a boosted creature nor a boss was reported.
	ErrNoBoosted = errors.New("tibia: no boosted creature or boss in response")
	// ErrParse marks a 200 response whose body could not be decoded.
	ErrParse = errors.New("tibia: malformed response")

	errRateLimited = errors.New("rate limited (429)")
)

// FetchError is returned once the retry budget for a request is exhausted.
type FetchError struct {
	Path       string
	Attempts   int
	LastStatus int
	Err        error
}

func (e *FetchError) Error() string {
	if e.LastStatus != 0 {
		return fmt.Sprintf("tibia: GET %s failed after %d attempts (last status %d): %v", e.Path, e.Attempts, e.LastStatus, e.Err)
	}
	return fmt.Sprintf("tibia: GET %s failed after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ---- wire types ----

type information struct {
	Timestamp string `json:"timestamp"`
}

type boostedEntry struct {
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}

type creaturesResponse struct {
	Creatures struct {
		Boosted boostedEntry `json:"boosted"`
	} `json:"creatures"`
	Information information `json:"information"`
}

type bossesResponse struct {
	BoostableBosses struct {
		Boosted boostedEntry `json:"boosted"`
	} `json:"boostable_bosses"`
	Information information `json:"information"`
}

type creatureResponse struct {
	Creature *creatureWire `json:"creature"`
}

type creatureWire struct {
	Name             string     `json:"name"`
	Race             string     `json:"race"`
	ImageURL         string     `json:"image_url"`
	Description      string     `json:"description"`
	Behaviour        string     `json:"behaviour"`
	Hitpoints        optInt     `json:"hitpoints"`
	ExperiencePoints optInt     `json:"experience_points"`
	LootList         []string   `json:"loot_list"`
	Loot             []lootItem `json:"loot"`
}

type lootItem struct {
	Name string `json:"name"`
}

// optInt accepts a JSON number or a numeric string; anything else decodes to "absent".
type optInt struct{ v *int64 }

func (o *optInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		o.v = nil
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return nil
		}
		s = strings.ReplaceAll(strings.TrimSpace(str), ",", "")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		o.v = &n
		return nil
	}
	// 2^63 is exact as a float64; anything at or beyond it does not fit.
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) &&
		f >= math.MinInt64 && f < math.MaxInt64 {
		n := int64(f)
		o.v = &n
		return nil
	}
	o.v = nil
	return nil
}

func (w *creatureWire) details() Details {
	d := Details{
		Name:        strings.TrimSpace(w.Name),
		Race:        w.Race,
		HitPoints:   w.Hitpoints.v,
		Experience:  w.ExperiencePoints.v,
		Description: strings.TrimSpace(w.Description),
		ImageURL:    w.ImageURL,
		Source:      SourcePrimaryAPI,
	}
	if d.Description == "" {
		d.Description = strings.TrimSpace(w.Behaviour)
	}
	switch {
	case len(w.LootList) > 0:
		for _, it := range w.LootList {
			if it = strings.TrimSpace(it); it != "" {
				d.Loot = append(d.Loot, it)
			}
		}
	case len(w.Loot) > 0:
		for _, it := range w.Loot {
			if n := strings.TrimSpace(it.Name); n != "" {
				d.Loot = append(d.Loot, n)
			}
		}
	}
	return d
}
