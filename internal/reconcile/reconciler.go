// Package reconcile resolves provider-reported nearby places against the
// canonical attraction catalog. Identity is unified by place id first and by
// normalized name plus proximity second; candidates that match nothing are
// created as minimal entities flagged for later enrichment.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/storyboard/enrich-go/internal/conf"
	"github.com/storyboard/enrich-go/internal/datastore"
	"github.com/storyboard/enrich-go/internal/errors"
	"github.com/storyboard/enrich-go/internal/logging"
	"github.com/storyboard/enrich-go/internal/provider"
)

// Locator resolves a venue name to coordinates and a place id. The places
// adapter's geocoding chain implements it; a nil locator disables location
// lookups.
type Locator interface {
	Locate(ctx context.Context, name, city string) (*provider.PlaceDetails, error)
}

// Reconciler maps nearby place candidates to canonical attraction IDs.
// Resolve is idempotent: the same candidate always lands on the same entity.
type Reconciler struct {
	store   datastore.Interface
	locator Locator
	radius  float64
	cache   *gocache.Cache
}

// New creates a reconciler. The cache memoizes resolved candidates so a
// sweep that sees the same place from many attractions hits the database once.
func New(store datastore.Interface, settings *conf.ReconcilerSettings, locator Locator) *Reconciler {
	ttl := settings.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Reconciler{
		store:   store,
		locator: locator,
		radius:  settings.MatchRadiusMeters,
		cache:   gocache.New(ttl, 2*ttl),
	}
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName lowercases, strips diacritics and collapses punctuation so
// "Musée d'Orsay" and "musee dorsay" compare equal.
func NormalizeName(name string) string {
	folded, _, err := transform.String(foldTransformer, name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	b.Grow(len(folded))
	lastSpace := true
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Resolve returns the canonical attraction ID for a candidate, creating a
// minimal entity when no existing attraction matches. cityID scopes fuzzy
// matching; a zero cityID disables the city constraint.
func (r *Reconciler) Resolve(ctx context.Context, cityID uint, candidate *provider.NearbyPlaceItem) (uint, error) {
	if candidate.Name == "" {
		return 0, errors.Newf("candidate has no name").
			Component("reconciler").
			Category(errors.CategoryValidation).
			Build()
	}

	key := cacheKey(cityID, candidate)
	if cached, found := r.cache.Get(key); found {
		return cached.(uint), nil
	}

	id, err := r.resolve(ctx, cityID, candidate)
	if err != nil {
		return 0, err
	}
	r.cache.Set(key, id, gocache.DefaultExpiration)
	return id, nil
}

func (r *Reconciler) resolve(ctx context.Context, cityID uint, candidate *provider.NearbyPlaceItem) (uint, error) {
	// A candidate without coordinates cannot be fuzzy-matched; ask the
	// locator for its place before anything else.
	if candidate.Latitude == 0 && candidate.Longitude == 0 {
		r.locate(ctx, cityID, candidate)
	}

	// Exact identity by place id wins over everything else.
	if candidate.PlaceID != "" {
		existing, err := r.store.GetAttractionByPlaceID(candidate.PlaceID)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			return existing.ID, nil
		}
	}

	match, err := r.fuzzyMatch(cityID, candidate)
	if err != nil {
		return 0, err
	}
	if match != nil {
		// Backfill the place id onto a fuzzy match that lacked one, so the
		// next resolve takes the exact path.
		if candidate.PlaceID != "" && match.PlaceID == nil {
			if err := r.store.UpdateAttractionFields(match.ID, map[string]any{"place_id": candidate.PlaceID}); err != nil {
				logging.ForService("reconciler").Warn("place id backfill failed",
					"attraction_id", match.ID, "error", err)
			}
		}
		return match.ID, nil
	}

	return r.createMinimal(cityID, candidate)
}

// locate fills a candidate's coordinates (and place id, when missing) from
// the geocoding chain. Lookup failures leave the candidate as-is; the resolve
// then falls through to creating an unlocated stub.
func (r *Reconciler) locate(ctx context.Context, cityID uint, candidate *provider.NearbyPlaceItem) {
	if r.locator == nil {
		return
	}
	cityName := ""
	if cityID != 0 {
		if city, err := r.store.GetCity(cityID); err == nil {
			cityName = city.Name
		}
	}
	d, err := r.locator.Locate(ctx, candidate.Name, cityName)
	if err != nil || d == nil {
		if err != nil {
			logging.ForService("reconciler").Warn("locating candidate failed",
				"name", candidate.Name, "error", err)
		}
		return
	}
	candidate.Latitude = d.Latitude
	candidate.Longitude = d.Longitude
	if candidate.PlaceID == "" {
		candidate.PlaceID = d.PlaceID
	}
}

// fuzzyMatch finds an attraction with the same normalized name within the
// match radius. More than one such attraction is ambiguous and matches
// nothing; guessing wrong would silently merge distinct venues.
func (r *Reconciler) fuzzyMatch(cityID uint, candidate *provider.NearbyPlaceItem) (*datastore.Attraction, error) {
	if candidate.Latitude == 0 && candidate.Longitude == 0 {
		return nil, nil
	}
	near, err := r.store.FindAttractionsNear(cityID, candidate.Latitude, candidate.Longitude, r.radius)
	if err != nil {
		return nil, err
	}

	normName := NormalizeName(candidate.Name)
	var matches []datastore.Attraction
	for i := range near {
		if near[i].NormalizedName != normName {
			continue
		}
		d := haversineMeters(candidate.Latitude, candidate.Longitude, near[i].Latitude, near[i].Longitude)
		if d <= r.radius {
			matches = append(matches, near[i])
		}
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return &matches[0], nil
	default:
		logging.ForService("reconciler").Warn("ambiguous fuzzy match, creating new entity",
			"name", candidate.Name, "matches", len(matches))
		return nil, nil
	}
}

// createMinimal inserts a stub attraction for an unmatched candidate. A
// unique place id collision means another resolve won the race; the existing
// row is returned instead.
func (r *Reconciler) createMinimal(cityID uint, candidate *provider.NearbyPlaceItem) (uint, error) {
	a := &datastore.Attraction{
		CityID:          cityID,
		Name:            candidate.Name,
		NormalizedName:  NormalizeName(candidate.Name),
		Latitude:        candidate.Latitude,
		Longitude:       candidate.Longitude,
		Rating:          candidate.Rating,
		ReviewCount:     candidate.UserRatingsTotal,
		Source:          "reconciler",
		NeedsEnrichment: true,
	}
	if candidate.PlaceID != "" {
		placeID := candidate.PlaceID
		a.PlaceID = &placeID
	}

	if err := r.store.InsertAttraction(a); err != nil {
		if candidate.PlaceID != "" {
			existing, lookupErr := r.store.GetAttractionByPlaceID(candidate.PlaceID)
			if lookupErr == nil && existing != nil {
				return existing.ID, nil
			}
		}
		return 0, errors.New(fmt.Errorf("creating entity for %q: %w", candidate.Name, err)).
			Component("reconciler").
			Category(errors.CategoryReconciliation).
			Build()
	}
	return a.ID, nil
}

func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadius = 6371000
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadius * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func cacheKey(cityID uint, candidate *provider.NearbyPlaceItem) string {
	if candidate.PlaceID != "" {
		return "place:" + candidate.PlaceID
	}
	return fmt.Sprintf("name:%d:%s", cityID, NormalizeName(candidate.Name))
}
