package provider

import (
	"github.com/storyboard/enrich-go/internal/conf"
	"github.com/storyboard/enrich-go/internal/datastore"
	"github.com/storyboard/enrich-go/internal/httpclient"
)

// Registry maps each data kind to its ordered provider fallback chain. The
// first adapter is the primary source; later adapters are consulted when an
// earlier one fails permanently or yields nothing.
type Registry struct {
	byKind map[datastore.FetchKind][]Adapter
	byName map[string]Adapter
}

// NewRegistry builds adapters for every enabled provider and wires the
// per-kind fallback graphs.
func NewRegistry(settings *conf.Settings, client *httpclient.Client) (*Registry, error) {
	r := &Registry{
		byKind: make(map[datastore.FetchKind][]Adapter),
		byName: make(map[string]Adapter),
	}

	var places *GooglePlacesAdapter
	if settings.Providers.Places.Enabled {
		places = NewGooglePlacesAdapter(&settings.Providers.Places, client)
		r.register(places)
	}
	var reddit *RedditAdapter
	if settings.Providers.Reddit.Enabled {
		reddit = NewRedditAdapter(&settings.Providers.Reddit, client)
		r.register(reddit)
	}
	var textgen *TextGenAdapter
	if settings.Providers.TextGen.Enabled {
		tg, err := NewTextGenAdapter(&settings.Providers.TextGen)
		if err != nil {
			return nil, err
		}
		textgen = tg
		r.register(textgen)
	}
	if settings.Providers.OpenWeather.Enabled {
		r.register(NewOpenWeatherAdapter(&settings.Providers.OpenWeather, client))
		r.bind(datastore.KindWeather, r.byName[ProviderOpenWeather])
	}
	if settings.Providers.BestTime.Enabled {
		r.register(NewBestTimeAdapter(&settings.Providers.BestTime, client))
		r.bind(datastore.KindCrowd, r.byName[ProviderBestTime])
	}
	if settings.Providers.YouTube.Enabled {
		yt, err := NewYouTubeAdapter(&settings.Providers.YouTube)
		if err != nil {
			return nil, err
		}
		r.register(yt)
		r.bind(datastore.KindVideos, yt)
	}

	// Fallback order: the places directory is authoritative for reviews,
	// photos and nearby places; the forum signal and the generative-text
	// fallback fill review gaps when the directory has nothing.
	if places != nil {
		r.bind(datastore.KindNearby, places)
		r.bind(datastore.KindPhotos, places)
		r.bind(datastore.KindReviews, places)
	}
	if reddit != nil {
		r.bind(datastore.KindReviews, reddit)
	}
	if textgen != nil {
		r.bind(datastore.KindReviews, textgen)
	}

	return r, nil
}

func (r *Registry) register(a Adapter) {
	r.byName[a.Name()] = a
}

func (r *Registry) bind(kind datastore.FetchKind, a Adapter) {
	r.byKind[kind] = append(r.byKind[kind], a)
}

// ForKind returns the fallback chain for a data kind, primary first.
func (r *Registry) ForKind(kind datastore.FetchKind) []Adapter {
	return r.byKind[kind]
}

// ByName returns the adapter with the given name, or nil.
func (r *Registry) ByName(name string) Adapter {
	return r.byName[name]
}

// Providers returns the names of all registered adapters.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// RegisterForTesting binds an adapter for a kind, replacing the existing
// chain. Test helper only.
func (r *Registry) RegisterForTesting(kind datastore.FetchKind, adapters ...Adapter) {
	r.byKind[kind] = adapters
	for _, a := range adapters {
		r.byName[a.Name()] = a
	}
}

// NewEmptyRegistry returns a registry with no adapters, for tests.
func NewEmptyRegistry() *Registry {
	return &Registry{
		byKind: make(map[datastore.FetchKind][]Adapter),
		byName: make(map[string]Adapter),
	}
}
