// Package registry loads and serves the model catalog. The catalog is
// immutable after load; Reload swaps in a new snapshot atomically
// while in-flight decisions keep the snapshot they started with.
package registry

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	orcherrors "github.com/developer-mesh/orchestration-core/pkg/errors"
	"github.com/developer-mesh/orchestration-core/pkg/models"
	"github.com/developer-mesh/orchestration-core/pkg/observability"
)

// Catalog is the on-disk shape of the model configuration.
type Catalog struct {
	Models          []models.ModelDefinition              `mapstructure:"models"`
	TaskPreferences map[models.TaskType]models.TaskPreference `mapstructure:"task_preferences"`
}

// Snapshot is one immutable view of the catalog. All lookups resolve
// against the snapshot the caller obtained; a reload never mutates an
// existing snapshot.
type Snapshot struct {
	Version   int64
	LoadedAt  time.Time
	models    map[string]*models.ModelDefinition
	ordered   []*models.ModelDefinition
	prefs     map[models.TaskType]models.TaskPreference
	providers map[models.Provider][]string
}

// Model returns the definition for id, or nil when absent.
func (s *Snapshot) Model(id string) *models.ModelDefinition {
	return s.models[id]
}

// Models returns all model definitions in catalog order. The returned
// slice must not be modified.
func (s *Snapshot) Models() []*models.ModelDefinition {
	return s.ordered
}

// ModelsFor returns the preference entry for the task type.
func (s *Snapshot) ModelsFor(taskType models.TaskType) models.TaskPreference {
	return s.prefs[taskType]
}

// Providers returns the distinct providers in the snapshot with the
// model ids each serves.
func (s *Snapshot) Providers() map[models.Provider][]string {
	return s.providers
}

// IsPreferred reports whether the model id appears in the task type's
// preferred list.
func (s *Snapshot) IsPreferred(taskType models.TaskType, modelID string) bool {
	for _, id := range s.prefs[taskType].Preferred {
		if id == modelID {
			return true
		}
	}
	return false
}

// Registry owns the current catalog snapshot.
type Registry struct {
	current  atomic.Pointer[Snapshot]
	validate *validator.Validate
	logger   observability.Logger
	version  atomic.Int64
	path     string
}

// New creates a registry with no catalog loaded yet.
func New(logger observability.Logger) *Registry {
	return &Registry{
		validate: validator.New(),
		logger:   logger.WithPrefix("registry"),
	}
}

// Load reads the catalog from path and installs it as the current
// snapshot. Schema violations return a config-classified error and
// must fail process startup.
func (r *Registry) Load(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return orcherrors.Wrap(err, orcherrors.KindConfig, fmt.Sprintf("reading catalog %s", path))
	}
	r.path = path
	return r.install(v)
}

// LoadFromBytes parses a catalog document directly. Used by tests and
// embedded deployments.
func (r *Registry) LoadFromBytes(data []byte, format string) error {
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return orcherrors.Wrap(err, orcherrors.KindConfig, "parsing catalog document")
	}
	return r.install(v)
}

// Reload re-reads the catalog from the original path and atomically
// replaces the snapshot. In-flight decisions keep their snapshot.
func (r *Registry) Reload() error {
	if r.path == "" {
		return orcherrors.New(orcherrors.KindConfig, "registry was not loaded from a file")
	}
	return r.Load(r.path)
}

// Snapshot returns the current immutable snapshot. Callers hold it for
// the duration of a decision.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

func (r *Registry) install(v *viper.Viper) error {
	var catalog Catalog
	if err := v.Unmarshal(&catalog); err != nil {
		return orcherrors.Wrap(err, orcherrors.KindConfig, "decoding catalog")
	}
	snap, err := r.build(&catalog)
	if err != nil {
		return err
	}
	r.current.Store(snap)
	r.logger.Info("catalog loaded", map[string]interface{}{
		"version": snap.Version,
		"models":  len(snap.ordered),
	})
	return nil
}

func (r *Registry) build(catalog *Catalog) (*Snapshot, error) {
	if len(catalog.Models) == 0 {
		return nil, orcherrors.New(orcherrors.KindConfig, "catalog contains no models")
	}

	snap := &Snapshot{
		Version:   r.version.Add(1),
		LoadedAt:  time.Now().UTC(),
		models:    make(map[string]*models.ModelDefinition, len(catalog.Models)),
		ordered:   make([]*models.ModelDefinition, 0, len(catalog.Models)),
		prefs:     make(map[models.TaskType]models.TaskPreference, len(catalog.TaskPreferences)),
		providers: make(map[models.Provider][]string),
	}

	for i := range catalog.Models {
		def := catalog.Models[i]
		if err := r.validate.Struct(&def); err != nil {
			return nil, orcherrors.Wrap(err, orcherrors.KindConfig,
				fmt.Sprintf("model %q failed validation", def.ID))
		}
		if _, exists := snap.models[def.ID]; exists {
			return nil, orcherrors.Newf(orcherrors.KindConfig, "duplicate model id %q", def.ID)
		}
		snap.models[def.ID] = &def
		snap.ordered = append(snap.ordered, &def)
		snap.providers[def.Provider] = append(snap.providers[def.Provider], def.ID)
	}

	for taskType, pref := range catalog.TaskPreferences {
		for _, id := range pref.Preferred {
			if _, ok := snap.models[id]; !ok {
				return nil, orcherrors.Newf(orcherrors.KindConfig,
					"task preference for %s references unknown model %q", taskType, id)
			}
		}
		snap.prefs[taskType] = pref
	}

	return snap, nil
}
