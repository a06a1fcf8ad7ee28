// Package classifier maps account environment tags to environment classes.
// Classification is derived on demand from an explicit mapping, so distinct
// rule sets can coexist without interfering with each other.
package classifier

import (
	"strings"

	"github.com/qualys/accessgraph/internal/models"
)

// Mapping assigns raw environment tags to an environment class. Matching is
// case-insensitive; tags absent from every class fall through to other.
type Mapping map[models.Environment][]string

func DefaultMapping() Mapping {
	return Mapping{
		models.EnvProduction:    {"prod"},
		models.EnvNonProduction: {"dev", "test", "stage"},
	}
}

type Classifier struct {
	byTag map[string]models.Environment
}

func New() *Classifier {
	return NewWithMapping(DefaultMapping())
}

func NewWithMapping(m Mapping) *Classifier {
	byTag := make(map[string]models.Environment)
	for env, tags := range m {
		for _, tag := range tags {
			byTag[strings.ToLower(tag)] = env
		}
	}
	return &Classifier{byTag: byTag}
}

// Validate rejects mappings that name an unknown environment class. Empty
// tag lists are fine; an empty mapping classifies everything as other.
func (m Mapping) Validate() error {
	for env := range m {
		switch env {
		case models.EnvProduction, models.EnvNonProduction, models.EnvOther:
		default:
			return &models.ConfigurationError{
				Field: "environments",
				Msg:   "unknown environment class " + string(env),
			}
		}
	}
	return nil
}

// Classify is total: every tag classifies, unknown tags map to other.
func (c *Classifier) Classify(environmentTag string) models.Environment {
	if env, ok := c.byTag[strings.ToLower(environmentTag)]; ok {
		return env
	}
	return models.EnvOther
}
