// Package cache memoizes NL→SQL translations. Generation dominates
// turn latency by two orders of magnitude, so answering a repeated
// question without touching the model is the single cheapest speedup
// the pipeline has.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Translations maps (dataset, route, normalized question) to the SQL
// that previously executed successfully. Only proven statements go in;
// failed generations never do.
type Translations struct {
	cache   *gocache.Cache
	enabled bool
}

func NewTranslations(enabled bool, ttl time.Duration) *Translations {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Translations{
		cache:   gocache.New(ttl, 2*ttl),
		enabled: enabled,
	}
}

func (t *Translations) Get(datasetID, route, question string) (string, bool) {
	if !t.enabled {
		return "", false
	}
	value, ok := t.cache.Get(key(datasetID, route, question))
	if !ok {
		return "", false
	}
	sqlText, ok := value.(string)
	return sqlText, ok
}

func (t *Translations) Put(datasetID, route, question, sqlText string) {
	if !t.enabled || strings.TrimSpace(sqlText) == "" {
		return
	}
	t.cache.Set(key(datasetID, route, question), sqlText, gocache.DefaultExpiration)
}

func (t *Translations) Enabled() bool { return t.enabled }

// key hashes the lookup triple. The question is case-folded and
// whitespace-collapsed so trivial rephrasings of the same words hit.
func key(datasetID, route, question string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(question), " "))
	sum := sha256.Sum256([]byte(datasetID + "\x00" + route + "\x00" + normalized))
	return hex.EncodeToString(sum[:])
}
