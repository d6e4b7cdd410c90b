package schema

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/bosai-one/shelter-search/internal/db"
)

// Reason codes for resolution failures, surfaced in degraded payloads.
type Reason string

const (
	ReasonEnvMissing         Reason = "ENV_MISSING"
	ReasonRelationNotFound   Reason = "RELATION_NOT_FOUND"
	ReasonColumnsNotFound    Reason = "COLUMNS_NOT_FOUND"
	ReasonNoEncodingMajority Reason = "NO_ENCODING_MAJORITY"
	ReasonProbeFailed        Reason = "PROBE_FAILED"
)

// Unavailable reports that schema resolution failed. It carries everything an
// operator needs to diagnose the mismatch: the columns actually found and the
// candidate lists that were tried.
type Unavailable struct {
	Reason             Reason
	Columns            []string
	RelationCandidates []string
	LatCandidates      []string
	LonCandidates      []string
	Err                error
}

func (u *Unavailable) Error() string {
	if u.Err != nil {
		return fmt.Sprintf("schema unavailable (%s): %v", u.Reason, u.Err)
	}
	return fmt.Sprintf("schema unavailable (%s)", u.Reason)
}

func (u *Unavailable) Unwrap() error { return u.Err }

// Recorder receives cache and resolution outcomes. The observability package
// implements it with prometheus counters; a nil Recorder is valid.
type Recorder interface {
	SchemaCacheHit()
	SchemaCacheMiss()
	SchemaResolved(ok bool)
}

type cacheEntry struct {
	desc        *Descriptor
	unavailable *Unavailable
	expires     time.Time
}

// Cache memoizes the outcome of catalog resolution for a TTL. Failures are
// cached for the same TTL as successes so an outage does not hammer the
// catalog on every request. The entry is swapped atomically, never mutated,
// and concurrent misses share a single in-flight probe.
type Cache struct {
	pool       db.Pool // nil when no database is configured
	ttl        time.Duration
	sampleSize int
	clock      clockwork.Clock
	recorder   Recorder

	sf    singleflight.Group
	entry atomic.Pointer[cacheEntry]
}

// NewCache builds a schema cache. pool may be nil (no database configured);
// clock may be nil for real time; recorder may be nil.
func NewCache(pool db.Pool, ttl time.Duration, sampleSize int, clock clockwork.Clock, recorder Recorder) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if sampleSize <= 0 {
		sampleSize = 25
	}
	return &Cache{pool: pool, ttl: ttl, sampleSize: sampleSize, clock: clock, recorder: recorder}
}

// Get returns the current descriptor, resolving it against the catalog on a
// miss or after expiry. On failure the returned error is an *Unavailable.
func (c *Cache) Get(ctx context.Context) (*Descriptor, error) {
	if c.pool == nil {
		// Configuration error, surfaced distinctly and never cached.
		return nil, &Unavailable{
			Reason:             ReasonEnvMissing,
			RelationCandidates: RelationCandidates(),
			LatCandidates:      LatCandidates(),
			LonCandidates:      LonCandidates(),
			Err:                eris.New("schema: no database connection configured"),
		}
	}

	if e := c.entry.Load(); e != nil && c.clock.Now().Before(e.expires) {
		if c.recorder != nil {
			c.recorder.SchemaCacheHit()
		}
		return e.result()
	}
	if c.recorder != nil {
		c.recorder.SchemaCacheMiss()
	}

	v, err, _ := c.sf.Do("schema", func() (any, error) {
		// Re-check under the flight: another caller may have just resolved.
		if e := c.entry.Load(); e != nil && c.clock.Now().Before(e.expires) {
			return e, nil
		}
		e := c.resolve(ctx)
		c.entry.Store(e)
		return e, nil
	})
	if err != nil {
		// The resolver never returns an error through singleflight; failures
		// land in the entry itself.
		return nil, &Unavailable{Reason: ReasonProbeFailed, Err: err}
	}
	return v.(*cacheEntry).result()
}

// Invalidate drops the cached entry so the next Get re-probes the catalog.
func (c *Cache) Invalidate() {
	c.entry.Store(nil)
}

func (e *cacheEntry) result() (*Descriptor, error) {
	if e.unavailable != nil {
		return nil, e.unavailable
	}
	return e.desc, nil
}

func (c *Cache) resolve(ctx context.Context) *cacheEntry {
	desc, unavailable := c.probe(ctx)
	if c.recorder != nil {
		c.recorder.SchemaResolved(unavailable == nil)
	}
	if unavailable != nil {
		zap.L().Warn("schema: resolution failed",
			zap.String("reason", string(unavailable.Reason)),
			zap.Strings("columns", unavailable.Columns),
			zap.Error(unavailable.Err),
		)
	} else {
		zap.L().Info("schema: resolved",
			zap.String("relation", desc.Schema+"."+desc.Relation),
			zap.String("lat_col", desc.LatCol),
			zap.String("lon_col", desc.LonCol),
			zap.String("encoding", desc.Encoding.String()),
		)
	}
	return &cacheEntry{
		desc:        desc,
		unavailable: unavailable,
		expires:     c.clock.Now().Add(c.ttl),
	}
}

// probe runs the full resolution pipeline: relation, columns, encoding.
func (c *Cache) probe(ctx context.Context) (*Descriptor, *Unavailable) {
	fail := func(reason Reason, columns []string, err error) (*Descriptor, *Unavailable) {
		return nil, &Unavailable{
			Reason:             reason,
			Columns:            columns,
			RelationCandidates: RelationCandidates(),
			LatCandidates:      LatCandidates(),
			LonCandidates:      LonCandidates(),
			Err:                err,
		}
	}

	rel, err := ResolveRelation(ctx, c.pool)
	if err != nil {
		if eris.Is(err, ErrNotFound) {
			return fail(ReasonRelationNotFound, nil, err)
		}
		return fail(ReasonProbeFailed, nil, err)
	}

	cols, err := ListColumns(ctx, c.pool, rel.Schema, rel.Name)
	if err != nil {
		if eris.Is(err, ErrNotFound) {
			return fail(ReasonColumnsNotFound, nil, err)
		}
		return fail(ReasonProbeFailed, nil, err)
	}

	latCol, okLat := PickColumn(cols, latCandidates)
	lonCol, okLon := PickColumn(cols, lonCandidates)
	if !okLat || !okLon || latCol == lonCol {
		return fail(ReasonColumnsNotFound, cols,
			eris.Errorf("schema: coordinate columns not found in %s.%s", rel.Schema, rel.Name))
	}

	samples, err := SampleCoordinates(ctx, c.pool, rel, latCol, lonCol, c.sampleSize)
	if err != nil {
		return fail(ReasonProbeFailed, cols, err)
	}
	enc, ok := DecideEncoding(samples)
	if !ok {
		return fail(ReasonNoEncodingMajority, cols,
			eris.Errorf("schema: no encoding majority across %d samples", len(samples)))
	}

	desc := &Descriptor{
		Schema:   rel.Schema,
		Relation: rel.Name,
		LatCol:   latCol,
		LonCol:   lonCol,
		Encoding: enc,
		Columns:  cols,
	}
	desc.IDCol, _ = PickColumn(cols, idCandidates)
	desc.NameCol, _ = PickColumn(cols, nameCandidates)
	desc.AddressCol, _ = PickColumn(cols, addressCandidates)
	desc.NotesCol, _ = PickColumn(cols, notesCandidates)
	desc.UpdatedCol, _ = PickColumn(cols, updatedCandidates)
	desc.ActiveCol, _ = PickColumn(cols, activeCandidates)
	desc.PrefCol, _ = PickColumn(cols, prefCandidates)
	desc.MuniCol, _ = PickColumn(cols, muniCandidates)
	return desc, nil
}
