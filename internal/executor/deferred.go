package executor

import (
	"github.com/joao-brasil/sqlrt/internal/cachekey"
	"github.com/joao-brasil/sqlrt/internal/mapping"
)

// DeferredLoad assigns a property of a result object from a local cache
// entry once that entry is materialized.
type DeferredLoad struct {
	resultObject mapping.ResultObject
	property     string
	key          *cachekey.CacheKey
	kind         mapping.TargetKind
	localCache   *LocalCache
}

func newDeferredLoad(obj mapping.ResultObject, property string, key *cachekey.CacheKey, kind mapping.TargetKind, lc *LocalCache) *DeferredLoad {
	return &DeferredLoad{resultObject: obj, property: property, key: key, kind: kind, localCache: lc}
}

// CanLoad reports whether the value is materialized.
func (d *DeferredLoad) CanLoad() bool {
	_, ok := d.localCache.Result(d.key)
	return ok
}

// Load assigns the value. A key that is no longer cached assigns nil.
func (d *DeferredLoad) Load() error {
	list, _ := d.localCache.Result(d.key)
	v, err := d.kind.Extract(list)
	if err != nil {
		return err
	}
	d.resultObject[d.property] = v
	return nil
}
