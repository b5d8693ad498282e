package orm

import (
	"context"
)

// PrefetchRelatedObjects loads each named many-to-many relation for all
// instances with one query per relation and caches the results on the
// instances. Instances must share a model.
func PrefetchRelatedObjects(ctx context.Context, instances []*Instance, names ...string) error {
	if len(instances) == 0 {
		return nil
	}

	for _, name := range names {
		first := instances[0]
		mgr, err := first.Related(name)
		if err != nil {
			return newError("prefetch", first.model.Table(), ErrValue,
				"'%s' does not resolve to an item that supports prefetching - this is an invalid parameter to prefetch_related().", name)
		}

		result := mgr.GetPrefetchQuerySet(instances)
		rows, err := result.QuerySet.Fetch(ctx)
		if err != nil {
			return err
		}

		groups := make(map[interface{}][]*Instance)
		for _, row := range rows {
			key := normalizeKey(result.RelValue(row))
			groups[key] = append(groups[key], row)
		}

		for _, inst := range instances {
			related, err := inst.Related(name)
			if err != nil {
				return err
			}
			vals := groups[normalizeKey(result.InstanceValue(inst))]
			inst.SetPrefetched(result.CacheName, related.applyRelFilters(related.Manager.GetQuerySet()).withResultCache(vals))
		}
	}
	return nil
}
