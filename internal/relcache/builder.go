package relcache

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/relmeta/relmeta/internal/catalog"
	"github.com/relmeta/relmeta/internal/errors"
	"github.com/relmeta/relmeta/internal/expr"
	"github.com/relmeta/relmeta/pkg/types"
)

// build derives a complete descriptor from catalog truth. Nothing is
// installed on failure and every bound payload copied along the way is
// freed again, so a failed build leaves the cache and the allocation
// tracker exactly as they were.
func (s *Store) build(ctx context.Context, relid types.RelationID, kind types.PartitionKind, source string, allowIncomplete bool) (*Descriptor, error) {
	if kind != types.KindHash && kind != types.KindRange {
		return nil, errors.NewInternalError(errors.CodeUnknownPartitioningKind,
			fmt.Sprintf("cannot build descriptor for %s with kind %s", relid, kind))
	}

	cfg, err := s.catalog.PartitioningConfig(ctx, relid)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewCacheError(errors.CodeBuildAborted,
				fmt.Sprintf("relation %s lost its partitioning config mid-build", relid))
		}
		return nil, err
	}
	if cfg.Kind != kind {
		return nil, errors.NewCacheError(errors.CodeInconsistentPartitioning,
			fmt.Sprintf("relation %s is partitioned by %s, build requested %s", relid, cfg.Kind, kind))
	}

	cooked, err := s.cookExpression(ctx, relid, source, cfg)
	if err != nil {
		return nil, err
	}

	typeInfo, err := s.reg.TypeInfo(cooked.ResultType, cfg.TypeModifier, cfg.Collation)
	if err != nil {
		return nil, err
	}
	cmpProc, hashProc, err := s.reg.Procs(cooked.ResultType)
	if err != nil {
		return nil, err
	}

	rows, err := s.catalog.Children(ctx, relid)
	if err != nil {
		return nil, err
	}

	d := &Descriptor{
		relid:        relid,
		fresh:        true,
		enableParent: cfg.EnableParent,
		kind:         kind,
		cooked:       cooked,
		typeInfo:     typeInfo,
		cmpProc:      cmpProc,
		hashProc:     hashProc,
		buildID:      uuid.New(),
	}

	switch kind {
	case types.KindHash:
		err = s.buildHashLayout(d, rows, allowIncomplete)
	case types.KindRange:
		err = s.buildRangeLayout(d, rows, allowIncomplete)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// cookExpression reuses the catalog's cached compiled form when it matches
// the current source text, re-cooking (and re-caching, best effort)
// otherwise.
func (s *Store) cookExpression(ctx context.Context, relid types.RelationID, source string, cfg *catalog.PartitioningConfig) (*expr.Cooked, error) {
	if len(cfg.CookedExpr) > 0 {
		cooked, err := expr.Decode(cfg.CookedExpr)
		if err == nil && cooked.Source == source {
			return cooked, nil
		}
		if err != nil {
			s.log.Warn().Uint32("relation", uint32(relid)).Err(err).
				Msg("cached compiled expression is unreadable, re-planning")
		}
	}

	cooked, err := s.cooker.Cook(ctx, relid, source)
	if err != nil {
		return nil, err
	}
	if blob, encErr := cooked.Encode(); encErr == nil {
		if storeErr := s.catalog.StoreCookedExpr(ctx, relid, blob); storeErr != nil {
			s.log.Warn().Uint32("relation", uint32(relid)).Err(storeErr).
				Msg("failed to cache compiled expression")
		}
	}
	return cooked, nil
}

// buildHashLayout places each child into its hash slot. Slot indexes must
// form an exact cover of [0, N); a mid-attach child leaves its slot empty
// only under allowIncomplete.
func (s *Store) buildHashLayout(d *Descriptor, rows []catalog.ChildRecord, allowIncomplete bool) error {
	n := len(rows)
	children := make([]types.RelationID, n)

	for _, row := range rows {
		if row.HashIndex == nil {
			return errors.NewCacheError(errors.CodeInconsistentPartitioning,
				fmt.Sprintf("hash partition %s has no slot index", row.Relid))
		}
		idx := *row.HashIndex
		if idx < 0 || idx >= n {
			return errors.NewCacheError(errors.CodeInconsistentPartitioning,
				fmt.Sprintf("hash partition %s has slot %d outside [0,%d)", row.Relid, idx, n))
		}
		if children[idx].Valid() {
			return errors.NewCacheError(errors.CodeInconsistentPartitioning,
				fmt.Sprintf("hash slot %d claimed by both %s and %s", idx, children[idx], row.Relid))
		}
		if row.Pending {
			if !allowIncomplete {
				return errors.NewCacheError(errors.CodeBuildAborted,
					fmt.Sprintf("partition %s is mid-attach", row.Relid))
			}
			d.incomplete = true
			continue
		}
		children[idx] = row.Relid
	}

	if !d.incomplete {
		for idx, ch := range children {
			if !ch.Valid() {
				return errors.NewCacheError(errors.CodeInconsistentPartitioning,
					fmt.Sprintf("hash slot %d of relation %s is unclaimed", idx, d.relid))
			}
		}
	}
	d.children = children
	return nil
}

// buildRangeLayout decodes, copies, sorts and validates the range entries.
// The catalog's row order is not trusted: entries are re-sorted by min and
// then checked pairwise for duplicates and overlap.
func (s *Store) buildRangeLayout(d *Descriptor, rows []catalog.ChildRecord, allowIncomplete bool) error {
	cmp, err := s.reg.Compare(d.cmpProc)
	if err != nil {
		return err
	}
	collation := d.typeInfo.Collation

	entries := make([]types.RangeEntry, 0, len(rows))
	abandon := func() {
		for i := range entries {
			types.FreeBound(&entries[i].Min, d.typeInfo.ByValue, s.tracker)
			types.FreeBound(&entries[i].Max, d.typeInfo.ByValue, s.tracker)
		}
	}

	for _, row := range rows {
		if row.Pending {
			if !allowIncomplete {
				abandon()
				return errors.NewCacheError(errors.CodeBuildAborted,
					fmt.Sprintf("partition %s is mid-attach", row.Relid))
			}
			d.incomplete = true
			continue
		}
		if row.RangeMinSpec == nil || row.RangeMaxSpec == nil {
			abandon()
			return errors.NewCacheError(errors.CodeInconsistentPartitioning,
				fmt.Sprintf("range partition %s has no bounds", row.Relid))
		}
		min, err := catalog.DecodeBound(*row.RangeMinSpec, d.cooked.ResultType)
		if err != nil {
			abandon()
			return err
		}
		max, err := catalog.DecodeBound(*row.RangeMaxSpec, d.cooked.ResultType)
		if err != nil {
			abandon()
			return err
		}
		if types.CompareBounds(cmp, collation, min, max) >= 0 {
			abandon()
			return errors.NewValidationError(errors.CodeMalformedRangeSet,
				fmt.Sprintf("partition %s covers an empty range [%s, %s)", row.Relid, min, max))
		}
		entries = append(entries, types.RangeEntry{
			Child: row.Relid,
			Min:   types.CopyBound(min, d.typeInfo.ByValue, s.tracker),
			Max:   types.CopyBound(max, d.typeInfo.ByValue, s.tracker),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return types.CompareBounds(cmp, collation, entries[i].Min, entries[j].Min) < 0
	})

	for i := 1; i < len(entries); i++ {
		prev, cur := &entries[i-1], &entries[i]
		if types.CompareBounds(cmp, collation, prev.Min, cur.Min) == 0 {
			abandon()
			return errors.NewValidationError(errors.CodeMalformedRangeSet,
				fmt.Sprintf("partitions %s and %s start at the same bound %s", prev.Child, cur.Child, cur.Min))
		}
		if types.CompareBounds(cmp, collation, prev.Max, cur.Min) > 0 {
			abandon()
			return errors.NewValidationError(errors.CodeMalformedRangeSet,
				fmt.Sprintf("partitions %s and %s overlap at %s", prev.Child, cur.Child, cur.Min))
		}
	}

	children := make([]types.RelationID, len(entries))
	for i, e := range entries {
		children[i] = e.Child
	}
	d.children = children
	d.ranges = entries
	return nil
}
