package grovedb

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/grovedb/go-grovedb/costs"
	"github.com/grovedb/go-grovedb/merk"
	"github.com/grovedb/go-grovedb/storage"
)

// OpKind discriminates batch operations against the grove.
type OpKind uint8

const (
	// OpInsertRun writes an element, creating or replacing the key.
	OpInsertRun OpKind = iota

	// OpReplaceRun writes an element over an existing key.
	OpReplaceRun

	// OpDeleteRun removes a key; a subtree key must be empty.
	OpDeleteRun

	// OpDeleteTreeRun removes a subtree key together with all of its
	// descendant records.
	OpDeleteTreeRun
)

// Op is one grove operation: a path, a key under it, and what to do there.
type Op struct {
	Path    [][]byte
	Key     []byte
	Kind    OpKind
	Element *Element
}

// InsertOp builds an insert operation.
func InsertOp(path [][]byte, key []byte, element *Element) Op {
	return Op{Path: path, Key: key, Kind: OpInsertRun, Element: element}
}

// ReplaceOp builds a replace operation.
func ReplaceOp(path [][]byte, key []byte, element *Element) Op {
	return Op{Path: path, Key: key, Kind: OpReplaceRun, Element: element}
}

// DeleteOp builds a delete operation.
func DeleteOp(path [][]byte, key []byte) Op {
	return Op{Path: path, Key: key, Kind: OpDeleteRun}
}

// DeleteTreeOp builds a subtree-clearing delete operation.
func DeleteTreeOp(path [][]byte, key []byte) Op {
	return Op{Path: path, Key: key, Kind: OpDeleteTreeRun}
}

// FlagUpdateFn fires at cost-classification time when an existing element is
// rewritten. It may return replacement flags; the boolean reports whether
// they changed.
type FlagUpdateFn func(transition costs.StorageCost, oldFlags, newFlags []byte) ([]byte, bool, error)

// SplitRemovalFn attributes freed bytes using the removed element's flags.
type SplitRemovalFn func(flags []byte, removedKeyBytes, removedValueBytes uint32) (costs.StorageRemovedBytes, error)

// batch run phases.
type runPhase uint8

const (
	phasePlanned runPhase = iota
	phaseExecuting
	phaseCommitted
	phaseRolledBack
)

// childUpdate carries a finalized child subtree root up to its parent slot.
type childUpdate struct {
	root   merk.Hash
	sum    int64
	sumSet bool
}

// runGroup is the per-subtree slice of a batch: its explicit operations plus
// child-root updates synthesized while deeper groups executed.
type runGroup struct {
	path    [][]byte
	pathKey string
	ops     []Op

	childUpdates map[string]childUpdate
	childOrder   [][]byte

	merk *merk.Merk
}

func (rg *runGroup) addChildUpdate(key []byte, cu childUpdate) {
	if rg.childUpdates == nil {
		rg.childUpdates = make(map[string]childUpdate)
	}
	if _, ok := rg.childUpdates[string(key)]; !ok {
		rg.childOrder = append(rg.childOrder, append([]byte{}, key...))
	}
	rg.childUpdates[string(key)] = cu
}

// batchRun threads the executor state through one ApplyBatch call.
type batchRun struct {
	phase          runPhase
	tx             *storage.Transaction
	batch          *storage.StorageBatch
	groups         map[string]*runGroup
	plan           []*runGroup
	merks          map[string]*merk.Merk // by prefix; at most one open per prefix
	featureHints   map[string]merk.FeatureType
	flagUpdate     FlagUpdateFn
	splitRemoval   SplitRemovalFn
	leafSetChanged bool
}

// ApplyBatch plans and executes a multi-path batch atomically, returning the
// accumulated cost. With a transaction the writes stage behind a savepoint;
// without one they flow through a single atomic backend write.
func (g *GroveDB) ApplyBatch(ops []Op, tx *storage.Transaction) (costs.OperationCost, error) {
	return g.ApplyBatchWithFlagsUpdate(ops, nil, nil, tx)
}

// ApplyBatchWithFlagsUpdate is ApplyBatch with flag-mediated cost policy
// callbacks.
func (g *GroveDB) ApplyBatchWithFlagsUpdate(ops []Op, flagUpdate FlagUpdateFn, splitRemoval SplitRemovalFn, tx *storage.Transaction) (costs.OperationCost, error) {
	var cost costs.OperationCost
	local := costs.OperationCost{}
	err := g.applyOps(&local, ops, flagUpdate, splitRemoval, tx)
	if err != nil {
		// Pending byte deltas are discarded on failure; the seeks, loads and
		// hash work observed so far are preserved.
		local.Storage = costs.StorageCost{}
	}
	cost.Add(local)
	return cost, err
}

func (g *GroveDB) applyOps(cost *costs.OperationCost, ops []Op, flagUpdate FlagUpdateFn, splitRemoval SplitRemovalFn, tx *storage.Transaction) error {
	if len(ops) == 0 {
		return nil
	}

	run := &batchRun{
		phase:        phasePlanned,
		tx:           tx,
		batch:        storage.NewStorageBatch(),
		groups:       make(map[string]*runGroup),
		merks:        make(map[string]*merk.Merk),
		featureHints: make(map[string]merk.FeatureType),
		flagUpdate:   flagUpdate,
		splitRemoval: splitRemoval,
	}

	// Group by path, rejecting duplicate (path, key) pairs; hint the feature
	// type of subtrees this batch creates so their groups open correctly.
	seen := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		pk := pathCacheKey(op.Path)
		opKey := pk + "\x00" + string(op.Key)
		if _, dup := seen[opKey]; dup {
			return ErrBatchConflict
		}
		seen[opKey] = struct{}{}

		group, ok := run.groups[pk]
		if !ok {
			group = &runGroup{path: op.Path, pathKey: pk}
			run.groups[pk] = group
			run.plan = append(run.plan, group)
		}
		group.ops = append(group.ops, op)

		if (op.Kind == OpInsertRun || op.Kind == OpReplaceRun) && op.Element != nil && op.Element.IsTree() {
			childKey := pathCacheKey(appendPath(op.Path, op.Key))
			if op.Element.IsSumTree() {
				run.featureHints[childKey] = merk.Summed
			} else {
				run.featureHints[childKey] = merk.Basic
			}
		}
	}

	// Deepest groups first, so parents see finalized descendant roots;
	// lexicographic within a depth for determinism.
	sort.SliceStable(run.plan, func(i, j int) bool {
		di, dj := len(run.plan[i].path), len(run.plan[j].path)
		if di != dj {
			return di > dj
		}
		return run.plan[i].pathKey < run.plan[j].pathKey
	})

	if tx != nil {
		tx.SetSavepoint()
	}
	run.phase = phaseExecuting

	fail := func(err error) error {
		run.phase = phaseRolledBack
		if tx != nil {
			_ = tx.RollbackToSavepoint()
		}
		g.recoverFromFailedRun()
		return err
	}

	for i := 0; i < len(run.plan); i++ {
		if err := g.processGroup(cost, run, i); err != nil {
			return fail(err)
		}
	}

	if run.leafSetChanged {
		g.rootLeaves.rebuild(cost)
	}

	if _, err := g.store.CommitMultiContextBatch(cost, run.batch, tx); err != nil {
		return fail(wrapStorage(err))
	}
	run.phase = phaseCommitted
	g.log.Debug("batch applied", "ops", len(ops), "subtrees", len(run.plan), "writes", run.batch.Len())
	return nil
}

// recoverFromFailedRun drops all in-memory state derived from storage after
// a failed run and reloads the root-leaf registry.
func (g *GroveDB) recoverFromFailedRun() {
	g.resetCaches()
	if registry, err := loadRootLeafRegistry(g.db, g.rootPrefix); err == nil {
		g.rootLeaves = registry
	}
}

// runContext builds the storage context for a path inside this run.
func (g *GroveDB) runContext(cost *costs.OperationCost, run *batchRun, path [][]byte) *storage.Context {
	prefix := g.prefix(cost, path)
	if run.tx != nil {
		return g.store.BatchTransactionalContextWithPrefix(prefix, run.batch, run.tx)
	}
	return g.store.BatchContextWithPrefix(prefix, run.batch)
}

// runMerk opens (or rebinds) the Merk for a path inside this run. Each
// prefix is opened at most once per run. Outside a transaction the engine's
// cached handle is reused with its writes routed into the run's batch;
// inside one, a fresh handle reads through the transaction.
func (g *GroveDB) runMerk(cost *costs.OperationCost, run *batchRun, path [][]byte) (*merk.Merk, error) {
	prefix := g.prefix(cost, path)
	if m, ok := run.merks[string(prefix[:])]; ok {
		return m, nil
	}
	ctx := g.runContext(cost, run, path)
	if run.tx == nil {
		if m, ok := g.subtrees[string(prefix[:])]; ok {
			m.SetContext(ctx)
			run.merks[string(prefix[:])] = m
			return m, nil
		}
	}
	feature, hinted := run.featureHints[pathCacheKey(path)]
	if !hinted {
		var err error
		feature, err = g.runSubtreeFeature(cost, run, path)
		if err != nil {
			return nil, err
		}
	}
	m, err := merk.Open(cost, ctx, feature)
	if err != nil {
		return nil, wrapStorage(err)
	}
	m.PruneDepth = g.cfg.PruneDepth
	run.merks[string(prefix[:])] = m
	if run.tx == nil {
		g.subtrees[string(prefix[:])] = m
	}
	return m, nil
}

// runSubtreeFeature resolves a subtree's feature type through the run's own
// merk handles, so the parent is opened once per run at most.
func (g *GroveDB) runSubtreeFeature(cost *costs.OperationCost, run *batchRun, path [][]byte) (merk.FeatureType, error) {
	if len(path) == 0 {
		return merk.Basic, nil
	}
	parentPath, key := path[:len(path)-1], path[len(path)-1]
	parent, err := g.runMerk(cost, run, parentPath)
	if err != nil {
		return merk.Basic, err
	}
	value, err := parent.Get(cost, key)
	if err != nil {
		if errors.Is(err, merk.ErrKeyNotFound) {
			// Subtree being created in this run; hints cover explicit
			// creations, so default to basic.
			return merk.Basic, nil
		}
		return merk.Basic, wrapStorage(err)
	}
	element, err := DeserializeElement(value)
	if err != nil {
		return merk.Basic, err
	}
	if element.IsSumTree() {
		return merk.Summed, nil
	}
	return merk.Basic, nil
}

// ensureGroup returns the group for path, creating and scheduling it after
// position i if the batch had no explicit operations there. The plan stays
// ordered by depth descending.
func (run *batchRun) ensureGroup(i int, path [][]byte) *runGroup {
	pk := pathCacheKey(path)
	if group, ok := run.groups[pk]; ok {
		return group
	}
	group := &runGroup{path: path, pathKey: pk}
	run.groups[pk] = group
	depth := len(path)
	j := i + 1
	for j < len(run.plan) && len(run.plan[j].path) > depth {
		j++
	}
	run.plan = append(run.plan, nil)
	copy(run.plan[j+1:], run.plan[j:])
	run.plan[j] = group
	return group
}

func (g *GroveDB) processGroup(cost *costs.OperationCost, run *batchRun, i int) error {
	group := run.plan[i]
	m, err := g.runMerk(cost, run, group.path)
	if err != nil {
		return err
	}
	group.merk = m

	sort.SliceStable(group.ops, func(a, b int) bool {
		return bytes.Compare(group.ops[a].Key, group.ops[b].Key) < 0
	})

	var entries merk.Batch
	explicit := make(map[string]struct{}, len(group.ops))
	for _, op := range group.ops {
		entry, err := g.buildEntry(cost, run, group, op)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		explicit[string(op.Key)] = struct{}{}
	}

	// Child-root updates synthesized by deeper groups; explicit operations
	// on the same key already carry the fresh child root.
	for _, key := range group.childOrder {
		if _, ok := explicit[string(key)]; ok {
			continue
		}
		cu := group.childUpdates[string(key)]
		value, err := m.Get(cost, key)
		if err != nil {
			if errors.Is(err, merk.ErrKeyNotFound) {
				return fmt.Errorf("%w: subtree %q has no parent element", ErrPathParentNotFound, key)
			}
			return wrapStorage(err)
		}
		element, err := DeserializeElement(value)
		if err != nil {
			return err
		}
		if !element.IsTree() {
			return fmt.Errorf("%w: parent cell of a subtree is not a tree element", ErrInvalidPath)
		}
		op := merk.Op{Kind: merk.OpPutLayered, Value: value, LayeredHash: cu.root}
		if m.Feature() == merk.Summed && cu.sumSet {
			op.Sum = cu.sum
		}
		entries = append(entries, merk.BatchEntry{Key: key, Op: op})
	}

	sort.SliceStable(entries, func(a, b int) bool {
		return bytes.Compare(entries[a].Key, entries[b].Key) < 0
	})

	if err := m.Apply(cost, entries, wrapFlagUpdate(run.flagUpdate)); err != nil {
		return err
	}
	if err := m.Commit(cost, wrapSplitRemoval(run.splitRemoval)); err != nil {
		return err
	}

	if len(group.path) > 0 {
		root := m.RootHash(cost)
		sum, sumSet := m.RootSum()
		parentPath := group.path[:len(group.path)-1]
		key := group.path[len(group.path)-1]
		parent := run.ensureGroup(i, parentPath)
		parent.addChildUpdate(key, childUpdate{root: root, sum: sum, sumSet: sumSet})
	}
	return nil
}

// buildEntry translates one grove operation into a merk batch entry,
// performing the side effects it implies (opening child subtrees, root-leaf
// registration, subtree clearing).
func (g *GroveDB) buildEntry(cost *costs.OperationCost, run *batchRun, group *runGroup, op Op) (merk.BatchEntry, error) {
	switch op.Kind {
	case OpInsertRun, OpReplaceRun:
		return g.buildPutEntry(cost, run, group, op)
	case OpDeleteRun, OpDeleteTreeRun:
		return g.buildDeleteEntry(cost, run, group, op)
	default:
		return merk.BatchEntry{}, fmt.Errorf("%w: unknown op kind %d", ErrInvalidCodeExecution, op.Kind)
	}
}

func (g *GroveDB) buildPutEntry(cost *costs.OperationCost, run *batchRun, group *runGroup, op Op) (merk.BatchEntry, error) {
	element := op.Element
	if element == nil {
		return merk.BatchEntry{}, fmt.Errorf("%w: put without element", ErrInvalidCodeExecution)
	}
	if len(group.path) == 0 && !element.IsTree() {
		return merk.BatchEntry{}, fmt.Errorf("%w: only subtrees are allowed as root tree leaves", ErrInvalidPath)
	}
	if op.Kind == OpReplaceRun {
		if _, err := group.merk.Get(cost, op.Key); errors.Is(err, merk.ErrKeyNotFound) {
			return merk.BatchEntry{}, ErrPathKeyNotFound
		}
	}
	serialized := element.Serialize()

	if element.IsTree() {
		childPath := appendPath(group.path, op.Key)
		childRoot := merk.NullHash
		var childSum int64
		var sumSet bool
		if cu, ok := group.childUpdates[string(op.Key)]; ok {
			childRoot, childSum, sumSet = cu.root, cu.sum, cu.sumSet
		} else {
			// Opening the child captures an existing subtree's root and,
			// for a fresh one, doubles as the existence probe.
			child, err := g.runMerk(cost, run, childPath)
			if err != nil {
				return merk.BatchEntry{}, err
			}
			childRoot = child.RootHash(cost)
			childSum, sumSet = child.RootSum()
		}
		if len(group.path) == 0 && !g.rootLeaves.has(op.Key) {
			childPrefix := g.prefix(cost, childPath)
			index := g.rootLeaves.add(op.Key)
			recordKey, recordValue := registryRecord(childPrefix, index, op.Key)
			rootCtx := g.runContext(cost, run, nil)
			if err := rootCtx.PutRootBookkeeping(recordKey, recordValue); err != nil {
				return merk.BatchEntry{}, wrapStorage(err)
			}
			run.leafSetChanged = true
		}
		entry := merk.Op{Kind: merk.OpPutLayered, Value: serialized, LayeredHash: childRoot}
		if group.merk.Feature() == merk.Summed && element.IsSumTree() && sumSet {
			entry.Sum = childSum
		}
		return merk.BatchEntry{Key: op.Key, Op: entry}, nil
	}

	if element.Kind == KindReference {
		vh, err := g.followReferenceValueHash(cost, element.RefPath, 1, run.tx)
		if err != nil {
			return merk.BatchEntry{}, err
		}
		return merk.BatchEntry{Key: op.Key, Op: merk.Op{
			Kind:      merk.OpPutReference,
			Value:     serialized,
			ValueHash: vh,
		}}, nil
	}

	return merk.BatchEntry{Key: op.Key, Op: merk.Op{
		Kind:  merk.OpPut,
		Value: serialized,
		Sum:   element.SumValue(),
	}}, nil
}

func (g *GroveDB) buildDeleteEntry(cost *costs.OperationCost, run *batchRun, group *runGroup, op Op) (merk.BatchEntry, error) {
	value, err := group.merk.Get(cost, op.Key)
	if err != nil {
		if errors.Is(err, merk.ErrKeyNotFound) {
			return merk.BatchEntry{}, ErrPathKeyNotFound
		}
		return merk.BatchEntry{}, wrapStorage(err)
	}
	element, err := DeserializeElement(value)
	if err != nil {
		return merk.BatchEntry{}, err
	}

	if element.IsTree() {
		childPath := appendPath(group.path, op.Key)
		childPrefix := g.prefix(cost, childPath)
		child, err := g.runMerk(cost, run, childPath)
		if err != nil {
			return merk.BatchEntry{}, err
		}
		if op.Kind == OpDeleteRun {
			if !child.IsEmpty(cost) {
				return merk.BatchEntry{}, ErrDeletingNonEmptyTree
			}
		} else {
			if err := g.clearSubtree(cost, run, childPath); err != nil {
				return merk.BatchEntry{}, err
			}
		}
		childCtx := g.runContext(cost, run, childPath)
		if err := childCtx.DeleteRootBookkeeping(merk.RootKeyRecord); err != nil {
			return merk.BatchEntry{}, wrapStorage(err)
		}
		delete(g.subtrees, string(childPrefix[:]))
		if len(group.path) == 0 {
			g.rootLeaves.remove(op.Key)
			rootCtx := g.runContext(cost, run, nil)
			recordKey := append([]byte{registryTag}, childPrefix[:]...)
			if err := rootCtx.DeleteRootBookkeeping(recordKey); err != nil {
				return merk.BatchEntry{}, wrapStorage(err)
			}
			run.leafSetChanged = true
		}
	} else if op.Kind == OpDeleteTreeRun {
		return merk.BatchEntry{}, fmt.Errorf("%w: delete-tree on a non-tree element", ErrInvalidPath)
	}

	return merk.BatchEntry{Key: op.Key, Op: merk.Op{Kind: merk.OpDelete}}, nil
}

// clearSubtree schedules deletion of every record under a subtree,
// recursing into nested subtrees, pricing the removed bytes as it goes.
func (g *GroveDB) clearSubtree(cost *costs.OperationCost, run *batchRun, path [][]byte) error {
	ctx := g.runContext(cost, run, path)
	iter := ctx.RawIter(cost)
	defer iter.Release()

	type nested struct{ key []byte }
	var children []nested
	for iter.Next() {
		key := append([]byte{}, iter.Key()...)
		elementBytes, err := merk.DecodeNodeValue(iter.Value())
		if err != nil {
			return err
		}
		element, err := DeserializeElement(elementBytes)
		if err != nil {
			return err
		}

		keyLen := uint32(len(key))
		removedKeyBytes := merk.KeyRecordCost(keyLen) + merk.ParentHookCost(keyLen)
		removedValueBytes := merk.ValueRecordCost(uint32(len(elementBytes)))
		removed := costs.StorageRemovedBytes(costs.BasicStorageRemoval(removedKeyBytes + removedValueBytes))
		if run.splitRemoval != nil {
			removed, err = run.splitRemoval(element.Flags, removedKeyBytes, removedValueBytes)
			if err != nil {
				return err
			}
		}
		cost.AddRemoved(removed)

		if err := ctx.Delete(key); err != nil {
			return wrapStorage(err)
		}
		if element.IsTree() {
			children = append(children, nested{key: key})
		}
	}

	for _, child := range children {
		childPath := appendPath(path, child.key)
		if err := g.clearSubtree(cost, run, childPath); err != nil {
			return err
		}
		childCtx := g.runContext(cost, run, childPath)
		if err := childCtx.DeleteRootBookkeeping(merk.RootKeyRecord); err != nil {
			return wrapStorage(err)
		}
		childPrefix := g.prefix(cost, childPath)
		delete(g.subtrees, string(childPrefix[:]))
	}
	return nil
}

// appendPath copies the parent path and appends a key segment without
// aliasing the parent's backing array.
func appendPath(path [][]byte, key []byte) [][]byte {
	out := make([][]byte, 0, len(path)+1)
	out = append(out, path...)
	return append(out, key)
}

// wrapFlagUpdate lifts an element-level flag callback to the merk value
// level.
func wrapFlagUpdate(fu FlagUpdateFn) merk.UpdateFlagsFn {
	if fu == nil {
		return nil
	}
	return func(transition costs.StorageCost, oldValue, newValue []byte) ([]byte, bool, error) {
		oldElement, err := DeserializeElement(oldValue)
		if err != nil {
			return nil, false, err
		}
		newElement, err := DeserializeElement(newValue)
		if err != nil {
			return nil, false, err
		}
		flags, changed, err := fu(transition, oldElement.Flags, newElement.Flags)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return nil, false, nil
		}
		newElement.Flags = flags
		return newElement.Serialize(), true, nil
	}
}

// wrapSplitRemoval lifts a flags-level removal attribution callback to the
// merk value level.
func wrapSplitRemoval(sr SplitRemovalFn) merk.SplitRemovalFn {
	if sr == nil {
		return nil
	}
	return func(value []byte, removedKeyBytes, removedValueBytes uint32) (costs.StorageRemovedBytes, error) {
		element, err := DeserializeElement(value)
		if err != nil {
			return nil, err
		}
		return sr(element.Flags, removedKeyBytes, removedValueBytes)
	}
}
