package sync

import "fmt"

// situationPair keys the resolution matrix: the independent local and
// remote classification of one object.
type situationPair struct {
	local  Situation
	remote Situation
}

// newMatrix builds the full 6x6 resolution matrix. Every cell is listed
// explicitly and construction panics on a hole, so an unhandled pair is a
// programming error caught at startup rather than a silent runtime skip.
func newMatrix(r *resolver) map[situationPair]solveFn {
	m := map[situationPair]solveFn{
		{NoChange, NoChange}: r.solveNothing,
		{NoChange, Added}:    r.solveRemoteToLocal,
		{NoChange, Changed}:  r.solveRemoteToLocal,
		{NoChange, Renamed}:  r.solveRemoteMetaToLocal,
		{NoChange, Moved}:    r.solveRemoteMetaToLocal,
		{NoChange, Removed}:  r.solveRemoteDelete,

		{Added, NoChange}: r.solveLocalToRemote,
		{Added, Added}:    r.solveBothAdded,
		{Added, Changed}:  r.solveBothAdded,
		{Added, Renamed}:  r.solveBothAdded,
		{Added, Moved}:    r.solveBothAdded,
		{Added, Removed}:  r.solveRecreateRemote,

		{Changed, NoChange}: r.solveLocalContentToRemote,
		{Changed, Added}:    r.solveBothAdded,
		{Changed, Changed}:  r.solveConflictCopy,
		{Changed, Renamed}:  r.solveMergeLocalContentRemoteMeta,
		{Changed, Moved}:    r.solveMergeLocalContentRemoteMeta,
		{Changed, Removed}:  r.solveRecreateRemote,

		{Renamed, NoChange}: r.solveLocalMetaToRemote,
		{Renamed, Added}:    r.solveBothAdded,
		{Renamed, Changed}:  r.solveMergeRemoteContentLocalMeta,
		{Renamed, Renamed}:  r.solveLastWriterWins,
		{Renamed, Moved}:    r.solveApplyBothMeta,
		{Renamed, Removed}:  r.solveRecreateRemote,

		{Moved, NoChange}: r.solveLocalMetaToRemote,
		{Moved, Added}:    r.solveBothAdded,
		{Moved, Changed}:  r.solveMergeRemoteContentLocalMeta,
		{Moved, Renamed}:  r.solveApplyBothMeta,
		{Moved, Moved}:    r.solveLastWriterWins,
		{Moved, Removed}:  r.solveRecreateRemote,

		{Removed, NoChange}: r.solveLocalDeleteToRemote,
		{Removed, Added}:    r.solveRestoreLocal,
		{Removed, Changed}:  r.solveRestoreLocal,
		{Removed, Renamed}:  r.solveRestoreLocal,
		{Removed, Moved}:    r.solveRestoreLocal,
		{Removed, Removed}:  r.solveDropMapping,
	}

	for local := NoChange; local < situationCount; local++ {
		for rem := NoChange; rem < situationCount; rem++ {
			if _, ok := m[situationPair{local, rem}]; !ok {
				panic(fmt.Sprintf("resolution matrix has no solver for (%s, %s)", local, rem))
			}
		}
	}
	return m
}
