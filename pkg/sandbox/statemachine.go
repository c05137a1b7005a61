package sandbox

import "github.com/raworc/tsbx/ent/sandbox"

// legalEdges enumerates every allowed transition. A sandbox never
// transitions into its current state, and terminated has no outgoing
// edges.
var legalEdges = map[sandbox.State]map[sandbox.State]bool{
	sandbox.StateInitializing: {
		sandbox.StateIdle:        true,
		sandbox.StateTerminating: true,
		sandbox.StateTerminated:  true,
	},
	sandbox.StateIdle: {
		sandbox.StateBusy:        true,
		sandbox.StateTerminating: true,
	},
	sandbox.StateBusy: {
		sandbox.StateIdle:        true,
		sandbox.StateTerminating: true,
	},
	sandbox.StateTerminating: {
		sandbox.StateTerminated: true,
	},
	sandbox.StateTerminated: {},
}

// isLegalTransition reports whether from->to is an enumerated edge.
func isLegalTransition(from, to sandbox.State) bool {
	edges, ok := legalEdges[from]
	if !ok {
		return false
	}
	return edges[to]
}
