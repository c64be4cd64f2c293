package transport

import (
	"strings"

	"github.com/premath-kernel/issuekernel/internal/kerrors"
	"github.com/premath-kernel/issuekernel/internal/semdigest"
)

// FiberEnvelope is the synthetic envelope every fiber.* dispatch returns:
// no issue store is touched, the whole lifecycle is derived and witnessed
// in-line.
type FiberEnvelope struct {
	Schema          int               `json:"schema"`
	Action          string            `json:"action"`
	Result          string            `json:"result"`
	FailureClasses  []string          `json:"failureClasses"`
	WorldBinding    WorldRouteBinding `json:"worldBinding"`
	FiberID         string            `json:"fiberId,omitempty"`
	TaskRef         string            `json:"taskRef,omitempty"`
	ParentFiberID   string            `json:"parentFiberId,omitempty"`
	ScopeRef        string            `json:"scopeRef,omitempty"`
	JoinSet         []string          `json:"joinSet,omitempty"`
	ResultRef       string            `json:"resultRef,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	FiberWitnessRef string            `json:"fiberWitnessRef,omitempty"`
	Diagnostic      string            `json:"diagnostic,omitempty"`
}

func fiberToken(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	trimmed := strings.Trim(b.String(), "_")
	if trimmed == "" {
		return "fiber"
	}
	return trimmed
}

func deriveFiberID(taskRef, parentFiberID string) string {
	digest := semdigest.DigestStrings(semdigest.PrefixTransport, ProfileID, ActionFiberSpawn, taskRef, parentFiberID)
	suffix := strings.TrimPrefix(digest, string(semdigest.PrefixTransport))
	if len(suffix) > 16 {
		suffix = suffix[:16]
	}
	return "fib1_" + suffix
}

func fiberWitnessRef(action, fiberID string) string {
	digest := semdigest.DigestStrings(semdigest.PrefixTransport, ProfileID, action, fiberID)
	return "fiber://dispatch/" + action + "/" + fiberToken(fiberID) + "/" + digest
}

func fiberRejected(action, failureClass, diagnostic string) FiberEnvelope {
	binding, _ := WorldBindingForAction(action)
	return FiberEnvelope{Schema: 1, Action: action, Result: "rejected", FailureClasses: []string{failureClass}, WorldBinding: binding, Diagnostic: diagnostic}
}

// FiberSpawnRequest mirrors the fiber.spawn payload shape.
type FiberSpawnRequest struct {
	FiberID       string `json:"fiberId"`
	TaskRef       string `json:"taskRef"`
	ParentFiberID string `json:"parentFiberId"`
	ScopeRef      string `json:"scopeRef"`
}

// FiberSpawn derives a fiber id (if not supplied) and returns its accepted
// lifecycle envelope.
func FiberSpawn(req FiberSpawnRequest) FiberEnvelope {
	taskRef := strings.TrimSpace(req.TaskRef)
	if taskRef == "" {
		return fiberRejected(ActionFiberSpawn, string(kerrors.FiberMissingField), "fiber.spawn requires taskRef")
	}
	parentFiberID := strings.TrimSpace(req.ParentFiberID)
	fiberID := strings.TrimSpace(req.FiberID)
	if fiberID == "" {
		fiberID = deriveFiberID(taskRef, parentFiberID)
	}
	binding, _ := WorldBindingForAction(ActionFiberSpawn)
	return FiberEnvelope{
		Schema: 1, Action: ActionFiberSpawn, Result: "accepted", FailureClasses: []string{},
		WorldBinding: binding, FiberID: fiberID, TaskRef: taskRef, ParentFiberID: parentFiberID,
		ScopeRef: strings.TrimSpace(req.ScopeRef), FiberWitnessRef: fiberWitnessRef(ActionFiberSpawn, fiberID),
	}
}

// FiberJoinRequest mirrors the fiber.join payload shape.
type FiberJoinRequest struct {
	FiberID   string   `json:"fiberId"`
	JoinSet   []string `json:"joinSet"`
	ResultRef string   `json:"resultRef"`
}

// FiberJoin validates and returns the accepted join lifecycle envelope.
func FiberJoin(req FiberJoinRequest) FiberEnvelope {
	fiberID := strings.TrimSpace(req.FiberID)
	if fiberID == "" {
		return fiberRejected(ActionFiberJoin, string(kerrors.FiberMissingField), "fiber.join requires fiberId")
	}
	var joinSet []string
	for _, item := range req.JoinSet {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			joinSet = append(joinSet, trimmed)
		}
	}
	if len(joinSet) == 0 {
		return fiberRejected(ActionFiberJoin, string(kerrors.FiberMissingField), "fiber.join requires non-empty joinSet")
	}
	binding, _ := WorldBindingForAction(ActionFiberJoin)
	return FiberEnvelope{
		Schema: 1, Action: ActionFiberJoin, Result: "accepted", FailureClasses: []string{},
		WorldBinding: binding, FiberID: fiberID, JoinSet: joinSet, ResultRef: strings.TrimSpace(req.ResultRef),
		FiberWitnessRef: fiberWitnessRef(ActionFiberJoin, fiberID),
	}
}

// FiberCancelRequest mirrors the fiber.cancel payload shape.
type FiberCancelRequest struct {
	FiberID string `json:"fiberId"`
	Reason  string `json:"reason"`
}

// FiberCancel validates and returns the accepted cancel lifecycle
// envelope.
func FiberCancel(req FiberCancelRequest) FiberEnvelope {
	fiberID := strings.TrimSpace(req.FiberID)
	if fiberID == "" {
		return fiberRejected(ActionFiberCancel, string(kerrors.FiberMissingField), "fiber.cancel requires fiberId")
	}
	binding, _ := WorldBindingForAction(ActionFiberCancel)
	return FiberEnvelope{
		Schema: 1, Action: ActionFiberCancel, Result: "accepted", FailureClasses: []string{},
		WorldBinding: binding, FiberID: fiberID, Reason: strings.TrimSpace(req.Reason),
		FiberWitnessRef: fiberWitnessRef(ActionFiberCancel, fiberID),
	}
}
