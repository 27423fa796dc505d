package lens

import (
	"log"
	"sync/atomic"
)

const debugGate = false

// Hook inspects an intercepted call before the original body runs. Returning true continues into the
// original body, false skips it and the call returns synthesized defaults.
type Hook func(fd *FunctionDescriptor, receiver any, args []DynamicValue) bool

// AllowAll is a Hook which always continues.
func AllowAll(*FunctionDescriptor, any, []DynamicValue) bool {
	return true
}

// DenyAll is a Hook which always skips the original body.
func DenyAll(*FunctionDescriptor, any, []DynamicValue) bool {
	return false
}

// ChainHooks runs hooks in order, stopping at the first one that vetoes the call.
func ChainHooks(hooks ...Hook) Hook {
	return func(fd *FunctionDescriptor, receiver any, args []DynamicValue) bool {
		for _, h := range hooks {
			if h != nil && !h(fd, receiver, args) {
				return false
			}
		}
		return true
	}
}

// invoke evaluates the hook against a snapshot, a nil hook allows the call.
func (h Hook) invoke(s CallSnapshot) bool {
	if h == nil {
		return true
	}
	return h(s.Function, s.Receiver, s.Args)
}

var gateHook atomic.Pointer[Hook]

// SetGateHook installs the process wide hook used by GateEnter. The returned function restores the
// previously installed hook.
func SetGateHook(h Hook) (restore func()) {
	prev := gateHook.Swap(&h)
	return func() {
		gateHook.Store(prev)
	}
}

func currentGateHook() Hook {
	if h := gateHook.Load(); h != nil {
		return *h
	}
	return nil
}

// GateEnter is called from gates injected into source. It snapshots the call, consults the installed
// hook and reports whether the original body should run. Precondition failures panic with a *GateError.
func GateEnter(fd *FunctionDescriptor, receiver any, args ...any) bool {
	if fd == nil {
		return true // called during package initialization, before the gate descriptor was resolved
	}
	snap, err := BuildSnapshot(fd, receiver, args)
	if err != nil {
		panic(&GateError{Function: fd.Ident(), Err: err})
	}
	proceed := currentGateHook().invoke(snap)
	if debugGate && !proceed {
		log.Printf("gate skipped %s", fd.Ident())
	}
	return proceed
}
