// Package action implements the action dispatcher of §4.8: named,
// json-round-tripping request/response units invoked identically from
// the client's local role and the server's remote role, trading typed
// messages over a shared connection instance in between.
package action

import (
	"encoding/json"
	"reflect"
	"sync"

	"github.com/jvcs/jvcs/internal/jvcserr"
	"github.com/jvcs/jvcs/internal/wire"
)

// Role identifies which side of the wire an invocation runs on (§4.8).
type Role int

const (
	RoleLocal Role = iota
	RoleRemote
)

// dataKey type-keys the ActionContext's injection bag; one key per
// concrete type a Vault/LocalWorkspace/UserDirectory/etc. component
// registers under.
type dataKey struct {
	t reflect.Type
}

func keyFor(v any) dataKey { return dataKey{t: reflect.TypeOf(v)} }

// Context carries everything an action body needs (§4.8): which side
// of the wire it runs on, the action's own name/args for propagation,
// the shared connection instance (nil for pure-local actions), and a
// type-keyed bag of injected dependencies.
type Context struct {
	Role           Role
	ActionName     string
	ActionArgsJSON string
	Instance       *wire.Conn

	mu   sync.RWMutex
	data map[dataKey]any
}

// NewContext returns a Context ready for dependency injection via Put.
func NewContext(role Role, actionName, actionArgsJSON string, instance *wire.Conn) *Context {
	return &Context{
		Role:           role,
		ActionName:     actionName,
		ActionArgsJSON: actionArgsJSON,
		Instance:       instance,
		data:           map[dataKey]any{},
	}
}

// Put injects a dependency, keyed by its own concrete type — e.g.
// ctx.Put(myVault) then later ctx.Get((*vault.Vault)(nil)).
func (c *Context) Put(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[keyFor(v)] = v
}

// Get retrieves a dependency previously injected with Put, matching by
// the type of sample (a typed nil pointer works: (*vault.Vault)(nil)).
func Get[T any](c *Context, sample T) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[keyFor(sample)]
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// MemberInfo is the (member_id, is_host_mode) pair auth_member returns
// (§4.8's contract: "every action body must, exactly once, per branch,
// reach a single auth_member(ctx, instance) call before any privileged
// operation"). The connection layer authenticates once via
// internal/auth.Challenge/AcceptChallenge and injects the result here;
// action bodies call AuthMember rather than re-running the handshake.
type MemberInfo struct {
	ID         string
	IsHostMode bool
}

// AuthMember implements the §4.8 contract call: it retrieves the
// MemberInfo the connection layer authenticated at handshake time,
// failing closed if an action body runs against an unauthenticated
// context.
func AuthMember(ctx *Context) (MemberInfo, error) {
	info, ok := Get(ctx, MemberInfo{})
	if !ok {
		return MemberInfo{}, jvcserr.New(jvcserr.KindPermissionDenied, "action.AuthMember", nil)
	}
	return info, nil
}

// Action is one named (ArgsT -> RetT) unit whose args and result
// round-trip through json (§4.8).
type Action[ArgsT any, RetT any] struct {
	Name string
	Body func(ctx *Context, args ArgsT) (RetT, error)
}

// invoker erases an Action's type parameters so a Registry can hold a
// heterogeneous set of them.
type invoker interface {
	invoke(ctx *Context, argsJSON string) (string, error)
}

func (a Action[ArgsT, RetT]) invoke(ctx *Context, argsJSON string) (string, error) {
	var args ArgsT
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", jvcserr.New(jvcserr.KindSerialization, "action.invoke", err)
		}
	}
	ret, err := a.Body(ctx, args)
	if err != nil {
		return "", err
	}
	retJSON, err := json.Marshal(ret)
	if err != nil {
		return "", jvcserr.New(jvcserr.KindSerialization, "action.invoke", err)
	}
	return string(retJSON), nil
}

// Registry dispatches action invocations by name (§4.8's "server
// registry").
type Registry struct {
	mu      sync.RWMutex
	actions map[string]invoker
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{actions: map[string]invoker{}}
}

// Register adds a to the registry under its own Name.
func Register[ArgsT any, RetT any](r *Registry, a Action[ArgsT, RetT]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[a.Name] = a
}

// ProcessJSON implements process_json (§4.8): dispatches by name,
// deserializing args and reserializing the result as json strings.
func (r *Registry) ProcessJSON(ctx *Context, name, argsJSON string) (string, error) {
	r.mu.RLock()
	a, ok := r.actions[name]
	r.mu.RUnlock()
	if !ok {
		return "", jvcserr.New(jvcserr.KindUnsupported, "action.ProcessJSON", nil)
	}
	return a.invoke(ctx, argsJSON)
}
