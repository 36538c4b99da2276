package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvcs/jvcs/internal/jvcserr"
)

type echoArgs struct {
	Text string `json:"text"`
}

type echoRet struct {
	Echoed string `json:"echoed"`
}

func TestRegistryDispatchesByName(t *testing.T) {
	r := NewRegistry()
	Register(r, Action[echoArgs, echoRet]{
		Name: "echo",
		Body: func(ctx *Context, args echoArgs) (echoRet, error) {
			return echoRet{Echoed: args.Text}, nil
		},
	})

	ctx := NewContext(RoleLocal, "echo", `{"text":"hi"}`, nil)
	retJSON, err := r.ProcessJSON(ctx, "echo", `{"text":"hi"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"echoed":"hi"}`, retJSON)
}

func TestRegistryUnknownActionIsUnsupported(t *testing.T) {
	r := NewRegistry()
	ctx := NewContext(RoleRemote, "missing", "{}", nil)
	_, err := r.ProcessJSON(ctx, "missing", "{}")
	require.Error(t, err)
	assert.True(t, jvcserr.Is(err, jvcserr.KindUnsupported))
}

type vaultStub struct{ Name string }

func TestContextPutGetRoundTripsByType(t *testing.T) {
	ctx := NewContext(RoleLocal, "noop", "", nil)
	ctx.Put(&vaultStub{Name: "v1"})

	got, ok := Get(ctx, (*vaultStub)(nil))
	require.True(t, ok)
	assert.Equal(t, "v1", got.Name)

	_, ok = Get(ctx, "")
	assert.False(t, ok)
}

func TestAuthMemberFailsClosedWithoutInjectedInfo(t *testing.T) {
	ctx := NewContext(RoleRemote, "noop", "", nil)
	_, err := AuthMember(ctx)
	require.Error(t, err)
	assert.True(t, jvcserr.Is(err, jvcserr.KindPermissionDenied))
}

func TestAuthMemberReturnsInjectedInfo(t *testing.T) {
	ctx := NewContext(RoleRemote, "noop", "", nil)
	ctx.Put(MemberInfo{ID: "alice", IsHostMode: false})

	info, err := AuthMember(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", info.ID)
}

func TestActionBodyErrorPropagatesWithoutSerializingResult(t *testing.T) {
	r := NewRegistry()
	Register(r, Action[echoArgs, echoRet]{
		Name: "fail",
		Body: func(ctx *Context, args echoArgs) (echoRet, error) {
			return echoRet{}, jvcserr.New(jvcserr.KindInvalidArgument, "fail", nil)
		},
	})

	ctx := NewContext(RoleLocal, "fail", "{}", nil)
	_, err := r.ProcessJSON(ctx, "fail", "{}")
	require.Error(t, err)
	assert.True(t, jvcserr.Is(err, jvcserr.KindInvalidArgument))
}
