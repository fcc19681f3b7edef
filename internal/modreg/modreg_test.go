package modreg

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclehost/confcycle/internal/cycle"
)

type fakeModule struct {
	name           string
	createConf     func(*cycle.Cycle) (any, error)
	initConf       func(*cycle.Cycle, any) error
	initModule     func(*cycle.Cycle, any) error
	createConfCalled, initConfCalled, initModuleCalled bool
}

func (f *fakeModule) Name() string { return f.name }

func (f *fakeModule) CreateConf(c *cycle.Cycle) (any, error) {
	f.createConfCalled = true
	if f.createConf != nil {
		return f.createConf(c)
	}
	return f.name + "-conf", nil
}

func (f *fakeModule) InitConf(c *cycle.Cycle, conf any) error {
	f.initConfCalled = true
	if f.initConf != nil {
		return f.initConf(c, conf)
	}
	return nil
}

func (f *fakeModule) InitModule(c *cycle.Cycle, conf any) error {
	f.initModuleCalled = true
	if f.initModule != nil {
		return f.initModule(c, conf)
	}
	return nil
}

func TestRegister_AssignsSequentialIndices(t *testing.T) {
	r := New()
	a := &fakeModule{name: "a"}
	b := &fakeModule{name: "b"}

	assert.Equal(t, 0, r.Register(a))
	assert.Equal(t, 1, r.Register(b))
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 0, r.Index("a"))
	assert.Equal(t, 1, r.Index("b"))
	assert.Equal(t, -1, r.Index("missing"))
}

func TestRegister_DuplicateNamePanics(t *testing.T) {
	r := New()
	r.Register(&fakeModule{name: "a"})
	assert.Panics(t, func() { r.Register(&fakeModule{name: "a"}) })
}

func TestCreateConf_PopulatesConfCtxInOrder(t *testing.T) {
	r := New()
	r.Register(&fakeModule{name: "a"})
	r.Register(&fakeModule{name: "b"})
	c := cycle.New(nil, "x.yaml", "/", 0)

	err := r.CreateConf(c)

	require.NoError(t, err)
	require.Len(t, c.ConfCtx, 2)
	assert.Equal(t, "a-conf", c.ConfCtx[0])
	assert.Equal(t, "b-conf", c.ConfCtx[1])
}

func TestCreateConf_StopsAtFirstError(t *testing.T) {
	r := New()
	boom := errors.New("boom")
	r.Register(&fakeModule{name: "a"})
	r.Register(&fakeModule{name: "b", createConf: func(*cycle.Cycle) (any, error) { return nil, boom }})
	after := &fakeModule{name: "c"}
	r.Register(after)
	c := cycle.New(nil, "x.yaml", "/", 0)

	err := r.CreateConf(c)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, after.createConfCalled)
}

func TestInitConf_ReceivesStoredConf(t *testing.T) {
	r := New()
	var seen any
	r.Register(&fakeModule{
		name: "a",
		initConf: func(_ *cycle.Cycle, conf any) error {
			seen = conf
			return nil
		},
	})
	c := cycle.New(nil, "x.yaml", "/", 0)
	require.NoError(t, r.CreateConf(c))

	require.NoError(t, r.InitConf(c))
	assert.Equal(t, "a-conf", seen)
}

func TestInitModule_RunsInRegistrationOrder(t *testing.T) {
	r := New()
	var order []string
	mk := func(name string) *fakeModule {
		return &fakeModule{name: name, initModule: func(*cycle.Cycle, any) error {
			order = append(order, name)
			return nil
		}}
	}
	r.Register(mk("a"))
	r.Register(mk("b"))
	c := cycle.New(nil, "x.yaml", "/", 0)
	require.NoError(t, r.CreateConf(c))

	require.NoError(t, r.InitModule(c))
	assert.Equal(t, []string{"a", "b"}, order)
}
