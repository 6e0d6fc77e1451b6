package membership

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"replog/pkg/replication"

	"github.com/go-zookeeper/zk"
	"github.com/stretchr/testify/require"
)

// fakeZK is an in-memory tree with child watches.
type fakeZK struct {
	mu       sync.Mutex
	nodes    map[string][]byte
	flags    map[string]int32
	watchers map[string][]chan zk.Event
	closed   bool
}

func newFakeZK() *fakeZK {
	return &fakeZK{
		nodes:    map[string][]byte{},
		flags:    map[string]int32{},
		watchers: map[string][]chan zk.Event{},
	}
}

func parent(path string) string {
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		return "/"
	}
	return path[:i]
}

func (f *fakeZK) Exists(path string) (bool, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.nodes[path]
	return ok, &zk.Stat{}, nil
}

func (f *fakeZK) Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[path]; ok {
		return "", zk.ErrNodeExists
	}
	if p := parent(path); p != "/" {
		if _, ok := f.nodes[p]; !ok {
			return "", zk.ErrNoNode
		}
	}
	f.nodes[path] = data
	f.flags[path] = flags
	f.fire(parent(path))
	return path, nil
}

func (f *fakeZK) remove(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.nodes, path)
	f.fire(parent(path))
}

// fire must be called with mu held.
func (f *fakeZK) fire(dir string) {
	for _, ch := range f.watchers[dir] {
		ch <- zk.Event{Type: zk.EventNodeChildrenChanged, Path: dir}
		close(ch)
	}
	delete(f.watchers, dir)
}

func (f *fakeZK) Get(path string) ([]byte, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.nodes[path]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return d, &zk.Stat{}, nil
}

func (f *fakeZK) ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[path]; !ok {
		return nil, nil, nil, zk.ErrNoNode
	}
	var children []string
	for p := range f.nodes {
		if parent(p) == path {
			children = append(children, p[len(path)+1:])
		}
	}
	sort.Strings(children)
	ch := make(chan zk.Event, 1)
	f.watchers[path] = append(f.watchers[path], ch)
	return children, &zk.Stat{}, ch, nil
}

func (f *fakeZK) State() zk.State { return zk.StateHasSession }

func (f *fakeZK) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

type recordingRegistrar struct {
	mu        sync.Mutex
	endpoints []string
}

func (r *recordingRegistrar) RegisterSecondary(endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.endpoints {
		if e == endpoint {
			return fmt.Errorf("%w: %s", replication.ErrDuplicateSecondary, endpoint)
		}
	}
	r.endpoints = append(r.endpoints, endpoint)
	return nil
}

func (r *recordingRegistrar) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.endpoints...)
}

func TestAnnounceCreatesEphemeralNode(t *testing.T) {
	fz := newFakeZK()
	m := newZKMembership(fz, "/replog/", nil)

	require.NoError(t, m.Announce(context.Background(), "s/1", "http://s1:8081"))
	// announcing twice within one session is fine
	require.NoError(t, m.Announce(context.Background(), "s/1", "http://s1:8081"))

	data, _, err := fz.Get("/replog/secondaries/s%2F1")
	require.NoError(t, err)
	require.Equal(t, "http://s1:8081", string(data))
	require.EqualValues(t, zk.FlagEphemeral, fz.flags["/replog/secondaries/s%2F1"])
	require.Zero(t, fz.flags["/replog/secondaries"])
}

func TestWatchRegistersAnnouncedSecondaries(t *testing.T) {
	fz := newFakeZK()
	master := newZKMembership(fz, "/replog", nil)
	reg := &recordingRegistrar{}

	// one secondary exists before the master starts watching
	require.NoError(t, newZKMembership(fz, "/replog", nil).Announce(context.Background(), "s1", "http://s1:8081/"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- master.Watch(ctx, reg) }()

	require.Eventually(t, func() bool {
		return len(reg.list()) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, newZKMembership(fz, "/replog", nil).Announce(context.Background(), "s2", "http://s2:8082"))
	require.Eventually(t, func() bool {
		return len(reg.list()) == 2
	}, time.Second, 5*time.Millisecond)

	// a vanished node keeps its registration and does not re-register others
	fz.remove("/replog/secondaries/s1")
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, []string{"http://s1:8081", "http://s2:8082"}, reg.list())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not stop after cancel")
	}
}

func TestRegisterSkipsEmptyAndMissingNodes(t *testing.T) {
	fz := newFakeZK()
	m := newZKMembership(fz, "/replog", nil)
	require.NoError(t, m.ensurePath(m.dir()))
	_, err := fz.Create(m.dir()+"/empty", nil, zk.FlagEphemeral, nil)
	require.NoError(t, err)

	reg := &recordingRegistrar{}
	m.register([]string{"empty", "gone"}, reg)
	require.Empty(t, reg.list())
}
