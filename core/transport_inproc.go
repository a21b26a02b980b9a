package core

import (
	"fmt"
	"sync"
)

// InProcTransport implements Transport entirely over Go channels: the
// split-world analogue of spec.md §4.1, used when a whole TBON is
// simulated inside one process (tests, single-machine runs) without
// linking a real message-passing library. No teacher analogue; built
// directly from spec.md §4.1's requirement that C1 be pluggable behind a
// uniform interface.
type InProcTransport struct {
	name string

	mutex    sync.Mutex
	parent   *InProcTransport
	children map[string]*InProcTransport

	inbox chan Record
}

// NewInProcFabric builds a tree of InProcTransport nodes: a root named
// rootName and one node per entry of childNames, all children of the
// root for simplicity; callers needing deeper trees wire Connect
// themselves.
func NewInProcFabric(rootName string, childNames []string) (root *InProcTransport, children map[string]*InProcTransport) {
	root = newInProcTransport(rootName)
	children = make(map[string]*InProcTransport, len(childNames))
	for _, name := range childNames {
		child := newInProcTransport(name)
		Connect(root, child)
		children[name] = child
	}
	return root, children
}

func newInProcTransport(name string) *InProcTransport {
	return &InProcTransport{
		name:     name,
		children: make(map[string]*InProcTransport),
		inbox:    make(chan Record, 256),
	}
}

// Connect installs child beneath parent, wiring both sides of the
// in-process link.
func Connect(parent, child *InProcTransport) {
	parent.mutex.Lock()
	parent.children[child.name] = child
	parent.mutex.Unlock()

	child.mutex.Lock()
	child.parent = parent
	child.mutex.Unlock()
}

func (t *InProcTransport) SendUp(rec Record) error {
	t.mutex.Lock()
	parent := t.parent
	t.mutex.Unlock()
	if parent == nil {
		return fmt.Errorf("core: %s has no parent", t.name)
	}
	rec.Origin = t.name
	parent.inbox <- rec
	return nil
}

func (t *InProcTransport) SendDown(child string, rec Record) error {
	t.mutex.Lock()
	c, ok := t.children[child]
	t.mutex.Unlock()
	if !ok {
		return fmt.Errorf("core: %s has no child %s", t.name, child)
	}
	rec.Origin = t.name
	c.inbox <- rec
	return nil
}

func (t *InProcTransport) BroadcastDown(rec Record) error {
	t.mutex.Lock()
	children := make([]*InProcTransport, 0, len(t.children))
	for _, c := range t.children {
		children = append(children, c)
	}
	t.mutex.Unlock()

	rec.Origin = t.name
	for _, c := range children {
		c.inbox <- rec
	}
	return nil
}

func (t *InProcTransport) Listen() <-chan Record {
	return t.inbox
}

func (t *InProcTransport) Close() error {
	close(t.inbox)
	return nil
}
