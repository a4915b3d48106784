package logfs

import (
	"errors"
	"strings"
	"sync"

	"git.sr.ht/~moody/ninep"
)

var (
	errNoRoot = errors.New("no root directory")
	errNoFile = errors.New("no such file or directory")
	errNoDir  = errors.New("not a directory")
	errNoAbs  = errors.New("no absolute path")
)

// File produces the content of a synthetic file on each read.
type File interface {
	Read() ([]byte, error)
}

// FuncFile adapts a function to File.
type FuncFile func() ([]byte, error)

func (f FuncFile) Read() ([]byte, error) { return f() }

// Entry is a node of the namespace.
type Entry struct {
	ref      *ninep.Dir
	children map[string]*Entry // nil for files
	file     File
}

func (e *Entry) IsDir() bool  { return e.children != nil }
func (e *Entry) Name() string { return e.ref.Name }

// Read returns the file content; directories have none.
func (e *Entry) Read() ([]byte, error) {
	if e.file == nil {
		return nil, errNoFile
	}
	return e.file.Read()
}

// Namespace is a synthetic read-only file tree served over 9P.
type Namespace struct {
	ninep.NopFS

	mu     sync.RWMutex
	user   string
	dict   map[uint64]*Entry
	nextID uint64
}

// NewNamespace returns a namespace holding only the root directory.
func NewNamespace(user string) *Namespace {
	ns := &Namespace{user: user, dict: make(map[uint64]*Entry)}
	root := ns.newEntry("/", 0o555, nil)
	ns.dict[root.ref.Path] = root
	return ns
}

func (ns *Namespace) newEntry(name string, perm uint32, f File) *Entry {
	e := &Entry{file: f}
	kind := ninep.QTFile
	if f == nil {
		kind = ninep.QTDir
		e.children = make(map[string]*Entry)
		perm |= ninep.DMDir
	}
	e.ref = &ninep.Dir{
		Qid:  ninep.Qid{Path: ns.nextID, Type: byte(kind)},
		Name: name,
		Mode: perm,
		Uid:  ns.user,
		Gid:  ns.user,
		Muid: ns.user,
	}
	ns.nextID++
	return e
}

// Root returns the root directory.
func (ns *Namespace) Root() *Entry {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.dict[0]
}

// Mkdir adds a directory under parent.
func (ns *Namespace) Mkdir(parent *Entry, name string) (*Entry, error) {
	return ns.add(parent, name, 0o555, nil)
}

// AddFile adds a read-only file under parent.
func (ns *Namespace) AddFile(parent *Entry, name string, f File) (*Entry, error) {
	return ns.add(parent, name, 0o444, f)
}

func (ns *Namespace) add(parent *Entry, name string, perm uint32, f File) (*Entry, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if parent.children == nil {
		return nil, errNoDir
	}
	e := ns.newEntry(name, perm, f)
	parent.children[name] = e
	ns.dict[e.ref.Path] = e
	return e, nil
}

// Get resolves an absolute path.
func (ns *Namespace) Get(path string) (*Entry, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, errNoAbs
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	cur := ns.dict[0]
	for _, label := range strings.Split(path[1:], "/") {
		if label == "" {
			continue
		}
		if cur.children == nil {
			return nil, errNoDir
		}
		next, ok := cur.children[label]
		if !ok {
			return nil, errNoFile
		}
		cur = next
	}
	return cur, nil
}

// Serve runs a 9P server on listen until it fails.
func (ns *Namespace) Serve(listen string) error {
	srv := ninep.NewSrv(func() ninep.FS { return ns })
	return srv.ListenAndServe(listen)
}

func (ns *Namespace) lookup(q *ninep.Qid) (*Entry, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	e, ok := ns.dict[q.Path]
	return e, ok
}

func (ns *Namespace) Attach(t *ninep.Tattach) {
	if e, ok := ns.lookup(&ninep.Qid{}); ok {
		t.Respond(&e.ref.Qid)
		return
	}
	t.Err(errNoRoot)
}

func (ns *Namespace) Walk(cur *ninep.Qid, next string) *ninep.Qid {
	e, ok := ns.lookup(cur)
	if !ok || e.children == nil {
		return nil
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	if c, ok := e.children[next]; ok {
		return &c.ref.Qid
	}
	return nil
}

func (ns *Namespace) Open(t *ninep.Topen, q *ninep.Qid) {
	t.Respond(q, 8192)
}

// Read serves file content, generated afresh per request, or a directory
// listing.
func (ns *Namespace) Read(t *ninep.Tread, q *ninep.Qid) {
	e, ok := ns.lookup(q)
	if !ok {
		t.Err(errNoFile)
		return
	}
	if e.children != nil {
		ns.mu.RLock()
		kids := make([]ninep.Dir, 0, len(e.children))
		for _, c := range e.children {
			kids = append(kids, *c.ref)
		}
		ns.mu.RUnlock()
		ninep.ReadDir(t, kids)
		return
	}
	data, err := e.file.Read()
	if err != nil {
		t.Err(err)
		return
	}
	ninep.ReadBuf(t, data)
}

func (ns *Namespace) Stat(t *ninep.Tstat, q *ninep.Qid) {
	e, ok := ns.lookup(q)
	if !ok {
		t.Err(errNoFile)
		return
	}
	t.Respond(e.ref)
}
