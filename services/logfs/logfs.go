// Package logfs exposes the Ethernet worker's observer log, identity and
// state as a 9P file tree:
//
//	/log/<channel>   retained lines of one channel, persistent included
//	/identity        identity summary block
//	/state           worker state, phase and active channel
//	/active          name of the channel live followers see
package logfs

import (
	"strings"

	"ethcode-go/services/eth"
	"ethcode-go/types"
)

// Source is what the tree reads from; both eth.Worker and eth.Service
// satisfy it.
type Source interface {
	Sink() *eth.Sink
	CurrentIdentity() types.NetworkIdentity
	Status() types.EthState
}

var (
	_ Source = (*eth.Worker)(nil)
	_ Source = (*eth.Service)(nil)
)

// New builds the namespace over src.
func New(src Source, user string) (*Namespace, error) {
	ns := NewNamespace(user)
	root := ns.Root()
	logDir, err := ns.Mkdir(root, "log")
	if err != nil {
		return nil, err
	}
	for c := types.ChanInit; c <= types.ChanPersistent; c++ {
		ch := c
		if _, err := ns.AddFile(logDir, ch.String(), FuncFile(func() ([]byte, error) {
			return []byte(src.Sink().Text(ch)), nil
		})); err != nil {
			return nil, err
		}
	}
	files := []struct {
		name string
		f    FuncFile
	}{
		{"identity", func() ([]byte, error) { return identityText(src.CurrentIdentity()), nil }},
		{"state", func() ([]byte, error) { return stateText(src.Status()), nil }},
		{"active", func() ([]byte, error) { return []byte(src.Sink().Active().String() + "\n"), nil }},
	}
	for _, f := range files {
		if _, err := ns.AddFile(root, f.name, f.f); err != nil {
			return nil, err
		}
	}
	return ns, nil
}

func identityText(id types.NetworkIdentity) []byte {
	return []byte(strings.Join(eth.IdentityLines(id), "\n") + "\n")
}

func stateText(st types.EthState) []byte {
	var b strings.Builder
	b.WriteString("worker " + st.Worker.String() + "\n")
	b.WriteString("phase " + st.Phase.String() + "\n")
	b.WriteString("active " + st.Active.String() + "\n")
	if st.Error != "" {
		b.WriteString("error " + st.Error + "\n")
	}
	return []byte(b.String())
}
