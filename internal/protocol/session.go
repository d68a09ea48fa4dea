package protocol

import (
	"github.com/RomanRII/NetExec/internal/display"
	"github.com/RomanRII/NetExec/internal/store"
	"github.com/RomanRII/NetExec/internal/targets"
)

// BaseSession carries the per-target state every protocol session shares.
// Protocol sessions embed it to satisfy the target half of module.Session.
type BaseSession struct {
	T    targets.Target
	Host *store.Host
	Out  *display.TargetConsole
}

func (b *BaseSession) Target() targets.Target          { return b.T }
func (b *BaseSession) Console() *display.TargetConsole { return b.Out }

func (b *BaseSession) HostID() uint {
	if b.Host == nil {
		return 0
	}
	return b.Host.ID
}

// Open records the reached host and returns the session base for it.
func (e *Env) Open(proto string, t targets.Target, port int, banner string) (*BaseSession, error) {
	b := &BaseSession{T: t}
	b.T.Port = port
	if e.Store != nil {
		h, err := e.Store.AddHost(store.Host{Address: t.Addr, Port: port, Hostname: t.Hostname, Banner: banner})
		if err != nil {
			return nil, err
		}
		b.Host = h
		if b.T.Hostname == "" {
			b.T.Hostname = h.Hostname
		}
	}
	b.Out = e.Console.For(proto, t.Addr, port, b.T.Hostname)
	return b, nil
}

// RecordLogin stores a working credential for the session host.
func (e *Env) RecordLogin(b *BaseSession, c Credential, credType string, admin bool) error {
	if e.Store == nil || b.Host == nil {
		return nil
	}
	id := c.StoreID
	if id == 0 {
		sc, err := e.Store.AddCredential(store.Credential{
			Username: c.Username,
			Secret:   c.Secret,
			CredType: credType,
			Source:   b.T.Addr,
		})
		if err != nil {
			return err
		}
		id = sc.ID
	}
	return e.Store.AddLogin(b.Host.ID, id, admin)
}
