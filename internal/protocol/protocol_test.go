package protocol

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/RomanRII/NetExec/internal/config"
	"github.com/RomanRII/NetExec/internal/display"
	"github.com/RomanRII/NetExec/internal/module"
	sharedErrors "github.com/RomanRII/NetExec/internal/shared/errors"
	"github.com/RomanRII/NetExec/internal/store"
	"github.com/RomanRII/NetExec/internal/targets"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry(&Definition{Name: "ssh"}, &Definition{Name: "ftp"})

	d, err := r.Resolve("SSH")
	require.NoError(t, err)
	assert.Equal(t, "ssh", d.Name)

	_, err = r.Resolve("smb")
	var unknown *UnknownProtocolError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "smb", unknown.Name)

	_, err = r.Resolve("")
	assert.ErrorIs(t, err, sharedErrors.ErrMissingProtocol)

	var names []string
	for _, d := range r.Definitions() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"ftp", "ssh"}, names)
}

func TestPortPrecedence(t *testing.T) {
	d := &Definition{DefaultPort: 22}
	run := config.New()

	assert.Equal(t, 22, d.Port(run, targets.Target{Addr: "a"}))
	assert.Equal(t, 2222, d.Port(run, targets.Target{Addr: "a", Port: 2222}))
	run.Auth.Port = 2200
	assert.Equal(t, 2200, d.Port(run, targets.Target{Addr: "a", Port: 2222}))
}

func TestValidateCommonKcache(t *testing.T) {
	run := config.New()
	run.Auth.UseKcache = true

	err := ValidateCommon(run, func(string) string { return "" })
	assert.ErrorIs(t, err, sharedErrors.ErrMissingOption)

	err = ValidateCommon(run, func(string) string { return "/tmp/krb5cc_1000" })
	assert.NoError(t, err)
}

func TestBuildCredentials(t *testing.T) {
	dir := t.TempDir()
	userFile := filepath.Join(dir, "users.txt")
	require.NoError(t, os.WriteFile(userFile, []byte("alice\r\n\nbob\n"), 0o600))

	run := config.New()
	run.Auth.Usernames = []string{userFile, "carol"}
	run.Auth.Passwords = []string{"p1", ""}

	creds, err := BuildCredentials(run, nil)
	require.NoError(t, err)
	assert.Equal(t, []Credential{
		{Username: "alice", Secret: "p1"}, {Username: "alice", Secret: ""},
		{Username: "bob", Secret: "p1"}, {Username: "bob", Secret: ""},
		{Username: "carol", Secret: "p1"}, {Username: "carol", Secret: ""},
	}, creds)

	run.Auth.NoBruteforce = true
	creds, err = BuildCredentials(run, nil)
	require.NoError(t, err)
	assert.Equal(t, []Credential{{Username: "alice", Secret: "p1"}, {Username: "bob", Secret: ""}}, creds)
}

func TestBuildCredentialsFromStore(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "ssh.db"))
	require.NoError(t, err)
	defer st.Close()

	a, err := st.AddCredential(store.Credential{Username: "svc", Secret: "s3cret", CredType: store.CredPlaintext})
	require.NoError(t, err)

	run := config.New()
	run.Auth.CredentialIDs = []int{int(a.ID), 42}
	creds, err := BuildCredentials(run, st)
	require.NoError(t, err)
	assert.Equal(t, []Credential{{Username: "svc", Secret: "s3cret", StoreID: a.ID}}, creds)
}

type failingModule struct {
	name string
	err  error
	hits *int
}

func (f failingModule) Name() string                                  { return f.name }
func (f failingModule) Description() string                           { return "" }
func (f failingModule) SupportedProtocols() []string                  { return []string{"ssh"} }
func (f failingModule) Options() string                               { return "" }
func (f failingModule) Capabilities() module.Capabilities             { return module.Capabilities{} }
func (f failingModule) Init(*module.Context, map[string]string) error { return nil }
func (f failingModule) OnLogin(context.Context, *module.Context, module.Session) error {
	*f.hits++
	return f.err
}

type execless struct{ *BaseSession }

func (execless) Exec(context.Context, string) (string, error) { return "", nil }

func TestRunModulesIsolatesFailures(t *testing.T) {
	var buf bytes.Buffer
	hits := 0
	env := &Env{
		Console: display.NewConsole(&buf),
		Modules: []*module.Loaded{
			{Module: failingModule{name: "first", err: errors.New("exploded"), hits: &hits}},
			{Module: failingModule{name: "second", hits: &hits}},
		},
	}
	base, err := env.Open("ssh", targets.Target{Addr: "10.0.0.9"}, 22, "")
	require.NoError(t, err)

	RunModules(context.Background(), env, execless{base})

	assert.Equal(t, 2, hits)
	assert.Contains(t, buf.String(), "module first: exploded")
}

func TestOpenAndRecordLogin(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "ssh.db"))
	require.NoError(t, err)
	defer st.Close()

	env := &Env{Store: st, Console: display.NewConsole(&bytes.Buffer{})}
	base, err := env.Open("ssh", targets.Target{Addr: "10.0.0.3", Hostname: "db01"}, 2222, "SSH-2.0-x")
	require.NoError(t, err)
	assert.Equal(t, 2222, base.Target().Port)
	assert.NotZero(t, base.HostID())

	require.NoError(t, env.RecordLogin(base, Credential{Username: "root", Secret: "toor"}, store.CredPlaintext, true))
	logins, err := st.Logins("10.0.0.3")
	require.NoError(t, err)
	require.Len(t, logins, 1)
	assert.True(t, logins[0].Admin)
}
