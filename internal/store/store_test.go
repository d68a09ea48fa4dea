package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Path(t.TempDir(), "default", "ssh"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPathIsDerivedFromWorkspaceAndProtocol(t *testing.T) {
	got := Path("/data", "lab", "ftp")
	assert.Equal(t, filepath.Join("/data", "workspaces", "lab", "ftp.db"), got)
}

func TestAddHostUpserts(t *testing.T) {
	s := openTestStore(t)

	first, err := s.AddHost(Host{Address: "10.0.0.1", Port: 22, Banner: "SSH-2.0-OpenSSH_9.6"})
	require.NoError(t, err)

	second, err := s.AddHost(Host{Address: "10.0.0.1", Port: 22, Hostname: "web01"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "web01", second.Hostname)
	assert.Equal(t, "SSH-2.0-OpenSSH_9.6", second.Banner)
}

func TestCredentialsByIDPreservesRequestOrder(t *testing.T) {
	s := openTestStore(t)

	var ids []int
	for _, user := range []string{"alice", "bob", "carol"} {
		c, err := s.AddCredential(Credential{Username: user, Secret: "pw-" + user})
		require.NoError(t, err)
		ids = append(ids, int(c.ID))
	}

	dup, err := s.AddCredential(Credential{Username: "alice", Secret: "pw-alice"})
	require.NoError(t, err)
	assert.Equal(t, uint(ids[0]), dup.ID)

	got, err := s.CredentialsByID([]int{ids[2], 999, ids[0]})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "carol", got[0].Username)
	assert.Equal(t, "alice", got[1].Username)
}

func TestAddLoginAdminIsSticky(t *testing.T) {
	s := openTestStore(t)

	host, err := s.AddHost(Host{Address: "10.0.0.2", Port: 22})
	require.NoError(t, err)
	cred, err := s.AddCredential(Credential{Username: "root", Secret: "toor"})
	require.NoError(t, err)

	require.NoError(t, s.AddLogin(host.ID, cred.ID, true))
	require.NoError(t, s.AddLogin(host.ID, cred.ID, false))

	logins, err := s.Logins("10.0.0.2")
	require.NoError(t, err)
	require.Len(t, logins, 1)
	assert.True(t, logins[0].Admin)
	assert.Equal(t, "root", logins[0].Credential.Username)
}

func TestConcurrentWriters(t *testing.T) {
	s := openTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			host, err := s.AddHost(Host{Address: fmt.Sprintf("10.0.1.%d", n), Port: 22})
			if err != nil {
				errs <- err
				return
			}
			errs <- s.AddLoot(host.ID, "hostinfo", "uname", "Linux")
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	loot, err := s.LootFor("hostinfo")
	require.NoError(t, err)
	assert.Len(t, loot, 32)
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.BeginRun("run-1", "ssh", 3))
	require.NoError(t, s.FinishRun("run-1"))

	r, err := s.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, 3, r.TargetCount)
	assert.NotNil(t, r.FinishedAt)
}
