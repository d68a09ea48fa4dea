package protocol

import (
	"bufio"
	"os"
	"strings"

	"github.com/RomanRII/NetExec/internal/config"
	"github.com/RomanRII/NetExec/internal/store"
)

// Credential is one username/secret pair to try.
type Credential struct {
	Username string
	Secret   string
	// StoreID is set for credentials loaded from the store by id.
	StoreID uint
}

// BuildCredentials expands -u/-p values (each either a literal or a file of
// values) into the pairs to try, followed by the stored credentials selected
// by id. With NoBruteforce users and passwords are paired by position.
func BuildCredentials(run *config.Run, st *store.Store) ([]Credential, error) {
	users, err := expandValues(run.Auth.Usernames)
	if err != nil {
		return nil, err
	}
	passwords, err := expandValues(run.Auth.Passwords)
	if err != nil {
		return nil, err
	}

	var out []Credential
	if run.Auth.NoBruteforce {
		for i := 0; i < len(users) && i < len(passwords); i++ {
			out = append(out, Credential{Username: users[i], Secret: passwords[i]})
		}
	} else {
		for _, u := range users {
			for _, p := range passwords {
				out = append(out, Credential{Username: u, Secret: p})
			}
		}
	}

	if len(run.Auth.CredentialIDs) > 0 && st != nil {
		stored, err := st.CredentialsByID(run.Auth.CredentialIDs)
		if err != nil {
			return nil, err
		}
		for _, c := range stored {
			out = append(out, Credential{Username: c.Username, Secret: c.Secret, StoreID: c.ID})
		}
	}
	return out, nil
}

func expandValues(values []string) ([]string, error) {
	var out []string
	for _, v := range values {
		info, err := os.Stat(v)
		if err != nil || !info.Mode().IsRegular() {
			out = append(out, v)
			continue
		}
		lines, err := readLines(v)
		if err != nil {
			return nil, err
		}
		out = append(out, lines...)
	}
	return out, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}
