package credentials

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func TestClearWipesPassword(t *testing.T) {
	pw := []byte("secret")
	c := &Credentials{Username: "bob", Password: pw}
	c.Clear()
	assert.Nil(t, c.Password)
	assert.Equal(t, make([]byte, 6), pw)
}

func TestReadPasswordFromPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	_, err = w.WriteString("s3cr3t\r\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var out bytes.Buffer
	pw, err := ReadPassword("Enter password: ", r, &out)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", string(pw))
	assert.True(t, strings.HasPrefix(out.String(), "Enter password: "))
}

func TestReadPasswordLongLine(t *testing.T) {
	long := strings.Repeat("k", 10000)
	got, err := readLine(strings.NewReader(long + "\n"))
	require.NoError(t, err)
	assert.Equal(t, long, string(got))

	huge := strings.Repeat("k", maxSecretLen+10)
	got, err = readLine(strings.NewReader(huge))
	require.NoError(t, err)
	assert.Len(t, got, maxSecretLen)
}

func newKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return key
}

func TestHostKeyPrompterAcceptsAndRemembers(t *testing.T) {
	key := newKey(t)
	file := filepath.Join(t.TempDir(), "known_hosts")
	var out bytes.Buffer
	p := NewHostKeyPrompter(strings.NewReader("yes\n"), &out)
	p.KnownHostsFile = file

	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2222}
	require.NoError(t, p.Callback("127.0.0.1:2222", addr, key))
	assert.Contains(t, out.String(), ssh.FingerprintSHA256(key))

	// no second prompt; the input is exhausted
	require.NoError(t, p.Callback("127.0.0.1:2222", addr, key))
	require.Error(t, p.Callback("127.0.0.1:2222", addr, newKey(t)))

	check, err := knownhosts.New(file)
	require.NoError(t, err)
	require.NoError(t, check("127.0.0.1:2222", addr, key))
}

func TestHostKeyPrompterRejects(t *testing.T) {
	p := NewHostKeyPrompter(strings.NewReader("no\n"), &bytes.Buffer{})
	require.Error(t, p.Callback("example.com:22", nil, newKey(t)))

	p = NewHostKeyPrompter(strings.NewReader(""), &bytes.Buffer{})
	require.Error(t, p.Callback("example.com:22", nil, newKey(t)))
}
