package credentials

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyPrompter asks the user to confirm host keys it has not seen before.
// Confirmed keys are remembered for the life of the prompter and, when
// KnownHostsFile is set, appended to that file.
type HostKeyPrompter struct {
	KnownHostsFile string

	in  *bufio.Reader
	out io.Writer

	mu    sync.Mutex
	known map[string]string
}

func NewHostKeyPrompter(in io.Reader, out io.Writer) *HostKeyPrompter {
	return &HostKeyPrompter{
		in:    bufio.NewReader(in),
		out:   out,
		known: make(map[string]string),
	}
}

// Callback is an ssh.HostKeyCallback. Sessions of one pool dial
// concurrently, so prompts are serialized.
func (p *HostKeyPrompter) Callback(hostname string, remote net.Addr, key ssh.PublicKey) error {
	fingerprint := ssh.FingerprintSHA256(key)

	p.mu.Lock()
	defer p.mu.Unlock()
	if stored, ok := p.known[hostname]; ok {
		if stored == fingerprint {
			return nil
		}
		return fmt.Errorf("host key for %s changed: %s", hostname, fingerprint)
	}

	fmt.Fprintf(p.out, "\nThe authenticity of host '%s' can't be established.\n", hostname)
	fmt.Fprintf(p.out, "%s key fingerprint is %s\n", key.Type(), fingerprint)
	fmt.Fprint(p.out, "Are you sure you want to continue connecting (yes/no)? ")

	response, err := p.in.ReadString('\n')
	if err != nil && response == "" {
		return fmt.Errorf("failed to read user input: %w", err)
	}
	response = strings.ToLower(strings.TrimSpace(response))
	if response != "yes" && response != "y" {
		return fmt.Errorf("host key verification rejected by user")
	}

	p.known[hostname] = fingerprint
	if p.KnownHostsFile != "" {
		if err := appendKnownHost(p.KnownHostsFile, hostname, remote, key); err != nil {
			return err
		}
	}
	return nil
}

func appendKnownHost(file, hostname string, remote net.Addr, key ssh.PublicKey) error {
	addresses := []string{knownhosts.Normalize(hostname)}
	if remote != nil {
		if a := knownhosts.Normalize(remote.String()); a != addresses[0] {
			addresses = append(addresses, a)
		}
	}
	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("known hosts: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, knownhosts.Line(addresses, key)); err != nil {
		return fmt.Errorf("known hosts: %w", err)
	}
	return nil
}
