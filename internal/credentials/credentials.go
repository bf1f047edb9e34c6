// Package credentials handles secrets typed at a terminal and interactive
// host key confirmation.
package credentials

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// maxSecretLen caps secrets read from a terminal. Base64 encoded private
// keys fit well below it.
const maxSecretLen = 65536

// Credentials hold a user name and a password that can be wiped once used.
type Credentials struct {
	Username string
	Password []byte
}

// Clear wipes the password.
func (c *Credentials) Clear() {
	SecureWipe(c.Password)
	c.Password = nil
}

// SecureWipe overwrites data with zeros.
func SecureWipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// ReadPassword prompts on out and reads one line from in. When in is a
// terminal, echo is turned off while reading.
func ReadPassword(prompt string, in *os.File, out io.Writer) ([]byte, error) {
	if _, err := fmt.Fprint(out, prompt); err != nil {
		return nil, err
	}
	defer fmt.Fprintln(out)

	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		password, err := term.ReadPassword(fd)
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		return truncate(password), nil
	}
	return readLine(in)
}

func readLine(r io.Reader) ([]byte, error) {
	br := bufio.NewReaderSize(r, 4096)
	var secret []byte
	for {
		chunk, err := br.ReadSlice('\n')
		secret = append(secret, chunk...)
		SecureWipe(chunk)
		if err == nil || errors.Is(err, io.EOF) {
			break
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			SecureWipe(secret)
			return nil, fmt.Errorf("read password: %w", err)
		}
	}
	for len(secret) > 0 && (secret[len(secret)-1] == '\n' || secret[len(secret)-1] == '\r') {
		secret = secret[:len(secret)-1]
	}
	return truncate(secret), nil
}

func truncate(secret []byte) []byte {
	if len(secret) > maxSecretLen {
		SecureWipe(secret[maxSecretLen:])
		return secret[:maxSecretLen]
	}
	return secret
}
