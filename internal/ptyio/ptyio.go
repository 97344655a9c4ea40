// Package ptyio exposes a pseudo-terminal so serial-style clients (screen,
// minicom, picocom) can attach to an in-process console.
//
//	pair, err := ptyio.Open()
//	if err != nil {
//	    return err
//	}
//	defer pair.Close()
//	fmt.Println("attach with: screen", pair.Name())
//	serve(pair) // pair reads what the client types and writes to its screen
package ptyio

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// Pair is an open pseudo-terminal. Reads and writes go to the master side;
// the client attaches to the slave device named by Name.
type Pair struct {
	master *os.File
	slave  *os.File
	name   string

	closeOnce sync.Once
	closeErr  error
}

// Open creates a pseudo-terminal with its slave in raw mode, so bytes pass
// through without echo or line editing.
func Open() (*Pair, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		name := slave.Name()
		cleanupErr := errors.Join(master.Close(), slave.Close())
		if cleanupErr != nil {
			return nil, fmt.Errorf("failed to set PTY %s to raw mode: %w (cleanup errors: %v)", name, err, cleanupErr)
		}
		return nil, fmt.Errorf("failed to set PTY %s to raw mode: %w", name, err)
	}

	return &Pair{master: master, slave: slave, name: slave.Name()}, nil
}

// Name returns the slave device path, e.g. /dev/pts/3.
func (p *Pair) Name() string { return p.name }

// Slave returns the client side for in-process clients.
func (p *Pair) Slave() *os.File { return p.slave }

// Read returns what the client wrote.
func (p *Pair) Read(b []byte) (int, error) { return p.master.Read(b) }

// Write sends b to the client.
func (p *Pair) Write(b []byte) (int, error) { return p.master.Write(b) }

// Close releases both sides and unblocks pending reads. It is idempotent.
func (p *Pair) Close() error {
	p.closeOnce.Do(func() {
		var errs []error
		if err := p.master.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close PTY master: %w", err))
		}
		if err := p.slave.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close PTY %s: %w", p.name, err))
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}
