// Package runner hosts a widget for the lifetime of a process: startup
// banner, run-until-cancel, and a bounded drain on the way out.
package runner

import (
	"bytes"
	"context"
	"os"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

// Hooks run at the edges of the lifecycle, on the runner goroutine.
type Hooks struct {
	OnStart func()
	OnStop  func()
}

// Drainer ends in-flight work before shutdown; the widget's end-call path
// implements it.
type Drainer interface {
	Drain() error
}

const Version = "dev"

func PrintBanner() {
	tpl := "{{ .Title \"AMIRA\" \"\" 0 }}\nVersion: " + Version + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}
