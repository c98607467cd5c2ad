package debug

import (
	"fmt"
	"io"
	"os"

	"github.com/gookit/color"
	"github.com/kleeedolinux/actionsocket/internal/sync"
	"github.com/xiegeo/coloredgoroutine"
)

type (
	// Debugger receives one line per call. Fields are joined with ": ".
	Debugger interface {
		Log(main string, v ...any)
		WithContext(context string) Debugger
	}

	noopDebugger struct{}

	printDebugger struct {
		out     io.Writer
		context string
	}
)

func NewNoopDebugger() Debugger { return noopDebugger{} }

func (noopDebugger) Log(string, ...any) {}

func (d noopDebugger) WithContext(string) Debugger { return d }

// NewPrintDebugger writes to w, colouring each goroutine's output differently.
// A nil w means stdout.
func NewPrintDebugger(w io.Writer) Debugger {
	if w == nil {
		w = os.Stdout
	}
	return &printDebugger{out: coloredgoroutine.Colors(w)}
}

var printMu sync.Mutex

func (d *printDebugger) Log(main string, v ...any) {
	printMu.Lock()
	defer printMu.Unlock()

	if d.context != "" {
		fmt.Fprint(d.out, color.Cyan.Sprint(d.context))
		if main != "" || len(v) != 0 {
			fmt.Fprint(d.out, ": ")
		}
	}
	if main != "" {
		fmt.Fprint(d.out, main)
		if len(v) != 0 {
			fmt.Fprint(d.out, ": ")
		}
	}
	for i, field := range v {
		if i != 0 {
			fmt.Fprint(d.out, ": ")
		}
		fmt.Fprint(d.out, field)
	}
	fmt.Fprint(d.out, "\n")
}

func (d printDebugger) WithContext(context string) Debugger {
	d.context = context
	return &d
}
