//go:build linux && !(rp2040 || rp2350)

package platform

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/warthog618/go-gpiocdev"

	"sleepcore-go/errcode"
	"sleepcore-go/x/strx"
)

// ChipFactory hands out GPIO lines from a Linux gpiochip character device.
// Lines are requested on first configuration and held for the life of the
// process; the controller configures its pins once at start-up.
type ChipFactory struct {
	chip *gpiocdev.Chip
	mu   sync.Mutex
	pins map[int]*cdevPin
}

// NewChipFactory opens the named chip ("gpiochip0" when empty).
func NewChipFactory(name string) (*ChipFactory, error) {
	name = strx.Coalesce(name, "gpiochip0")
	chip, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", name, err)
	}
	return &ChipFactory{chip: chip, pins: make(map[int]*cdevPin)}, nil
}

func (f *ChipFactory) ByNumber(n int) (GPIOPin, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pins[n]
	if !ok {
		p = &cdevPin{chip: f.chip, n: n}
		f.pins[n] = p
	}
	return p, true
}

// Close reconfigures every requested line back to a plain input and
// releases the chip.
func (f *ChipFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for _, p := range f.pins {
		if err := p.release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := f.chip.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close chip: %w", err)
	}
	return firstErr
}

type cdevPin struct {
	mu    sync.Mutex
	chip  *gpiocdev.Chip
	n     int
	line  *gpiocdev.Line
	out   bool
	level bool // shadow of the last written output level
	pull  Pull
}

func (p *cdevPin) Number() int { return p.n }

// request drops any existing line request and re-requests with opts. A
// refused line (typically claimed by another process) surfaces as
// pin_unavailable so reply paths report something actionable.
func (p *cdevPin) request(opts ...gpiocdev.LineReqOption) error {
	if p.line != nil {
		p.line.Close()
		p.line = nil
	}
	line, err := p.chip.RequestLine(p.n, opts...)
	if err != nil {
		return &errcode.E{
			C:   errcode.PinUnavailable,
			Op:  "request line",
			Msg: "line " + strconv.Itoa(p.n),
			Err: err,
		}
	}
	p.line = line
	return nil
}

func (p *cdevPin) release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.line == nil {
		return nil
	}
	err := p.line.Reconfigure(gpiocdev.AsInput)
	if cerr := p.line.Close(); err == nil {
		err = cerr
	}
	p.line = nil
	return err
}

func pullOption(pull Pull) []gpiocdev.LineReqOption {
	switch pull {
	case PullUp:
		return []gpiocdev.LineReqOption{gpiocdev.WithPullUp}
	case PullDown:
		return []gpiocdev.LineReqOption{gpiocdev.WithPullDown}
	default:
		return nil
	}
}

func (p *cdevPin) ConfigureInput(pull Pull) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = false
	p.pull = pull
	opts := append([]gpiocdev.LineReqOption{gpiocdev.AsInput}, pullOption(pull)...)
	return p.request(opts...)
}

func (p *cdevPin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = true
	p.level = initial
	return p.request(gpiocdev.AsOutput(boolToInt(initial)))
}

func (p *cdevPin) Set(level bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.line == nil || !p.out {
		return
	}
	p.level = level
	_ = p.line.SetValue(boolToInt(level))
}

func (p *cdevPin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out {
		return p.level
	}
	if p.line == nil {
		return false
	}
	v, err := p.line.Value()
	if err != nil {
		return false
	}
	return v == 1
}

func (p *cdevPin) Toggle() { p.Set(!p.Get()) }

// SetIRQ re-requests the line with kernel edge detection. The handler runs
// on the gpiocdev event goroutine; treat it as interrupt context.
func (p *cdevPin) SetIRQ(edge Edge, handler func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var edgeOpt gpiocdev.LineReqOption
	switch edge {
	case EdgeRising:
		edgeOpt = gpiocdev.WithRisingEdge
	case EdgeFalling:
		edgeOpt = gpiocdev.WithFallingEdge
	case EdgeBoth:
		edgeOpt = gpiocdev.WithBothEdges
	default:
		return &errcode.E{C: errcode.InvalidParams, Op: "set irq", Msg: "line " + strconv.Itoa(p.n) + ": no edge selected"}
	}
	p.out = false
	opts := append([]gpiocdev.LineReqOption{edgeOpt}, pullOption(p.pull)...)
	opts = append(opts, gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { handler() }))
	return p.request(opts...)
}

func (p *cdevPin) ClearIRQ() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	opts := append([]gpiocdev.LineReqOption{gpiocdev.AsInput}, pullOption(p.pull)...)
	return p.request(opts...)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
