package platform

import "sync"

// SimPin implements GPIOPin and IRQPin fully in memory. Setting the level
// of an input fires a registered IRQ handler synchronously, ISR-style, so
// tests and the host demo can stand in for real wiring.
type SimPin struct {
	mu      sync.RWMutex
	number  int
	level   bool
	modeOut bool
	irqEdge Edge
	irqFunc func()
}

func (p *SimPin) ConfigureInput(pull Pull) error {
	p.mu.Lock()
	p.modeOut = false
	p.level = pull == PullUp // undriven line sits at the bias level
	p.mu.Unlock()
	return nil
}

func (p *SimPin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	p.modeOut = true
	p.level = initial
	p.mu.Unlock()
	return nil
}

// Set changes the pin level. On a change matching the registered IRQ edge
// the handler runs on the caller's goroutine, like an ISR preempting.
func (p *SimPin) Set(level bool) {
	p.mu.Lock()
	old := p.level
	p.level = level
	irq := p.irqFunc
	fire := irq != nil && edgeWanted(p.irqEdge, edgeFrom(old, level))
	p.mu.Unlock()
	if fire {
		irq()
	}
}

func (p *SimPin) Get() bool {
	p.mu.RLock()
	v := p.level
	p.mu.RUnlock()
	return v
}

func (p *SimPin) Toggle() { p.Set(!p.Get()) }

func (p *SimPin) Number() int { return p.number }

func (p *SimPin) SetIRQ(edge Edge, handler func()) error {
	p.mu.Lock()
	p.irqEdge = edge
	p.irqFunc = handler
	p.mu.Unlock()
	return nil
}

func (p *SimPin) ClearIRQ() error {
	p.mu.Lock()
	p.irqEdge = EdgeNone
	p.irqFunc = nil
	p.mu.Unlock()
	return nil
}

// Output reports whether the pin is configured as an output (test helper).
func (p *SimPin) Output() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modeOut
}

func edgeFrom(old, new bool) Edge {
	switch {
	case !old && new:
		return EdgeRising
	case old && !new:
		return EdgeFalling
	default:
		return EdgeNone
	}
}

func edgeWanted(cfg, seen Edge) bool {
	if seen == EdgeNone {
		return false
	}
	return cfg == EdgeBoth || cfg == seen
}

// SimFactory hands out stable *SimPin instances per number.
type SimFactory struct {
	mu   sync.Mutex
	pins map[int]*SimPin
}

func NewSimFactory() *SimFactory {
	return &SimFactory{pins: make(map[int]*SimPin)}
}

func (f *SimFactory) ByNumber(n int) (GPIOPin, bool) {
	return f.Pin(n), true
}

// Pin exposes the underlying *SimPin (e.g. to drive IRQ edges in tests).
func (f *SimFactory) Pin(n int) *SimPin {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pins == nil {
		f.pins = make(map[int]*SimPin)
	}
	p, ok := f.pins[n]
	if !ok {
		p = &SimPin{number: n}
		f.pins[n] = p
	}
	return p
}
