//go:build !linux || rp2040 || rp2350

package platform

import "sleepcore-go/errcode"

// ChipFactory is only available on Linux (GPIO character device).
type ChipFactory struct{}

func NewChipFactory(string) (*ChipFactory, error) {
	return nil, &errcode.E{
		C:   errcode.Unsupported,
		Op:  "new chip factory",
		Msg: "gpio chip backend requires linux",
	}
}

func (f *ChipFactory) ByNumber(int) (GPIOPin, bool) { return nil, false }

func (f *ChipFactory) Close() error { return nil }
