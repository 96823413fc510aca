//go:build rp2040 || rp2350

// Command uart-test validates the trace-console wiring before pico-sleep is
// flashed: jumper uart0 TX (GP0) to uart1 RX (GP5) and it streams a known
// pattern across, checking content, integrity and rate.
package main

import (
	"bytes"
	"context"
	"machine"
	"time"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
)

const (
	u0tx = machine.GPIO0
	u0rx = machine.GPIO1
	u1tx = machine.GPIO4
	u1rx = machine.GPIO5
	baud = 115200
)

func main() {
	println("[uart] boot …")
	time.Sleep(1500 * time.Millisecond)

	tx := uartx.UART0
	rx := uartx.UART1
	if err := tx.Configure(uartx.UARTConfig{BaudRate: baud, TX: u0tx, RX: u0rx}); err != nil {
		println("[uart] FAIL: uart0 configure:", err.Error())
		return
	}
	if err := rx.Configure(uartx.UARTConfig{BaudRate: baud, TX: u1tx, RX: u1rx}); err != nil {
		println("[uart] FAIL: uart1 configure:", err.Error())
		return
	}

	println("[uart] smoke: send 'hello-trace' and verify")
	if smoke(tx, rx) {
		println("[uart] smoke: PASS")
	} else {
		println("[uart] smoke: FAIL")
	}

	println("[uart] integrity: 4096 bytes, chunk 64")
	if integrity(tx, rx, 4096, 64, 5*time.Second) {
		println("[uart] integrity: PASS")
	} else {
		println("[uart] integrity: FAIL")
	}

	println("[uart] throughput: 5s, chunk 256, concurrent R/W")
	throughput(tx, rx, 5*time.Second, 256)

	println("[uart] done")
}

// smoke writes one marker and scans the receive side for it.
func smoke(tx, rx *uartx.UART) bool {
	msg := []byte("hello-trace")
	_, _ = tx.Write(msg)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var got []byte
	buf := make([]byte, 64)
	for {
		n, err := rx.RecvSomeContext(ctx, buf)
		if n > 0 {
			got = append(got, buf[:n]...)
			if bytes.Contains(got, msg) {
				return true
			}
			// Keep a tail long enough that a split marker still matches.
			if len(got) > 4*len(msg) {
				got = got[len(got)-2*len(msg):]
			}
		}
		if err != nil {
			println("[uart] smoke: gave up after", len(got), "bytes")
			return false
		}
	}
}

// integrity streams a deterministic pattern and compares FNV-1a hashes of
// what went out against what came back.
func integrity(tx, rx *uartx.UART, total, chunk int, timeout time.Duration) bool {
	const offset = uint32(2166136261)
	const prime = uint32(16777619)
	txHash, rxHash := offset, offset

	gen := patternGenerator(0xA5)
	out := make([]byte, chunk)
	in := make([]byte, 128)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	written, received := 0, 0
	for received < total {
		if written < total {
			n := chunk
			if n > total-written {
				n = total - written
			}
			fillPattern(out[:n], &gen)
			w, err := tx.Write(out[:n])
			for i := 0; i < w; i++ {
				txHash ^= uint32(out[i])
				txHash *= prime
			}
			written += w
			if err != nil {
				println("[uart] integrity: tx error at", written)
				return false
			}
		}
		n, err := rx.RecvSomeContext(ctx, in)
		for i := 0; i < n; i++ {
			rxHash ^= uint32(in[i])
			rxHash *= prime
		}
		received += n
		if err != nil {
			break
		}
	}

	println("[uart] integrity: written=", written, " received=", received)
	println("[uart] integrity: txHash=", txHash, " rxHash=", rxHash)
	return written == total && received == total && txHash == rxHash
}

// throughput runs writer and reader concurrently and reports bytes per
// second in both directions.
func throughput(tx, rx *uartx.UART, duration time.Duration, chunk int) {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	start := time.Now()
	wrote := make(chan int, 1)
	read := make(chan int, 1)

	go func() {
		gen := patternGenerator(0x42)
		out := make([]byte, chunk)
		fillPattern(out, &gen)
		written := 0
		for ctx.Err() == nil {
			n, err := tx.Write(out)
			written += n
			if err != nil {
				break
			}
		}
		wrote <- written
	}()

	go func() {
		in := make([]byte, chunk)
		received := 0
		for {
			n, err := rx.RecvSomeContext(ctx, in)
			received += n
			if err != nil {
				break
			}
		}
		// Grace drain for bytes still in flight.
		grace, cancelGrace := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancelGrace()
		for {
			n, err := rx.RecvSomeContext(grace, in)
			received += n
			if err != nil {
				break
			}
		}
		read <- received
	}()

	written := <-wrote
	received := <-read

	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Nanosecond
	}
	txBps := (int64(written) * int64(time.Second)) / int64(elapsed)
	rxBps := (int64(received) * int64(time.Second)) / int64(elapsed)

	println("[uart] throughput: TX bytes=", written, " (~", txBps, " B/s)")
	println("[uart] throughput: RX bytes=", received, " (~", rxBps, " B/s)")
}

// --- tiny utilities (no fmt) ---

// Simple deterministic pattern generator (xorshift8 over byte).
type patGen struct{ s byte }

func patternGenerator(seed byte) patGen { return patGen{s: seed} }

func (g *patGen) next() byte {
	x := g.s
	x ^= x << 3
	x ^= x >> 5
	x ^= x << 1
	g.s = x
	return x
}

func fillPattern(dst []byte, g *patGen) {
	for i := 0; i < len(dst); i++ {
		dst[i] = g.next()
	}
}
