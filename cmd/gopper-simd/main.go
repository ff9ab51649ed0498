// Command gopper-simd runs the scheduler core as a host process: a
// simulated MCU that a gopper-host client (or a real Klipper host) can
// connect to over a Unix domain socket standing in for the serial/USB
// link real hardware would expose, speaking the same dictionary/command
// wire protocol. A second socket exposes the standalone motion stack's
// text g-code front end, so the gcode/planner/kinematics/stepgen chain
// has a real driver too, not just the binary protocol's GPIO/trsync
// commands.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"gopper/core"
	"gopper/hostsim"
	"gopper/logging"
	"gopper/protocol"
	"gopper/sched"
	"gopper/simconfig"
	"gopper/standalone"
	"gopper/tick"
)

var (
	configPath = flag.String("config", "", "simulator config file (YAML)")
	initConfig = flag.Bool("init", false, "write a starter config to -config and exit")
)

// connHolder lets the scheduler goroutine (flushing output) and the
// accept-loop goroutine (replacing the active connection) share a single
// current net.Conn safely -- a real MCU only ever has one endpoint per
// peripheral, but unlike real hardware this simulator's reader and
// sender genuinely run on separate OS threads. One holder serves the
// protocol socket, a second serves the g-code socket.
type connHolder struct {
	mu   sync.Mutex
	conn net.Conn
}

func (h *connHolder) set(c net.Conn) {
	h.mu.Lock()
	h.conn = c
	h.mu.Unlock()
}

func (h *connHolder) write(data []byte) {
	h.mu.Lock()
	c := h.conn
	h.mu.Unlock()
	if c == nil {
		return
	}
	if _, err := c.Write(data); err != nil {
		h.mu.Lock()
		if h.conn == c {
			h.conn = nil
		}
		h.mu.Unlock()
	}
}

// byteQueue hands bytes a socket's reader goroutine received over to a
// task hook that drains and processes them from the scheduler's own
// goroutine. Command dispatch and g-code execution both touch the
// scheduler's timer queue, which spec.md's single-threaded invariant
// requires never be observed mid-update by more than one goroutine; a
// real MCU gets this for free from having one core, so the simulator's
// reader goroutines -- standing in for an asynchronous USB IRQ -- hand
// off through this queue instead of calling into core/standalone
// directly.
type byteQueue struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (q *byteQueue) push(b []byte) {
	cp := make([]byte, len(b))
	copy(cp, b)
	q.mu.Lock()
	q.chunks = append(q.chunks, cp)
	q.mu.Unlock()
}

// drain returns every chunk pushed since the last drain and clears the
// queue. Only the task hook running on the scheduler's own goroutine
// calls this.
func (q *byteQueue) drain() [][]byte {
	q.mu.Lock()
	chunks := q.chunks
	q.chunks = nil
	q.mu.Unlock()
	return chunks
}

func main() {
	flag.Parse()

	if *initConfig {
		if *configPath == "" {
			fmt.Fprintln(os.Stderr, "gopper-simd: -init requires -config <path>")
			os.Exit(1)
		}
		if err := simconfig.MarshalDefaults(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "gopper-simd: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote starter config to %s\n", *configPath)
		return
	}

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "gopper-simd: -config <path> is required")
		os.Exit(1)
	}

	cfg, err := simconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gopper-simd: %v\n", err)
		os.Exit(1)
	}

	machineCfg, err := cfg.Machine()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gopper-simd: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New()
	logger.SetWriter(func(line string) { fmt.Fprintln(os.Stderr, line) })
	logger.SetEnabled(cfg.LogLevel() != "off")

	out := protocol.NewScratchOutput()
	holder := &connHolder{}

	sendf := func(format string, args ...any) {
		logger.Printf("[send] "+format, args...)
	}

	s := sched.New(cfg.ClockFreq(), tick.NewRealSource(), sendf)
	s.Log = logger
	core.SetScheduler(s)
	core.InitCoreCommands()
	core.InitGPIOCommands()
	core.InitTriggerSyncCommands()
	core.RegisterConstant("MCU", "gopper-simd")
	core.RegisterConstant("CLOCK_FREQ", cfg.ClockFreq())
	core.GetGlobalDictionary().BuildDictionary()

	gpioDriver := hostsim.New()
	core.SetGPIODriver(gpioDriver)

	transport := protocol.NewTransport(out, func(cmdID uint16, data *[]byte) error {
		return core.DispatchCommand(cmdID, data)
	})
	transport.SetFlushCallback(func() {
		flushTransport(out, holder)
	})
	core.SetTransport(transport)

	mgr, err := standalone.NewManagerWithConfig(machineCfg, s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gopper-simd: build standalone manager: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Initialize(gpioDriver); err != nil {
		fmt.Fprintf(os.Stderr, "gopper-simd: initialize standalone manager: %v\n", err)
		os.Exit(1)
	}

	core.SetResetHandler(func() {
		fmt.Fprintln(os.Stderr, "gopper-simd: reset requested, exiting")
		os.Exit(0)
	})
	s.Hooks.RegisterTask(core.CheckPendingReset)

	// Protocol commands arrive on the reader goroutine below; queue their
	// raw bytes and drain/dispatch them here, on the same goroutine that
	// runs s.Main's task loop, so core.DispatchCommand (AddTimer/DelTimer,
	// emergency_stop's scheduler-shutdown panic) never races the dispatch
	// loop and a shutdown panic always unwinds to runOnce's recover.
	protoQueue := &byteQueue{}
	protoInput := protocol.NewFifoBuffer(1024)
	var protoConnEpoch int32
	var lastProtoConnEpoch int32
	s.Hooks.RegisterTask(func() {
		// A new connection bumps protoConnEpoch (see acceptLoop); catching
		// that here, on the same goroutine that owns protoInput, discards
		// whatever partial frame the previous connection left behind
		// instead of feeding its leftover bytes into the new connection's
		// stream.
		if e := atomic.LoadInt32(&protoConnEpoch); e != lastProtoConnEpoch {
			lastProtoConnEpoch = e
			protoQueue.drain()
			protoInput.Reset()
			transport.Reset()
		}
		for _, chunk := range protoQueue.drain() {
			protoInput.Write(chunk)
			transport.Receive(protoInput)
		}
	})

	// G-code bytes get the same treatment: queued by the reader goroutine,
	// fed to the interpreter/planner/kinematics/stepgen chain here, so a
	// queued move's AddTimer calls land on the scheduler's own goroutine
	// too.
	gcodeQueue := &byteQueue{}
	gcodeHolder := &connHolder{}
	var gcodeConnEpoch int32
	var lastGcodeConnEpoch int32
	s.Hooks.RegisterTask(func() {
		// mgr.Start (and its "ready" banner) also runs here rather than in
		// acceptLoop, same reasoning as the protocol epoch check above:
		// mgr's buffers are only ever touched from this goroutine.
		if e := atomic.LoadInt32(&gcodeConnEpoch); e != lastGcodeConnEpoch {
			lastGcodeConnEpoch = e
			_ = mgr.Start()
		}
		for _, chunk := range gcodeQueue.drain() {
			for _, b := range chunk {
				if err := mgr.ProcessByte(b); err != nil {
					mgr.SendResponse(fmt.Sprintf("!! %v\n", err))
				}
			}
		}
		if out := mgr.GetOutput(); len(out) > 0 {
			gcodeHolder.write(out)
		}
	})

	socketPath := cfg.SerialDevice()
	_ = os.Remove(socketPath)
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gopper-simd: listen on %s: %v\n", socketPath, err)
		os.Exit(1)
	}
	defer listener.Close()
	fmt.Printf("gopper-simd: listening on %s\n", socketPath)

	gcodeSocketPath := cfg.GcodeDevice()
	_ = os.Remove(gcodeSocketPath)
	gcodeListener, err := net.Listen("unix", gcodeSocketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gopper-simd: listen on %s: %v\n", gcodeSocketPath, err)
		os.Exit(1)
	}
	defer gcodeListener.Close()
	fmt.Printf("gopper-simd: g-code listening on %s\n", gcodeSocketPath)

	go acceptLoop(listener, holder, protoQueue, &protoConnEpoch, s.Runner.WakeTasksAsync)
	go acceptLoop(gcodeListener, gcodeHolder, gcodeQueue, &gcodeConnEpoch, s.Runner.WakeTasksAsync)

	s.Main(func() { s.Hooks.RunTaskFuncs() })
}

// acceptLoop accepts one client connection at a time on listener, the
// way a real MCU's single USB CDC endpoint only ever has one host
// attached; a new connection replaces the previous one. Bumping
// connEpoch tells the corresponding draining task hook (registered
// separately for the protocol and g-code sockets in main) to discard
// whatever the previous connection left half-framed -- the only state
// this function itself owns is which net.Conn is current.
func acceptLoop(listener net.Listener, holder *connHolder, queue *byteQueue, connEpoch *int32, wake func()) {
	for {
		c, err := listener.Accept()
		if err != nil {
			return
		}
		holder.set(c)
		atomic.AddInt32(connEpoch, 1)
		wake()
		readLoop(c, queue, wake)
	}
}

// readLoop pushes bytes read from conn onto queue and wakes the task
// loop to drain them, until the connection closes. Mirrors
// targets/rp2040's usbReaderLoop/inputBuffer.Write pattern, but handing
// the bytes off through queue instead of processing them inline, since
// this goroutine must never touch scheduler or manager state directly.
func readLoop(conn net.Conn, queue *byteQueue, wake func()) {
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			queue.push(buf[:n])
			wake()
		}
		if err != nil {
			conn.Close()
			return
		}
	}
}

// flushTransport writes the scratch output buffer to the current
// connection (if any) and resets it, the way targets/rp2040's
// writeUSB/FlushCallback pair does for a real USB endpoint.
func flushTransport(out *protocol.ScratchOutput, holder *connHolder) {
	result := out.Result()
	if len(result) == 0 {
		return
	}
	holder.write(result)
	out.Reset()
}
