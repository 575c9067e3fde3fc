// Package core wires every layer of the daemon together: it loads the
// configuration, builds the shared buffer pool, facades, and dispatcher,
// registers the four ONVIF services, and runs the WS-Discovery responder
// and connection acceptor until told to stop.
package core

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	"github.com/ocamdaemon/onvifd/internal/acceptor"
	"github.com/ocamdaemon/onvifd/internal/auth"
	"github.com/ocamdaemon/onvifd/internal/bufferpool"
	"github.com/ocamdaemon/onvifd/internal/conf"
	"github.com/ocamdaemon/onvifd/internal/confwatcher"
	"github.com/ocamdaemon/onvifd/internal/dispatcher"
	"github.com/ocamdaemon/onvifd/internal/hwfacade"
	"github.com/ocamdaemon/onvifd/internal/logger"
	"github.com/ocamdaemon/onvifd/internal/responsebuilder"
	"github.com/ocamdaemon/onvifd/internal/services/device"
	"github.com/ocamdaemon/onvifd/internal/services/imaging"
	"github.com/ocamdaemon/onvifd/internal/services/media"
	"github.com/ocamdaemon/onvifd/internal/services/ptz"
	"github.com/ocamdaemon/onvifd/internal/stats"
	"github.com/ocamdaemon/onvifd/internal/streamfacade"
	"github.com/ocamdaemon/onvifd/internal/wsdiscovery"
)

var version = "v0.0.0"

var defaultConfPaths = []string{
	"onvifd.toml",
	"/usr/local/etc/onvifd.toml",
	"/etc/onvifd/onvifd.toml",
}

// rtspPort is fixed: the streaming engine itself is out of scope (spec
// §6.3), the daemon only ever advertises a URI pointing at it.
const rtspPort = 554

var cli struct {
	Version  bool   `help:"print version"`
	Confpath string `arg:"" default:""`
}

// Core is the running daemon: one process, one Core.
type Core struct {
	ctx       context.Context
	ctxCancel func()

	confPath string
	conf     *conf.Conf
	logger   *logger.Logger
	stats    *stats.Stats

	pool     *bufferpool.Pool
	hw       hwfacade.Facade
	streams  streamfacade.Facade
	gate     *auth.Gate
	registry *dispatcher.Registry

	discovery   *wsdiscovery.Responder
	acceptor    *acceptor.Acceptor
	confWatcher *confwatcher.ConfWatcher

	done chan struct{}
}

// New loads the configuration at confPath (or the first existing default
// path when confPath is empty), wires every layer, and starts serving in
// the background. It returns (nil, false) on any startup failure.
func New(args []string) (*Core, bool) {
	parser, err := kong.New(&cli, kong.Description("onvifd "+version), kong.UsageOnError())
	if err != nil {
		panic(err)
	}
	if _, err := parser.Parse(args); err != nil {
		parser.FatalIfErrorf(err)
	}
	if cli.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Core{
		ctx:       ctx,
		ctxCancel: cancel,
		done:      make(chan struct{}),
	}

	c.conf, c.confPath, err = conf.Load(cli.Confpath, defaultConfPaths)
	if err != nil {
		fmt.Printf("ERR: %s\n", err)
		cancel()
		return nil, false
	}

	if err := c.createResources(); err != nil {
		if c.logger != nil {
			c.Log(logger.Error, "%s", err)
		} else {
			fmt.Printf("ERR: %s\n", err)
		}
		c.closeResources()
		cancel()
		return nil, false
	}

	go c.run()

	return c, true
}

// Close stops the daemon and waits for every task to return.
func (c *Core) Close() {
	c.ctxCancel()
	<-c.done
}

// Wait blocks until the daemon exits on its own (signal or fatal error).
func (c *Core) Wait() {
	<-c.done
}

// Log implements logger.Writer.
func (c *Core) Log(level logger.Level, format string, args ...interface{}) {
	c.logger.Log(level, format, args...)
}

func (c *Core) createResources() error {
	var err error
	c.logger, err = logger.New(c.conf.LogLevel, c.conf.LogDestinations, c.conf.LogFile, c.conf.LogJSON)
	if err != nil {
		return err
	}

	if c.confPath != "" {
		a, _ := filepath.Abs(c.confPath)
		c.Log(logger.Info, "onvifd %s, configuration loaded from %s", version, a)
	} else {
		list := make([]string, len(defaultConfPaths))
		for i, pa := range defaultConfPaths {
			a, _ := filepath.Abs(pa)
			list[i] = a
		}
		c.Log(logger.Warn, "onvifd %s, configuration file not found (looked in %s), using defaults",
			version, strings.Join(list, ", "))
	}

	if c.confPath != "" {
		w, err := confwatcher.New(c.confPath)
		if err != nil {
			c.Log(logger.Warn, "configuration watcher disabled: %s", err)
		} else {
			c.confWatcher = w
		}
	}

	c.stats = stats.New()
	c.pool = bufferpool.New(bufferpool.DefaultSlotCount, bufferpool.DefaultBufferSize)
	c.hw = hwfacade.NewSimulator()

	snap := c.conf.Snapshot()
	c.streams = streamfacade.NewURIBuilder(snap.Network.DeviceIP, rtspPort, snap.OnvifHTTPPort)
	c.gate = auth.NewGate(c.conf)
	c.registry = dispatcher.New()

	if err := c.registerServices(); err != nil {
		return err
	}

	identityFn := func() wsdiscovery.EndpointIdentity {
		snap := c.conf.Snapshot()
		return wsdiscovery.NewEndpointIdentity(snap.Network.DeviceIP, snap.OnvifHTTPPort, snap.Scopes.Name, snap.Scopes.Location)
	}
	c.discovery = wsdiscovery.New(c.logger.Tagged("wsdiscovery", ""), identityFn)

	builder := responsebuilder.New(c.pool)
	addr := fmt.Sprintf(":%d", snap.OnvifHTTPPort)
	c.acceptor = acceptor.New(addr, c.registry, c.gate, builder, c.stats, c.logger.Tagged("acceptor", ""))

	return nil
}

func (c *Core) registerServices() error {
	deviceHandler := device.New(c.conf, c.registry, c.reboot, c.gate)
	if err := c.registry.RegisterService(dispatcher.Registration{
		ServiceName:         "device",
		NamespaceURI:        device.Namespace,
		OperationHandler:    deviceHandler,
		CapabilitiesBuilder: deviceHandler.Capabilities,
	}); err != nil {
		return err
	}

	mediaHandler := media.New(c.conf, c.streams)
	if err := c.registry.RegisterService(dispatcher.Registration{
		ServiceName:         "media",
		NamespaceURI:        media.Namespace,
		OperationHandler:    mediaHandler,
		CapabilitiesBuilder: mediaHandler.Capabilities,
	}); err != nil {
		return err
	}

	imagingHandler := imaging.New(c.conf, c.hw, c.stats)
	if err := c.registry.RegisterService(dispatcher.Registration{
		ServiceName:         "imaging",
		NamespaceURI:        imaging.Namespace,
		OperationHandler:    imagingHandler,
		CapabilitiesBuilder: imagingHandler.Capabilities,
	}); err != nil {
		return err
	}

	ptzHandler := ptz.New(c.conf, c.hw)
	if err := c.registry.RegisterService(dispatcher.Registration{
		ServiceName:         "ptz",
		NamespaceURI:        ptz.Namespace,
		OperationHandler:    ptzHandler,
		CapabilitiesBuilder: ptzHandler.Capabilities,
	}); err != nil {
		return err
	}

	return nil
}

// reboot is passed to the Device service as its Rebooter; the daemon has
// no system-level reboot facility of its own to exercise here, so it logs
// the request and exits, letting the host's process supervisor restart it.
func (c *Core) reboot() error {
	c.Log(logger.Info, "reboot requested via SystemReboot, exiting for supervisor restart")
	c.ctxCancel()
	return nil
}

func (c *Core) run() {
	defer close(c.done)

	group, gctx := errgroup.WithContext(c.ctx)
	group.Go(func() error {
		return c.discovery.Run(gctx)
	})
	group.Go(func() error {
		return c.acceptor.Run(gctx)
	})

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	var watch chan struct{}
	if c.confWatcher != nil {
		watch = c.confWatcher.Watch()
	}

loop:
	for {
		select {
		case <-interrupt:
			c.Log(logger.Info, "shutting down gracefully")
			break loop
		case <-c.ctx.Done():
			break loop
		case <-watch:
			if err := c.conf.ReloadFromDisk(); err != nil {
				c.Log(logger.Warn, "configuration reload failed: %s", err)
			} else {
				c.gate.Reload(c.conf)
				c.Log(logger.Info, "configuration reloaded from %s", c.confPath)
			}
		}
	}

	c.ctxCancel()

	doneCh := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		c.Log(logger.Warn, "shutdown timed out after 5s, exiting anyway")
	}

	c.closeResources()
}

func (c *Core) closeResources() {
	if c.confWatcher != nil {
		c.confWatcher.Close()
	}
	if c.registry != nil {
		c.registry.Cleanup()
	}
	if c.stats != nil {
		c.stats.Close()
	}
	if c.logger != nil {
		c.logger.Close()
	}
}
