package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/SnapGo/internal/config"
	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/hw/camera"
	"github.com/cjeanneret/SnapGo/internal/hw/gpio"
	"github.com/cjeanneret/SnapGo/internal/logic/capture"
	"github.com/cjeanneret/SnapGo/internal/output"
	"github.com/cjeanneret/SnapGo/internal/web"
)

// How long a headless capture waits for the first frame.
const (
	frameWait     = 2 * time.Second
	frameWaitStep = 50 * time.Millisecond
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for the configured port (default 8080), -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	outDir := flag.String("out", "", "directory for saved images (default: output.dir from config)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", debug.Level())
	debug.Value("Output dir", cfg.Output.Dir)

	// Initialize camera
	debug.Step(1, "Initializing camera")
	cam, err := newCameraFromConfig(cfg)
	if err != nil {
		log.Fatalf("init camera failed: %v", err)
	}
	debug.Value("Camera driver", cfg.Camera.Driver)
	debug.Value("Preferred facing", cfg.Camera.PreferredFacing)
	debug.PrintStruct("Camera config", cfg.Camera)
	facing := camera.FacingMode(cfg.Camera.PreferredFacing)

	port := webPort.port()
	if webPort.fromDefault && cfg.Web.Port > 0 {
		port = cfg.Web.Port
	}
	hasButton := cfg.GPIO != nil && cfg.GPIO.ButtonPin > 0

	if port == 0 && !hasButton {
		// One-shot: start, capture, save, stop.
		notifier := capture.NotifierFunc(func(n capture.Notification) {
			log.Printf("%s: %s", n.Title, n.Message)
		})
		ctrl := capture.NewController(cam, notifier, facing)
		sink, err := output.NewDirSink(cfg.Output.Dir, false)
		if err != nil {
			log.Fatalf("init output failed: %v", err)
		}
		if err := runHeadless(ctx, ctrl, sink); err != nil {
			log.Fatalf("capture failed: %v", err)
		}
		return
	}

	if err := serve(ctx, cfg, cam, facing, port); err != nil {
		log.Fatalf("snapgo: %v", err)
	}
}

// serve runs the web server and/or the shutter button until ctx is done.
// The camera is released before returning.
func serve(ctx context.Context, cfg *config.Config, cam camera.Camera, facing camera.FacingMode, port int) error {
	broadcaster := web.NewStatusBroadcaster()
	if port > 0 {
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	}
	g, gctx := errgroup.WithContext(ctx)

	var gpioDriver gpio.Driver
	var led *gpio.LED
	if cfg.GPIO != nil {
		debug.Step(2, "Initializing GPIO")
		debug.PrintStruct("GPIO config", *cfg.GPIO)
		var err error
		gpioDriver, err = gpio.NewDriver(cfg.GPIO.Mock)
		if err != nil {
			return fmt.Errorf("init GPIO: %w", err)
		}
		defer func() {
			if err := gpioDriver.Close(); err != nil {
				log.Printf("closing GPIO driver failed: %v", err)
			}
		}()
		if cfg.GPIO.LEDPin > 0 {
			if led, err = gpio.NewLED(gpioDriver, cfg.GPIO.LEDPin); err != nil {
				return err
			}
		}
	}

	// Fully wired before any goroutine can reach it.
	ctrl := newSessionController(cam, facing, broadcaster, led)

	if cfg.GPIO != nil && cfg.GPIO.ButtonPin > 0 {
		button, err := gpio.NewButton(gpioDriver, cfg.GPIO.ButtonPin, cfg.ButtonPoll(), cfg.ButtonDebounce())
		if err != nil {
			return err
		}
		sink, err := output.NewDirSink(cfg.Output.Dir, true)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return button.Watch(gctx, func() { handleButtonPress(gctx, ctrl, sink) })
		})
	}

	if port > 0 {
		debug.Step(3, "Starting web server")
		srv := web.NewServer(fmt.Sprintf(":%d", port), broadcaster, ctrl,
			web.UIConfig{
				PreferredFacing: cfg.Camera.PreferredFacing,
				PreviewFPS:      cfg.Web.PreviewFPS,
				Filename:        capture.DefaultFilename,
			},
			web.PreviewConfig{
				Interval:    cfg.PreviewInterval(),
				MaxWidth:    cfg.Web.PreviewWidth,
				JPEGQuality: cfg.Web.JPEGQuality,
			})
		g.Go(func() error { return srv.Run(gctx) })
	}

	err := g.Wait()
	debug.Section("Shutdown")
	if stopErr := ctrl.Stop(); stopErr != nil {
		err = errors.Join(err, stopErr)
	}
	return err
}

// newSessionController returns a controller that notifies through the
// broadcaster and mirrors the Live state on led (which may be nil).
func newSessionController(cam camera.Camera, facing camera.FacingMode, broadcaster *web.StatusBroadcaster, led *gpio.LED) *capture.Controller {
	ctrl := capture.NewController(cam, broadcaster, facing)
	ctrl.OnChange = func(st capture.State) {
		broadcaster.PublishState(st)
		if led != nil {
			if err := led.Set(st.Mode == capture.Live); err != nil {
				debug.Error(err)
			}
		}
	}
	return ctrl
}

// runHeadless performs one start, capture, save and stop cycle.
func runHeadless(ctx context.Context, ctrl *capture.Controller, sink capture.Sink) error {
	debug.Section("Headless capture")
	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	deadline := time.Now().Add(frameWait)
	img, err := ctrl.Capture()
	for errors.Is(err, capture.ErrNoFrame) && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(frameWaitStep):
			img, err = ctrl.Capture()
		}
	}
	if err == nil && img == nil {
		err = errors.New("camera stopped before capture")
	}
	if err == nil {
		err = ctrl.Download(sink)
	}
	if stopErr := ctrl.Stop(); stopErr != nil {
		err = errors.Join(err, stopErr)
	}
	if err != nil {
		return err
	}

	debug.Summary("Capture Summary")
	debug.Image(img.Width, img.Height, len(img.PNG))
	return nil
}

// handleButtonPress starts the camera when idle, otherwise captures and
// saves a frame.
func handleButtonPress(ctx context.Context, ctrl *capture.Controller, sink capture.Sink) {
	if ctrl.State().Mode == capture.Idle {
		if err := ctrl.Start(ctx); err != nil {
			debug.Error(err)
		}
		return
	}
	img, err := ctrl.Capture()
	if err != nil {
		debug.Error(err)
		return
	}
	if img == nil {
		// Stopped between the state check and the capture.
		return
	}
	if err := ctrl.Download(sink); err != nil {
		debug.Error(err)
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= → default port, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
	fromDefault bool
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		w.fromDefault = true
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	w.fromDefault = false
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(cfg *config.Config) (camera.Camera, error) {
	switch cfg.Camera.Driver {
	case "mock":
		return camera.NewMock(cfg.Camera.WidthPx, cfg.Camera.HeightPx, cfg.Camera.MockDeny), nil
	case "gocv":
		return newGocvCamera(cfg)
	default:
		return nil, fmt.Errorf("unsupported camera driver: %s", cfg.Camera.Driver)
	}
}

// cameraDevices converts configured devices for the camera drivers.
func cameraDevices(cfg *config.Config) []camera.Device {
	devices := make([]camera.Device, 0, len(cfg.Camera.Devices))
	for _, d := range cfg.Camera.Devices {
		devices = append(devices, camera.Device{
			ID:     d.ID,
			Facing: camera.FacingMode(d.Facing),
			Label:  d.Label,
		})
	}
	return devices
}
