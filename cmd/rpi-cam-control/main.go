// rpi-cam-control captures hardware-encoded video and streams it over RTP,
// with an HTTP control surface for property introspection and staged
// reconfiguration. Staged changes apply on SIGHUP, which restarts the
// capture session without restarting the process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	rpicam "github.com/aDifferentJT/rpi-cam-control"
	"github.com/aDifferentJT/rpi-cam-control/ctlserver"
	"github.com/aDifferentJT/rpi-cam-control/gstout"
	"github.com/aDifferentJT/rpi-cam-control/hw/simhw"
	"github.com/aDifferentJT/rpi-cam-control/transport"
)

var (
	version = "0.1.0"
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "rpi-cam-control",
	Short: "Raspberry Pi camera capture and streaming daemon",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start capturing and streaming",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump-config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig()
		if err != nil {
			return err
		}
		return cfg.Dump(os.Stdout)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rpi-cam-control v%s\n", version)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (YAML)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging and a config dump at startup")

	pf.Int("camera", 0, "camera number")
	pf.Int("mode", 0, "sensor mode, 0 = auto")
	pf.IntP("width", "w", 1920, "capture width")
	pf.Int("height", 1080, "capture height")
	pf.Int("framerate", 30, "frames per second")
	pf.IntP("bitrate", "b", 17_000_000, "target bitrate, 0 = variable rate with --qp")
	pf.String("codec", "h264", "output codec: h264 or mjpeg")
	pf.String("profile", "high", "H.264 profile: baseline, main, high")
	pf.String("level", "4", "H.264 level: 4, 4.1, 4.2")
	pf.Int("qp", 0, "fixed quantization parameter, 0 = off")
	pf.IntP("intra", "g", -1, "key frame interval in frames, -1 = firmware default")
	pf.String("irefresh", "none", "intra refresh mode: none, cyclic, adaptive, both, cyclicrows")
	pf.Bool("inline", false, "repeat stream headers at every key frame")
	pf.Bool("spstimings", false, "add timing metadata to stream headers")
	pf.Int("slices", 1, "slices per frame")
	pf.String("stereo", "none", "stereo mode: none, side-by-side, top-bottom")

	for flag, key := range map[string]string{
		"camera":     "camera_num",
		"mode":       "sensor_mode",
		"width":      "width",
		"height":     "height",
		"framerate":  "framerate",
		"bitrate":    "bitrate",
		"codec":      "codec",
		"profile":    "profile",
		"level":      "level",
		"qp":         "quantization",
		"intra":      "intra_period",
		"irefresh":   "intra_refresh",
		"inline":     "inline_headers",
		"spstimings": "sps_timings",
		"slices":     "slices",
		"stereo":     "stereo_mode",
	} {
		if err := viper.BindPFlag(key, pf.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rf := runCmd.Flags()
	rf.Bool("simulate", false, "run against the simulated runtime instead of camera hardware")
	rf.String("transport", "rtp", "output transport: rtp, gst, none")
	rf.String("host", "127.0.0.1", "RTP receiver host")
	rf.Int("port", 5004, "RTP receiver port")
	rf.Int("mtu", 1200, "RTP packet size bound")
	rf.String("ctl-host", "", "control server bind host")
	rf.Int("ctl-port", 9001, "control server port")
	for _, name := range []string{"simulate", "transport", "host", "port", "mtu", "ctl-host", "ctl-port"} {
		if err := viper.BindPFlag(strings.ReplaceAll(name, "-", "_"), rf.Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("RPICAM")
	viper.AutomaticEnv()

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfig layers the config file under flag and environment values
// and validates the result.
func resolveConfig() (rpicam.Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return rpicam.Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	cfg := rpicam.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return rpicam.Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return rpicam.Config{}, err
	}
	return cfg, nil
}

// statsProxy lets the control server follow the current camera across
// SIGHUP restarts.
type statsProxy struct {
	mu  sync.Mutex
	cam *rpicam.Camera
}

func (p *statsProxy) set(cam *rpicam.Camera) {
	p.mu.Lock()
	p.cam = cam
	p.mu.Unlock()
}

func (p *statsProxy) Stats() rpicam.Stats {
	p.mu.Lock()
	cam := p.cam
	p.mu.Unlock()
	if cam == nil {
		return rpicam.Stats{}
	}
	return cam.Stats()
}

func runDaemon() error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	if verbose {
		fmt.Fprintln(os.Stderr, "effective configuration:")
		if err := cfg.Dump(os.Stderr); err != nil {
			return err
		}
	}

	if !viper.GetBool("simulate") {
		return errors.New("this build has no firmware runtime linked; run with --simulate")
	}
	rt := simhw.New()

	proxy := &statsProxy{}
	ctl := ctlserver.New(ctlserver.Config{
		Host:    viper.GetString("ctl_host"),
		Port:    viper.GetInt("ctl_port"),
		Initial: cfg,
		Source:  proxy,
	})
	go func() {
		if err := ctl.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("main: control server exited", "error", err)
		}
	}()
	defer ctl.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		cam, err := rpicam.NewCamera(cfg, rt)
		if err != nil {
			return err
		}
		proxy.set(cam)

		if err := cam.Start(); err != nil {
			return err
		}
		slog.Info("main: capture session started",
			"width", cfg.Width, "height", cfg.Height, "fps", cfg.Framerate,
			"codec", string(cfg.Codec))

		pumpDone := make(chan error, 1)
		go func() {
			pumpDone <- pump(cam, cfg)
		}()

		select {
		case sig := <-sigCh:
			if stopErr := cam.Stop(); stopErr != nil {
				slog.Error("main: stop failed", "error", stopErr)
			}
			if pumpErr := <-pumpDone; pumpErr != nil {
				slog.Error("main: output pump failed", "error", pumpErr)
			}
			if sig == syscall.SIGHUP {
				// Apply the configuration staged over HTTP and start over.
				cfg = ctl.Staged()
				slog.Info("main: restarting with staged configuration")
				continue
			}
			slog.Info("main: shutting down", "signal", sig.String())
			return nil

		case pumpErr := <-pumpDone:
			if stopErr := cam.Stop(); stopErr != nil {
				slog.Error("main: stop failed", "error", stopErr)
			}
			return pumpErr
		}
	}
}

// pump moves frames from the camera into the selected output until the
// stream closes.
func pump(cam *rpicam.Camera, cfg rpicam.Config) error {
	switch t := viper.GetString("transport"); t {
	case "rtp":
		sender, err := transport.NewSender(transport.Config{
			Host:      viper.GetString("host"),
			Port:      viper.GetInt("port"),
			Codec:     cfg.Codec,
			Framerate: cfg.Framerate,
			MTU:       viper.GetInt("mtu"),
		})
		if err != nil {
			return err
		}
		defer sender.Close()
		return sender.Run(context.Background(), cam)

	case "gst":
		out, err := gstout.New(gstout.Config{
			Codec: cfg.Codec,
			Host:  viper.GetString("host"),
			Port:  viper.GetInt("port"),
		})
		if err != nil {
			return err
		}
		defer out.Close()
		if err := out.Start(); err != nil {
			return err
		}
		return out.Run(context.Background(), cam)

	case "none":
		for {
			f, err := cam.NextFrame()
			if errors.Is(err, rpicam.ErrStreamClosed) {
				return nil
			}
			if err != nil {
				return err
			}
			slog.Debug("main: frame discarded, no transport",
				"seq", f.Seq, "size_bytes", len(f.Data))
		}

	default:
		return fmt.Errorf("unknown transport %q", t)
	}
}
