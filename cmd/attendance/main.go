package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LdDl/attendance-go/attendance"
	"github.com/LdDl/attendance-go/config"
	"github.com/LdDl/attendance-go/mot"
	"github.com/LdDl/attendance-go/sink"
	"github.com/LdDl/attendance-go/video"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

var (
	input         = flag.String("input", "", "Video file (or device) to process")
	configFile    = flag.String("config", "", "Path to TOML configuration file")
	windowSeconds = flag.Float64("window-seconds", attendance.DefaultWindowSeconds, "Duration of attendance window in video seconds")
	iouThresh     = flag.Float64("iou-thresh", mot.DefaultIoUThreshold, "Minimum IoU to match detection with a track")
	maxMissed     = flag.Int("max-missed", mot.DefaultMaxMissed, "Consecutive missed frames before a track is dropped")
	fpsFallback   = flag.Float64("fps-fallback", attendance.DefaultFPSFallback, "Frame rate used when video reports none")
	confThreshold = flag.Float64("conf-threshold", config.DefaultConfThreshold, "Face detector confidence threshold")
	modelFile     = flag.String("model", config.DefaultModelFile, "Caffe model weights")
	protoFile     = flag.String("proto", config.DefaultProtoFile, "Caffe model definition")
	attendanceDir = flag.String("attendance-dir", config.DefaultAttendanceDir, "Directory for CSV attendance logs")
	videoDir      = flag.String("video-dir", config.DefaultVideoDir, "Directory for annotated videos")
	sqlitePath    = flag.String("sqlite", "", "Optional SQLite database to store attendance in")
	noVideo       = flag.Bool("no-video", false, "Do not write annotated video")
	logLevel      = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logJSON       = flag.Bool("log-json", false, "Log in JSON format")
	listRun       = flag.String("list-run", "", "Print attendance of the given run id stored in SQLite database and exit")
	listLog       = flag.String("list-log", "", "Print attendance rows of the given CSV log and exit")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatalf("Bad log level: %v", err)
	}
	logger.SetLevel(level)
	if *logJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatalf("Can't load configuration: %v", err)
	}

	if *listRun != "" || *listLog != "" {
		if err := list(os.Stdout, cfg, logger); err != nil {
			logger.Fatalf("Can't list attendance: %v", err)
		}
		return
	}

	if *input == "" {
		logger.Fatal("Input video is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		if errors.Is(err, attendance.ErrSourceOpen) {
			logger.Errorf("Failed to open video: %v", err)
			stop()
			os.Exit(2)
		}
		logger.Errorf("Processing failed: %v", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig merges defaults, configuration file and explicitly set flags (in that order)
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		fileCfg, err := config.Load(*configFile)
		if err != nil {
			return nil, err
		}
		cfg.Merge(fileCfg)
	}
	overrides := &config.Config{}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "window-seconds":
			overrides.WindowSeconds = windowSeconds
		case "iou-thresh":
			overrides.IoUThreshold = iouThresh
		case "max-missed":
			overrides.MaxMissed = maxMissed
		case "fps-fallback":
			overrides.FPSFallback = fpsFallback
		case "conf-threshold":
			overrides.ConfThreshold = confThreshold
		case "model":
			overrides.ModelFile = modelFile
		case "proto":
			overrides.ProtoFile = protoFile
		case "attendance-dir":
			overrides.AttendanceDir = attendanceDir
		case "video-dir":
			overrides.VideoDir = videoDir
		case "sqlite":
			overrides.SQLitePath = sqlitePath
		}
	})
	cfg.Merge(overrides)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Invalid configuration")
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	started := time.Now()
	runID := uuid.New()
	log := logger.WithFields(logrus.Fields{
		"run_id": runID.String(),
		"input":  *input,
	})

	capture, err := video.OpenCapture(*input, cfg.GetFrameWidth(), cfg.GetFrameHeight())
	if err != nil {
		return err
	}
	// Everything below owns the capture through Processor.Run
	open := func() (attendance.FrameSource[gocv.Mat], error) {
		return capture, nil
	}

	detector, err := video.NewDNNDetector(cfg.GetProtoFile(), cfg.GetModelFile(), cfg.GetConfThreshold())
	if err != nil {
		capture.Close()
		return err
	}
	defer detector.Close()

	labeler := attendance.NewLabeler(started)
	csvLog := sink.NewCSV(sink.LogPath(cfg.GetAttendanceDir(), started), labeler, cfg.GetNamePrefix())
	events := sink.Multi{csvLog}
	if path := cfg.GetSQLitePath(); path != "" {
		db, err := sink.OpenSQLite(path, runID, *input, labeler, cfg.GetNamePrefix(), log)
		if err != nil {
			capture.Close()
			return err
		}
		events = append(events, db)
	}

	processor := attendance.NewProcessor[gocv.Mat](detector, events, cfg.ProcessorOptions(log))

	videoPath := ""
	if !*noVideo {
		if err := os.MkdirAll(cfg.GetVideoDir(), 0o755); err != nil {
			capture.Close()
			events.Close()
			return errors.Wrap(err, "Can't create video directory")
		}
		fps := attendance.NewTimebase(capture.FPS(), cfg.GetFPSFallback()).FPS()
		videoPath = video.OutputPath(cfg.GetVideoDir(), started)
		writer, err := video.NewOverlayWriter(videoPath, fps, cfg.GetFrameWidth(), cfg.GetFrameHeight(), cfg.GetNamePrefix())
		if err != nil {
			capture.Close()
			events.Close()
			return err
		}
		processor.SetFrameSink(writer)
	}

	log.WithFields(logrus.Fields{
		"reported_frames": capture.FrameCount(),
		"window_seconds":  cfg.GetWindowSeconds(),
	}).Info("processing started")

	summary, err := processor.Run(ctx, open)
	log.WithFields(logrus.Fields{
		"attendance_log":  csvLog.Path(),
		"output_video":    videoPath,
		"total_frames":    summary.TotalFrames,
		"fps":             summary.FPS,
		"fps_substituted": summary.FPSSubstituted,
		"windows":         summary.Windows,
		"identities":      summary.Identities,
		"elapsed":         time.Since(started).String(),
	}).Info("processing done")
	return err
}

// list prints stored attendance either from SQLite (by run id) or from a CSV log
func list(w io.Writer, cfg *config.Config, logger *logrus.Logger) error {
	var rows []attendance.Row
	var err error
	if *listLog != "" {
		rows, err = sink.ReadCSV(*listLog)
	} else {
		var runID uuid.UUID
		runID, err = uuid.Parse(*listRun)
		if err != nil {
			return errors.Wrap(err, "Bad run id")
		}
		path := cfg.GetSQLitePath()
		if path == "" {
			return errors.New("SQLite database is not set")
		}
		rows, err = sink.ReadPresence(path, runID, logger)
	}
	if err != nil {
		return err
	}
	return writeRows(w, rows)
}

// writeRows prints rows in attendance log format, header included
func writeRows(w io.Writer, rows []attendance.Row) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(attendance.Header); err != nil {
		return errors.Wrap(err, "Can't write header")
	}
	for _, row := range rows {
		if err := writer.Write(row.Strings()); err != nil {
			return errors.Wrap(err, "Can't write row")
		}
	}
	writer.Flush()
	return errors.Wrap(writer.Error(), "Can't flush rows")
}
