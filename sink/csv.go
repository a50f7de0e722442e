package sink

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/LdDl/attendance-go/attendance"
	"github.com/pkg/errors"
)

// RunStampLayout is used to build per-run file names
const RunStampLayout = "20060102_150405"

// LogPath returns per-run attendance log path: <dir>/attendance_log_<stamp>.csv
func LogPath(dir string, started time.Time) string {
	return filepath.Join(dir, "attendance_log_"+started.Format(RunStampLayout)+".csv")
}

// CSV appends attendance rows to a CSV file. File (and its directory) is created on
// the first flushed window; header is written only when the file is created.
type CSV struct {
	path       string
	labeler    attendance.Labeler
	namePrefix string
	file       io.WriteCloser
	writer     *csv.Writer
}

// openLogFile opens attendance log for appending
var openLogFile = func(path string) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// NewCSV creates CSV sink. Nothing is touched on disk until the first window.
func NewCSV(path string, labeler attendance.Labeler, namePrefix string) *CSV {
	return &CSV{
		path:       path,
		labeler:    labeler,
		namePrefix: namePrefix,
	}
}

// Path returns log file path
func (sink *CSV) Path() string {
	return sink.path
}

func (sink *CSV) open() error {
	if err := os.MkdirAll(filepath.Dir(sink.path), 0o755); err != nil {
		return errors.Wrap(err, "Can't create attendance directory")
	}
	writeHeader := false
	if _, err := os.Stat(sink.path); os.IsNotExist(err) {
		writeHeader = true
	}
	file, err := openLogFile(sink.path)
	if err != nil {
		return errors.Wrap(err, "Can't open attendance log")
	}
	writer := csv.NewWriter(file)
	if writeHeader {
		writer.Write(attendance.Header)
		writer.Flush()
		if err := writer.Error(); err != nil {
			// Retry has to start from a fresh file
			file.Close()
			os.Remove(sink.path)
			return errors.Wrap(err, "Can't write attendance header")
		}
	}
	sink.file = file
	sink.writer = writer
	return nil
}

// WriteWindow appends one row per present identity. Empty window writes nothing
// but still creates the file.
func (sink *CSV) WriteWindow(ev attendance.FlushEvent) error {
	if sink.file == nil {
		if err := sink.open(); err != nil {
			return err
		}
	}
	for _, row := range attendance.Rows(ev, sink.labeler, sink.namePrefix) {
		if err := sink.writer.Write(row.Strings()); err != nil {
			return errors.Wrap(err, "Can't write attendance row")
		}
	}
	sink.writer.Flush()
	return errors.Wrap(sink.writer.Error(), "Can't flush attendance log")
}

// Close closes the underlying file if it was opened
func (sink *CSV) Close() error {
	if sink.file == nil {
		return nil
	}
	sink.writer.Flush()
	werr := sink.writer.Error()
	err := sink.file.Close()
	sink.file = nil
	if werr != nil {
		return errors.Wrap(werr, "Can't flush attendance log")
	}
	return errors.Wrap(err, "Can't close attendance log")
}

// ReadCSV reads attendance rows back from the log (header excluded)
func ReadCSV(path string) ([]attendance.Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open attendance log")
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "Can't parse attendance log")
	}
	rows := make([]attendance.Row, 0, len(records))
	for i, record := range records {
		if i == 0 && len(record) == 3 && record[0] == attendance.Header[0] {
			continue
		}
		if len(record) != 3 {
			return nil, errors.Errorf("Wrong number of columns on line %d: %d", i+1, len(record))
		}
		rows = append(rows, attendance.Row{Window: record[0], Name: record[1], Status: record[2]})
	}
	return rows, nil
}
