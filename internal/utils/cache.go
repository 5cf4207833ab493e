package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/getsentry/sentry-go"
	"livemap.onebusaway.org/internal/report"
)

// EnsureParentDirectory makes sure the directory that will hold path exists,
// creating it if necessary. Used before opening file-backed stores.
func EnsureParentDirectory(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}

	stat, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				report.ReportErrorWithSentryOptions(err, report.SentryReportOptions{
					Level: sentry.LevelError,
					ExtraContext: map[string]interface{}{
						"dir": dir,
					},
				})
				return err
			}
			return nil
		}
		return err
	}
	if !stat.IsDir() {
		err := fmt.Errorf("%s is not a directory", dir)
		report.ReportErrorWithSentryOptions(err, report.SentryReportOptions{
			Level: sentry.LevelError,
			ExtraContext: map[string]interface{}{
				"dir": dir,
			},
		})
		return err
	}
	return nil
}
